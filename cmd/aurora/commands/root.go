package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	bootstrapRoot string
	force         bool
	skipCrypto    bool
	verbose       bool
	jsonOutput    bool
	assumeYes     bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aurora",
		Short: "Aurora - source-based package manager",
		Long: `Aurora is a transactional, source-based package manager.

Every install, removal, and update runs through a backup/journal
protocol: any failure before the database commit leaves the target
root bit-identical to its pre-transaction state.

Features:
  - Topological dependency resolution with virtual providers
  - File- and package-conflict detection before any mutation
  - Signed repository indexes with mirror fallback
  - Sandboxed package scriptlets (Starlark, no I/O capabilities)
  - Bootstrap installs into an alternate target root`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&bootstrapRoot, "bootstrap", "/", "alternate target root directory")
	rootCmd.PersistentFlags().BoolVar(&force, "force", false, "disable pre-flight refusals (conflicts, dependency violations)")
	rootCmd.PersistentFlags().BoolVar(&skipCrypto, "skip-crypto", false, "disable checksum and signature verification")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to confirmation prompts")

	// Add subcommands
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newInstallLocalCommand())
	rootCmd.AddCommand(newRemoveCommand())
	rootCmd.AddCommand(newUpdateCommand())

	return rootCmd
}
