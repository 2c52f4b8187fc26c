package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aurora-pkg/aurora/pkg/executor"
	"github.com/aurora-pkg/aurora/pkg/scriptsandbox"
)

func newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Sync repositories and upgrade outdated packages",
		Long: `Synchronize every configured repository, then upgrade each installed
package that has a strictly newer version available, pulling in any new
dependencies the upgrades require.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.requirePrivileges(); err != nil {
				return err
			}
			if err := a.acquireLock(); err != nil {
				return err
			}

			repos, err := a.newRepoManager()
			if err != nil {
				return err
			}
			if stop, err := repos.WatchForChanges(ctx); err == nil {
				defer stop()
			}

			pln := a.newPlanner(repos)

			tx, err := pln.PlanUpdate(ctx, a.cfg.Force)
			if err != nil {
				return err
			}
			if tx.IsEmpty() {
				fmt.Println("All packages are up to date.")
				return nil
			}

			printTransaction(tx)
			if !confirm("Proceed with update?") {
				fmt.Println("Aborted.")
				return nil
			}

			if err := a.downloadArchives(ctx, repos, &tx); err != nil {
				return err
			}

			sandbox := scriptsandbox.New(30*time.Second, a.logger)
			exec := executor.New(a.store, sandbox, a.metrics, a.logger, a.cfg.TargetRoot, a.cfg.CachePath())
			if err := exec.Execute(ctx, tx); err != nil {
				return err
			}

			fmt.Println("Update complete.")
			return nil
		},
	}
}
