package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Synchronize repository indexes",
		Long: `Download and verify the signed index of every configured repository,
then atomically replace the available-package catalog.

If any repository fails to sync, the catalog is left unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			repos, err := a.newRepoManager()
			if err != nil {
				return err
			}

			if err := repos.Sync(ctx); err != nil {
				return err
			}

			available, err := a.store.ListAvailable(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Sync complete: %d packages available.\n", len(available))
			return nil
		},
	}
}
