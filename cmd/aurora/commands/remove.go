package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aurora-pkg/aurora/pkg/executor"
	"github.com/aurora-pkg/aurora/pkg/scriptsandbox"
)

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>...",
		Short: "Remove installed packages",
		Long: `Remove the named packages, refusing if another installed package still
depends on them (unless --force). Owned files are backed up first and
restored if anything fails before the database commit.`,
		Args: cobra.MinimumNArgs(1),
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

			pln := a.newPlanner(nil)

			tx, err := pln.PlanRemove(ctx, args, a.cfg.Force)
			if err != nil {
				return err
			}
			if tx.IsEmpty() {
				fmt.Println("Nothing to do.")
				return nil
			}

			printTransaction(tx)
			if !confirm("Proceed with removal?") {
				fmt.Println("Aborted.")
				return nil
			}

			sandbox := scriptsandbox.New(30*time.Second, a.logger)
			exec := executor.New(a.store, sandbox, a.metrics, a.logger, a.cfg.TargetRoot, a.cfg.CachePath())
			if err := exec.Execute(ctx, tx); err != nil {
				return err
			}

			fmt.Println("Removal complete.")
			return nil
		},
	}
}
