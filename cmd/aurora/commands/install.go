package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aurora-pkg/aurora/pkg/aurorerr"
	"github.com/aurora-pkg/aurora/pkg/executor"
	"github.com/aurora-pkg/aurora/pkg/scriptsandbox"
)

func newInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install <name>...",
		Short: "Install packages and their dependencies",
		Long: `Resolve the requested packages plus their transitive dependencies,
check file and package conflicts, download and verify the archives,
then execute the install transactionally.`,
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

			if !a.cfg.Force {
				for _, name := range args {
					installed, err := a.store.IsInstalled(ctx, name)
					if err != nil {
						return err
					}
					if installed {
						return aurorerr.New(aurorerr.KindPackageAlreadyInstalled, name).WithResource(name)
					}
				}
			}

			repos, err := a.newRepoManager()
			if err != nil {
				return err
			}
			if stop, err := repos.WatchForChanges(ctx); err == nil {
				defer stop()
			}

			pln := a.newPlanner(repos)

			tx, err := pln.PlanInstall(ctx, args, a.cfg.Force)
			if err != nil {
				return err
			}
			if tx.IsEmpty() {
				fmt.Println("Nothing to do.")
				return nil
			}

			printTransaction(tx)
			if !confirm("Proceed with installation?") {
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

			fmt.Println("Installation complete.")
			return nil
		},
	}
}
