package commands

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/aurora-pkg/aurora/pkg/archivecodec"
	"github.com/aurora-pkg/aurora/pkg/aurorerr"
	"github.com/aurora-pkg/aurora/pkg/executor"
	"github.com/aurora-pkg/aurora/pkg/integrity"
	"github.com/aurora-pkg/aurora/pkg/metadatacodec"
	"github.com/aurora-pkg/aurora/pkg/pkgdata"
	"github.com/aurora-pkg/aurora/pkg/scriptsandbox"
)

func newInstallLocalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install-local <file>...",
		Short: "Install packages from local archive files",
		Long: `Install already-present package archives without touching the resolver
or downloader. Dependency, conflict, and integrity checks still apply:
every dependency must be satisfied by an installed package, and the
archive must match the checksum declared in its own metadata.`,
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

			var tx pkgdata.Transaction
			seenRemoves := make(map[string]struct{})

			installed, err := a.store.ListInstalled(ctx)
			if err != nil {
				return err
			}

			for _, archivePath := range args {
				pkg, err := readLocalDescriptor(archivePath)
				if err != nil {
					return err
				}

				if !a.cfg.SkipCrypto {
					match, err := integrity.VerifyChecksum(archivePath, pkg.Checksum)
					if err != nil {
						return aurorerr.Wrap(aurorerr.KindChecksumMismatch,
							fmt.Sprintf("hashing %s", archivePath), err)
					}
					if !match {
						return aurorerr.New(aurorerr.KindChecksumMismatch,
							fmt.Sprintf("%s does not match its declared checksum", filepath.Base(archivePath))).
							WithResource(pkg.Name)
					}
				}

				already, err := a.store.IsInstalled(ctx, pkg.Name)
				if err != nil {
					return err
				}
				if already && !a.cfg.Force {
					return aurorerr.New(aurorerr.KindPackageAlreadyInstalled, pkg.Name).WithResource(pkg.Name)
				}

				if !a.cfg.Force {
					for _, dep := range pkg.Deps {
						if !dependencySatisfied(dep, installed) {
							return aurorerr.New(aurorerr.KindResolutionFailed,
								fmt.Sprintf("unsatisfied dependency for %s: %s", pkg.Name, dep)).WithResource(dep)
						}
					}
					for _, conflict := range pkg.Conflicts {
						conflictInstalled, err := a.store.IsInstalled(ctx, conflict)
						if err != nil {
							return err
						}
						if conflictInstalled {
							return aurorerr.New(aurorerr.KindConflictDetected,
								fmt.Sprintf("%s conflicts with installed package %s", pkg.Name, conflict))
						}
					}
				}

				for _, replaced := range pkg.Replaces {
					if _, seen := seenRemoves[replaced]; seen {
						continue
					}
					old, err := a.store.GetInstalled(ctx, replaced)
					if err != nil {
						continue
					}
					tx.ToRemove = append(tx.ToRemove, old)
					seenRemoves[replaced] = struct{}{}
				}

				tx.ToInstall = append(tx.ToInstall, pkgdata.PackageInstallation{
					Package:     pkg,
					ArchivePath: archivePath,
				})
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

// readLocalDescriptor pulls the .AURORA_META entry out of a package archive
// and parses it into a descriptor.
func readLocalDescriptor(archivePath string) (pkgdata.Package, error) {
	meta, err := archivecodec.ExtractSingle(archivePath, ".AURORA_META")
	if err != nil {
		return pkgdata.Package{}, aurorerr.Wrap(aurorerr.KindExtractionFailed,
			fmt.Sprintf("reading metadata from %s", archivePath), err)
	}

	pkg, err := metadatacodec.Parse(bytes.NewReader(meta))
	if err != nil {
		return pkgdata.Package{}, aurorerr.Wrap(aurorerr.KindResolutionFailed,
			fmt.Sprintf("parsing metadata from %s", archivePath), err)
	}
	return pkg, nil
}

// dependencySatisfied reports whether dep is met by any installed package,
// by exact name or by a provides entry.
func dependencySatisfied(dep string, installed []pkgdata.InstalledPackage) bool {
	for _, pkg := range installed {
		if pkg.ProvidesName(dep) {
			return true
		}
	}
	return false
}
