// Package planner turns a set of requested names into an executable
// pkgdata.Transaction, checking file and package conflicts against the
// installed set and the live filesystem before handing the plan to the
// executor.
package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/aurora-pkg/aurora/pkg/aurorerr"
	"github.com/aurora-pkg/aurora/pkg/pkgdata"
)

// Store is the subset of pkgdb.Store the planner needs.
type Store interface {
	ListInstalled(ctx context.Context) ([]pkgdata.InstalledPackage, error)
	GetInstalled(ctx context.Context, name string) (pkgdata.InstalledPackage, error)
	IsInstalled(ctx context.Context, name string) (bool, error)
	ListOwnedFiles(ctx context.Context) (map[string]string, error)
	FindAvailable(ctx context.Context, name string) (pkgdata.Package, error)
	ListAvailable(ctx context.Context) ([]pkgdata.Package, error)
}

// Resolver is the subset of resolver.Resolver the planner needs.
type Resolver interface {
	Resolve(ctx context.Context, names []string) ([]pkgdata.Package, error)
}

// RepoManager is the subset of repomanager.Manager the planner needs.
type RepoManager interface {
	Sync(ctx context.Context) error
}

// Planner produces transactions from requested package operations.
type Planner struct {
	store      Store
	resolver   Resolver
	repos      RepoManager
	targetRoot string

	// diskFree reports the free bytes on the filesystem holding path.
	// Overridable by tests; defaults to a statfs probe.
	diskFree func(path string) (int64, error)
}

// New creates a Planner. targetRoot is the filesystem root plans are
// checked and eventually executed against (normally "/", overridden by
// --bootstrap).
func New(store Store, resolver Resolver, repos RepoManager, targetRoot string) *Planner {
	return &Planner{
		store:      store,
		resolver:   resolver,
		repos:      repos,
		targetRoot: targetRoot,
		diskFree:   statfsFree,
	}
}

func statfsFree(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// checkSpace refuses a plan whose declared installed sizes exceed the free
// space on the target root. A zero total means the sizes are unknown and
// the check is skipped (best-effort contract of installed_size).
func (p *Planner) checkSpace(tx pkgdata.Transaction, force bool) error {
	if force {
		return nil
	}

	var total int64
	for _, inst := range tx.ToInstall {
		total += inst.Package.InstalledSize
	}
	if total == 0 {
		return nil
	}

	free, err := p.diskFree(p.targetRoot)
	if err != nil {
		// The probe is best-effort; an unprobeable root is not a refusal.
		return nil
	}
	if total > free {
		return aurorerr.New(aurorerr.KindNotEnoughSpace,
			fmt.Sprintf("need %d bytes but only %d free under %s", total, free, p.targetRoot))
	}
	return nil
}

// PlanInstall resolves names and builds an install transaction, refusing
// file and package conflicts unless force is set.
func (p *Planner) PlanInstall(ctx context.Context, names []string, force bool) (pkgdata.Transaction, error) {
	candidates, err := p.resolver.Resolve(ctx, names)
	if err != nil {
		return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindResolutionFailed, "resolving requested packages", err)
	}

	ownedFiles, err := p.store.ListOwnedFiles(ctx)
	if err != nil {
		return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindFileSystemError, "listing owned files", err)
	}

	var tx pkgdata.Transaction
	seenRemoves := make(map[string]struct{})

	for _, candidate := range candidates {
		if err := p.checkFileConflicts(candidate, ownedFiles, nil, force); err != nil {
			return pkgdata.Transaction{}, err
		}

		if !force {
			for _, conflict := range candidate.Conflicts {
				installed, err := p.store.IsInstalled(ctx, conflict)
				if err != nil {
					return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindFileSystemError, "checking conflicting package", err)
				}
				if installed {
					return pkgdata.Transaction{}, aurorerr.New(aurorerr.KindConflictDetected, fmt.Sprintf("%s conflicts with installed package %s", candidate.Name, conflict))
				}
			}
		}

		for _, replaced := range candidate.Replaces {
			if _, seen := seenRemoves[replaced]; seen {
				continue
			}
			installed, err := p.store.IsInstalled(ctx, replaced)
			if err != nil {
				return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindFileSystemError, "checking replaced package", err)
			}
			if installed {
				old, err := p.store.GetInstalled(ctx, replaced)
				if err != nil {
					return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindFileSystemError, "fetching replaced package", err)
				}
				tx.ToRemove = append(tx.ToRemove, old)
				seenRemoves[replaced] = struct{}{}
			}
		}

		tx.ToInstall = append(tx.ToInstall, pkgdata.PackageInstallation{Package: candidate})
	}

	if err := p.checkSpace(tx, force); err != nil {
		return pkgdata.Transaction{}, err
	}

	return tx, nil
}

// checkFileConflicts rejects a candidate whose declared files collide with
// an installed package's ownership or with an unclaimed path already
// present on the live filesystem. releasedPaths holds paths owned by
// packages being removed in the same transaction: those are exempt from
// both checks (they are still on disk at plan time, but the executor backs
// them up before any install touches them). May be nil.
func (p *Planner) checkFileConflicts(candidate pkgdata.Package, ownedFiles map[string]string, releasedPaths map[string]struct{}, force bool) error {
	if force {
		return nil
	}

	for _, file := range candidate.Files {
		if _, released := releasedPaths[file]; released {
			continue
		}

		if owner, claimed := ownedFiles[file]; claimed && owner != candidate.Name {
			return aurorerr.New(aurorerr.KindFileConflict, fmt.Sprintf("%s is already owned by %s", file, owner))
		}

		livePath := filepath.Join(p.targetRoot, file)
		if _, claimed := ownedFiles[file]; !claimed {
			if _, err := os.Lstat(livePath); err == nil {
				return aurorerr.New(aurorerr.KindFileConflict, fmt.Sprintf("%s already exists on disk and is not tracked", file))
			}
		}
	}

	return nil
}

// PlanRemove builds a removal transaction, refusing to remove a package
// still depended on by another installed package unless force is set.
func (p *Planner) PlanRemove(ctx context.Context, names []string, force bool) (pkgdata.Transaction, error) {
	targeted := make(map[string]struct{}, len(names))
	for _, name := range names {
		targeted[name] = struct{}{}
	}

	var tx pkgdata.Transaction
	for _, name := range names {
		installed, err := p.store.IsInstalled(ctx, name)
		if err != nil {
			return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindFileSystemError, "checking installed status", err)
		}
		if !installed {
			return pkgdata.Transaction{}, aurorerr.New(aurorerr.KindPackageNotInstalled, name)
		}

		pkg, err := p.store.GetInstalled(ctx, name)
		if err != nil {
			return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindFileSystemError, "fetching installed package", err)
		}
		tx.ToRemove = append(tx.ToRemove, pkg)
	}

	if !force {
		all, err := p.store.ListInstalled(ctx)
		if err != nil {
			return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindFileSystemError, "listing installed packages", err)
		}

		for _, target := range names {
			for _, other := range all {
				if _, isTarget := targeted[other.Name]; isTarget {
					continue
				}
				for _, dep := range other.Deps {
					if dep == target {
						return pkgdata.Transaction{}, aurorerr.New(aurorerr.KindDependencyViolation, fmt.Sprintf("%s is required by %s", target, other.Name))
					}
				}
			}
		}
	}

	return tx, nil
}

// PlanUpdate syncs repositories, then schedules every installed package
// that has a strictly newer available version, along with any new
// dependencies that update pulls in.
func (p *Planner) PlanUpdate(ctx context.Context, force bool) (pkgdata.Transaction, error) {
	if err := p.repos.Sync(ctx); err != nil {
		return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindResolutionFailed, "syncing repositories", err)
	}

	installed, err := p.store.ListInstalled(ctx)
	if err != nil {
		return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindFileSystemError, "listing installed packages", err)
	}

	var tx pkgdata.Transaction
	var newDeps []string
	removedNames := make(map[string]struct{})

	for _, current := range installed {
		available, err := p.store.FindAvailable(ctx, current.Name)
		if err != nil {
			continue
		}

		cmp, err := pkgdata.CompareVersions(available.Version, current.Version)
		if err != nil {
			return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindResolutionFailed, "comparing versions", err)
		}
		if cmp <= 0 {
			continue
		}

		tx.ToRemove = append(tx.ToRemove, current)
		tx.ToInstall = append(tx.ToInstall, pkgdata.PackageInstallation{Package: available})
		removedNames[current.Name] = struct{}{}
		newDeps = append(newDeps, available.Deps...)
	}

	if len(newDeps) > 0 {
		resolvedDeps, err := p.resolver.Resolve(ctx, newDeps)
		if err != nil {
			return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindResolutionFailed, "resolving update dependencies", err)
		}

		existing := make(map[string]struct{}, len(tx.ToInstall))
		for _, inst := range tx.ToInstall {
			existing[inst.Package.Name] = struct{}{}
		}
		for _, dep := range resolvedDeps {
			if _, dup := existing[dep.Name]; dup {
				continue
			}
			tx.ToInstall = append(tx.ToInstall, pkgdata.PackageInstallation{Package: dep})
			existing[dep.Name] = struct{}{}
		}
	}

	ownedFiles, err := p.store.ListOwnedFiles(ctx)
	if err != nil {
		return pkgdata.Transaction{}, aurorerr.Wrap(aurorerr.KindFileSystemError, "listing owned files", err)
	}

	// Paths owned by the packages being removed are freed by this same
	// transaction: exempt them from the conflict scan rather than treating
	// them as untracked files still present on disk.
	releasedPaths := make(map[string]struct{})
	for path, owner := range ownedFiles {
		if _, removing := removedNames[owner]; removing {
			releasedPaths[path] = struct{}{}
		}
	}

	for _, inst := range tx.ToInstall {
		if err := p.checkFileConflicts(inst.Package, ownedFiles, releasedPaths, force); err != nil {
			return pkgdata.Transaction{}, err
		}
	}

	if err := p.checkSpace(tx, force); err != nil {
		return pkgdata.Transaction{}, err
	}

	return tx, nil
}
