// Package resolver turns a list of requested package names into a
// topologically sorted install order, detecting missing dependencies,
// cycles, and ambiguous virtual providers along the way.
package resolver

import (
	"context"
	"fmt"

	"github.com/aurora-pkg/aurora/pkg/pkgdata"
)

// Kind classifies a resolution failure.
type Kind string

const (
	KindPackageNotFound    Kind = "package_not_found"
	KindDependencyNotFound Kind = "dependency_not_found"
	KindCircularDependency Kind = "circular_dependency"
	KindAmbiguousProvider  Kind = "ambiguous_provider"
)

// Error is the classified error type this package returns.
type Error struct {
	Kind Kind
	Name string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Name)
}

func newErr(kind Kind, name string) *Error {
	return &Error{Kind: kind, Name: name}
}

// InstalledLookup is the subset of pkgdb.Store the resolver needs: is a
// package already installed, and by what name/provides.
type InstalledLookup interface {
	ListInstalled(ctx context.Context) ([]pkgdata.InstalledPackage, error)
}

type visitState int

const (
	stateUnseen visitState = iota
	stateOnStack
	stateDone
)

// Resolver resolves requested package names against an available-package
// snapshot and the currently installed set.
type Resolver struct {
	store     InstalledLookup
	available []pkgdata.Package
}

// New creates a Resolver over the given installed-package lookup and
// available-package snapshot.
func New(store InstalledLookup, available []pkgdata.Package) *Resolver {
	return &Resolver{store: store, available: available}
}

// Resolve produces a dependency-first topological install order for names.
func (r *Resolver) Resolve(ctx context.Context, names []string) ([]pkgdata.Package, error) {
	installed, err := r.store.ListInstalled(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolver: listing installed packages: %w", err)
	}

	installedByExact := make(map[string]pkgdata.InstalledPackage, len(installed))
	installedProvides := make(map[string]bool)
	for _, p := range installed {
		installedByExact[p.Name] = p
		for _, prov := range p.Provides {
			installedProvides[prov] = true
		}
	}

	byExactName := make(map[string]pkgdata.Package, len(r.available))
	byProvides := make(map[string][]pkgdata.Package)
	for _, p := range r.available {
		byExactName[p.Name] = p
		for _, prov := range p.Provides {
			byProvides[prov] = append(byProvides[prov], p)
		}
	}

	state := make(map[string]visitState)
	resolved := make(map[string]bool)
	providedByResolved := make(map[string]bool)
	var result []pkgdata.Package

	var visit func(name string) error
	visit = func(name string) error {
		if _, ok := installedByExact[name]; ok || installedProvides[name] {
			return nil
		}
		if resolved[name] || providedByResolved[name] {
			return nil
		}

		provider, ok := byExactName[name]
		if !ok {
			candidates := byProvides[name]
			switch len(candidates) {
			case 0:
				return newErr(KindDependencyNotFound, name)
			case 1:
				provider = candidates[0]
			default:
				return newErr(KindAmbiguousProvider, name)
			}
		}

		switch state[provider.Name] {
		case stateOnStack:
			return newErr(KindCircularDependency, provider.Name)
		case stateDone:
			return nil
		}

		state[provider.Name] = stateOnStack
		for _, dep := range provider.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[provider.Name] = stateDone

		result = append(result, provider)
		resolved[provider.Name] = true
		for _, prov := range provider.Provides {
			providedByResolved[prov] = true
		}

		return nil
	}

	for _, name := range names {
		if _, ok := byExactName[name]; !ok {
			if _, ok := byProvides[name]; !ok {
				if _, ok := installedByExact[name]; !ok && !installedProvides[name] {
					return nil, newErr(KindPackageNotFound, name)
				}
			}
		}
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return result, nil
}
