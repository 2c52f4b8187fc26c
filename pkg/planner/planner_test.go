package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aurora-pkg/aurora/pkg/aurorerr"
	"github.com/aurora-pkg/aurora/pkg/pkgdata"
)

type fakeStore struct {
	installed  map[string]pkgdata.InstalledPackage
	available  map[string]pkgdata.Package
	ownedFiles map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		installed:  make(map[string]pkgdata.InstalledPackage),
		available:  make(map[string]pkgdata.Package),
		ownedFiles: make(map[string]string),
	}
}

func (f *fakeStore) ListInstalled(ctx context.Context) ([]pkgdata.InstalledPackage, error) {
	var out []pkgdata.InstalledPackage
	for _, p := range f.installed {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) GetInstalled(ctx context.Context, name string) (pkgdata.InstalledPackage, error) {
	p, ok := f.installed[name]
	if !ok {
		return pkgdata.InstalledPackage{}, fmt.Errorf("not installed: %s", name)
	}
	return p, nil
}

func (f *fakeStore) IsInstalled(ctx context.Context, name string) (bool, error) {
	_, ok := f.installed[name]
	return ok, nil
}

func (f *fakeStore) ListOwnedFiles(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(f.ownedFiles))
	for k, v := range f.ownedFiles {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) FindAvailable(ctx context.Context, name string) (pkgdata.Package, error) {
	p, ok := f.available[name]
	if !ok {
		return pkgdata.Package{}, fmt.Errorf("not available: %s", name)
	}
	return p, nil
}

func (f *fakeStore) ListAvailable(ctx context.Context) ([]pkgdata.Package, error) {
	var out []pkgdata.Package
	for _, p := range f.available {
		out = append(out, p)
	}
	return out, nil
}

type fakeResolver struct {
	result []pkgdata.Package
	err    error
}

func (f *fakeResolver) Resolve(ctx context.Context, names []string) ([]pkgdata.Package, error) {
	return f.result, f.err
}

type fakeRepoManager struct {
	err error
}

func (f *fakeRepoManager) Sync(ctx context.Context) error { return f.err }

func TestPlanInstallSimple(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{result: []pkgdata.Package{
		{Name: "foo", Version: "1.0.0", Files: []string{"usr/bin/foo"}},
	}}

	p := New(store, resolver, &fakeRepoManager{}, t.TempDir())
	tx, err := p.PlanInstall(context.Background(), []string{"foo"}, false)
	if err != nil {
		t.Fatalf("PlanInstall returned error: %v", err)
	}
	if len(tx.ToInstall) != 1 || tx.ToInstall[0].Package.Name != "foo" {
		t.Fatalf("ToInstall = %+v", tx.ToInstall)
	}
}

func TestPlanInstallFileConflictWithInstalledPackage(t *testing.T) {
	store := newFakeStore()
	store.ownedFiles["usr/bin/foo"] = "other-pkg"
	resolver := &fakeResolver{result: []pkgdata.Package{
		{Name: "foo", Files: []string{"usr/bin/foo"}},
	}}

	p := New(store, resolver, &fakeRepoManager{}, t.TempDir())
	_, err := p.PlanInstall(context.Background(), []string{"foo"}, false)
	if err == nil {
		t.Fatal("expected a file conflict error")
	}
	aErr, ok := err.(*aurorerr.Error)
	if !ok {
		t.Fatalf("expected *aurorerr.Error, got %T", err)
	}
	if aErr.Kind != aurorerr.KindFileConflict {
		t.Errorf("Kind = %q, want %q", aErr.Kind, aurorerr.KindFileConflict)
	}
}

func TestPlanInstallFileConflictWithUnclaimedDiskFile(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "usr/bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "usr/bin/foo"), []byte("preexisting"), 0644); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	resolver := &fakeResolver{result: []pkgdata.Package{
		{Name: "foo", Files: []string{"usr/bin/foo"}},
	}}

	p := New(store, resolver, &fakeRepoManager{}, root)
	_, err := p.PlanInstall(context.Background(), []string{"foo"}, false)
	if err == nil {
		t.Fatal("expected a file conflict error for unclaimed on-disk file")
	}
}

func TestPlanInstallForceBypassesConflicts(t *testing.T) {
	store := newFakeStore()
	store.ownedFiles["usr/bin/foo"] = "other-pkg"
	resolver := &fakeResolver{result: []pkgdata.Package{
		{Name: "foo", Files: []string{"usr/bin/foo"}},
	}}

	p := New(store, resolver, &fakeRepoManager{}, t.TempDir())
	tx, err := p.PlanInstall(context.Background(), []string{"foo"}, true)
	if err != nil {
		t.Fatalf("PlanInstall with force returned error: %v", err)
	}
	if len(tx.ToInstall) != 1 {
		t.Fatalf("ToInstall = %+v", tx.ToInstall)
	}
}

func TestPlanInstallSchedulesReplacedPackageForRemoval(t *testing.T) {
	store := newFakeStore()
	store.installed["old-foo"] = pkgdata.InstalledPackage{Package: pkgdata.Package{Name: "old-foo"}}
	resolver := &fakeResolver{result: []pkgdata.Package{
		{Name: "foo", Replaces: []string{"old-foo"}},
	}}

	p := New(store, resolver, &fakeRepoManager{}, t.TempDir())
	tx, err := p.PlanInstall(context.Background(), []string{"foo"}, false)
	if err != nil {
		t.Fatalf("PlanInstall returned error: %v", err)
	}
	if len(tx.ToRemove) != 1 || tx.ToRemove[0].Name != "old-foo" {
		t.Fatalf("ToRemove = %+v", tx.ToRemove)
	}
}

func TestPlanRemovePackageNotInstalled(t *testing.T) {
	store := newFakeStore()
	p := New(store, &fakeResolver{}, &fakeRepoManager{}, t.TempDir())

	_, err := p.PlanRemove(context.Background(), []string{"ghost"}, false)
	if err == nil {
		t.Fatal("expected package-not-installed error")
	}
	aErr, ok := err.(*aurorerr.Error)
	if !ok || aErr.Kind != aurorerr.KindPackageNotInstalled {
		t.Fatalf("err = %v, want KindPackageNotInstalled", err)
	}
}

func TestPlanRemoveRefusesDependencyViolation(t *testing.T) {
	store := newFakeStore()
	store.installed["lib"] = pkgdata.InstalledPackage{Package: pkgdata.Package{Name: "lib"}}
	store.installed["app"] = pkgdata.InstalledPackage{Package: pkgdata.Package{Name: "app", Deps: []string{"lib"}}}

	p := New(store, &fakeResolver{}, &fakeRepoManager{}, t.TempDir())
	_, err := p.PlanRemove(context.Background(), []string{"lib"}, false)
	if err == nil {
		t.Fatal("expected dependency violation error")
	}
	aErr, ok := err.(*aurorerr.Error)
	if !ok || aErr.Kind != aurorerr.KindDependencyViolation {
		t.Fatalf("err = %v, want KindDependencyViolation", err)
	}
}

func TestPlanRemoveForceBypassesDependencyViolation(t *testing.T) {
	store := newFakeStore()
	store.installed["lib"] = pkgdata.InstalledPackage{Package: pkgdata.Package{Name: "lib"}}
	store.installed["app"] = pkgdata.InstalledPackage{Package: pkgdata.Package{Name: "app", Deps: []string{"lib"}}}

	p := New(store, &fakeResolver{}, &fakeRepoManager{}, t.TempDir())
	tx, err := p.PlanRemove(context.Background(), []string{"lib"}, true)
	if err != nil {
		t.Fatalf("PlanRemove with force returned error: %v", err)
	}
	if len(tx.ToRemove) != 1 {
		t.Fatalf("ToRemove = %+v", tx.ToRemove)
	}
}

func TestPlanUpdateSchedulesNewerVersion(t *testing.T) {
	store := newFakeStore()
	store.installed["foo"] = pkgdata.InstalledPackage{Package: pkgdata.Package{Name: "foo", Version: "1.0.0"}}
	store.available["foo"] = pkgdata.Package{Name: "foo", Version: "2.0.0"}

	p := New(store, &fakeResolver{}, &fakeRepoManager{}, t.TempDir())
	tx, err := p.PlanUpdate(context.Background(), false)
	if err != nil {
		t.Fatalf("PlanUpdate returned error: %v", err)
	}
	if len(tx.ToInstall) != 1 || tx.ToInstall[0].Package.Version != "2.0.0" {
		t.Fatalf("ToInstall = %+v", tx.ToInstall)
	}
	if len(tx.ToRemove) != 1 || tx.ToRemove[0].Version != "1.0.0" {
		t.Fatalf("ToRemove = %+v", tx.ToRemove)
	}
}

func TestPlanUpdateAllowsRetainedPathOwnedByOldVersion(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "usr/bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "usr/bin/foo"), []byte("v1"), 0755); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	store.installed["foo"] = pkgdata.InstalledPackage{
		Package:    pkgdata.Package{Name: "foo", Version: "1.0.0", Files: []string{"usr/bin/foo"}},
		OwnedFiles: []string{"usr/bin/foo"},
	}
	store.ownedFiles["usr/bin/foo"] = "foo"
	store.available["foo"] = pkgdata.Package{Name: "foo", Version: "2.0.0", Files: []string{"usr/bin/foo"}}

	p := New(store, &fakeResolver{}, &fakeRepoManager{}, root)
	tx, err := p.PlanUpdate(context.Background(), false)
	if err != nil {
		t.Fatalf("upgrade retaining a path owned by the old version should not conflict: %v", err)
	}
	if len(tx.ToInstall) != 1 || tx.ToInstall[0].Package.Version != "2.0.0" {
		t.Fatalf("ToInstall = %+v", tx.ToInstall)
	}
}

func TestPlanUpdateSkipsUpToDatePackages(t *testing.T) {
	store := newFakeStore()
	store.installed["foo"] = pkgdata.InstalledPackage{Package: pkgdata.Package{Name: "foo", Version: "2.0.0"}}
	store.available["foo"] = pkgdata.Package{Name: "foo", Version: "2.0.0"}

	p := New(store, &fakeResolver{}, &fakeRepoManager{}, t.TempDir())
	tx, err := p.PlanUpdate(context.Background(), false)
	if err != nil {
		t.Fatalf("PlanUpdate returned error: %v", err)
	}
	if !tx.IsEmpty() {
		t.Fatalf("expected empty transaction for up-to-date package, got %+v", tx)
	}
}

func TestPlanUpdateSyncFailurePropagates(t *testing.T) {
	store := newFakeStore()
	p := New(store, &fakeResolver{}, &fakeRepoManager{err: fmt.Errorf("network down")}, t.TempDir())

	_, err := p.PlanUpdate(context.Background(), false)
	if err == nil {
		t.Fatal("expected sync failure to propagate")
	}
	aErr, ok := err.(*aurorerr.Error)
	if !ok || aErr.Kind != aurorerr.KindResolutionFailed {
		t.Fatalf("err = %v, want KindResolutionFailed", err)
	}
}

func TestPlanInstallRefusesWhenSpaceIsShort(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{result: []pkgdata.Package{
		{Name: "big", Version: "1.0.0", InstalledSize: 10_000, Files: []string{"usr/lib/big.so"}},
	}}

	p := New(store, resolver, &fakeRepoManager{}, t.TempDir())
	p.diskFree = func(string) (int64, error) { return 4096, nil }

	_, err := p.PlanInstall(context.Background(), []string{"big"}, false)
	if err == nil {
		t.Fatal("expected a space refusal")
	}
	aErr, ok := err.(*aurorerr.Error)
	if !ok || aErr.Kind != aurorerr.KindNotEnoughSpace {
		t.Fatalf("err = %v, want KindNotEnoughSpace", err)
	}
}

func TestPlanInstallUnknownSizeSkipsSpaceCheck(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{result: []pkgdata.Package{
		{Name: "mystery", Version: "1.0.0", Files: []string{"usr/bin/mystery"}},
	}}

	p := New(store, resolver, &fakeRepoManager{}, t.TempDir())
	p.diskFree = func(string) (int64, error) { return 1, nil }

	tx, err := p.PlanInstall(context.Background(), []string{"mystery"}, false)
	if err != nil {
		t.Fatalf("zero installed_size should skip the space check, got: %v", err)
	}
	if len(tx.ToInstall) != 1 {
		t.Fatalf("ToInstall = %+v", tx.ToInstall)
	}
}
