package executor

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aurora-pkg/aurora/pkg/pkgdata"
)

type fakeStore struct {
	adds    []pkgdata.InstalledPackage
	removes []string
	failErr error
}

func (f *fakeStore) PerformTransactionalUpdate(ctx context.Context, adds []pkgdata.InstalledPackage, removes []string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.adds = adds
	f.removes = removes
	return nil
}

type fakeScripts struct {
	runs   []string
	failOn string
}

func (f *fakeScripts) Run(ctx context.Context, scriptSource string, targetRoot string) error {
	f.runs = append(f.runs, scriptSource)
	if f.failOn != "" && scriptSource == f.failOn {
		return errScriptFailed
	}
	return nil
}

var errScriptFailed = &testError{"script failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func buildTestArchive(t *testing.T, dir string, files map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, "pkg.au")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating archive: %v", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for name, contents := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(contents)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing header: %v", err)
		}
		if _, err := tw.Write([]byte(contents)); err != nil {
			t.Fatalf("writing contents: %v", err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}

	return path
}

func TestExecuteEmptyTransactionIsNoop(t *testing.T) {
	store := &fakeStore{}
	e := New(store, &fakeScripts{}, nil, nil, t.TempDir(), t.TempDir())

	if err := e.Execute(context.Background(), pkgdata.Transaction{}); err != nil {
		t.Fatalf("Execute on empty transaction returned error: %v", err)
	}
	if store.adds != nil || store.removes != nil {
		t.Error("expected no database interaction for an empty transaction")
	}
}

func TestExecuteInstallCommitsFilesAndDatabase(t *testing.T) {
	targetRoot := t.TempDir()
	cachePath := t.TempDir()
	archiveDir := t.TempDir()

	archivePath := buildTestArchive(t, archiveDir, map[string]string{
		"usr/bin/foo": "binary-contents",
	})

	store := &fakeStore{}
	scripts := &fakeScripts{}
	e := New(store, scripts, nil, nil, targetRoot, cachePath)

	plan := pkgdata.Transaction{
		ToInstall: []pkgdata.PackageInstallation{
			{Package: pkgdata.Package{Name: "foo", Version: "1.0.0"}, ArchivePath: archivePath},
		},
	}

	if err := e.Execute(context.Background(), plan); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(targetRoot, "usr/bin/foo"))
	if err != nil {
		t.Fatalf("reading installed file: %v", err)
	}
	if string(data) != "binary-contents" {
		t.Errorf("installed file contents = %q", data)
	}

	if len(store.adds) != 1 || store.adds[0].Name != "foo" {
		t.Fatalf("store.adds = %+v", store.adds)
	}
}

func TestExecuteRollsBackOnDatabaseFailure(t *testing.T) {
	targetRoot := t.TempDir()
	cachePath := t.TempDir()
	archiveDir := t.TempDir()

	archivePath := buildTestArchive(t, archiveDir, map[string]string{
		"usr/bin/foo": "binary-contents",
	})

	store := &fakeStore{failErr: errScriptFailed}
	e := New(store, &fakeScripts{}, nil, nil, targetRoot, cachePath)

	plan := pkgdata.Transaction{
		ToInstall: []pkgdata.PackageInstallation{
			{Package: pkgdata.Package{Name: "foo"}, ArchivePath: archivePath},
		},
	}

	err := e.Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("expected database commit failure to propagate")
	}

	if _, statErr := os.Stat(filepath.Join(targetRoot, "usr/bin/foo")); statErr == nil {
		t.Error("expected installed file to be rolled back after database failure")
	}
}

func TestExecuteBacksUpAndRemovesOwnedFiles(t *testing.T) {
	targetRoot := t.TempDir()
	cachePath := t.TempDir()

	if err := os.MkdirAll(filepath.Join(targetRoot, "usr/bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(targetRoot, "usr/bin/old"), []byte("old binary"), 0644); err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{}
	e := New(store, &fakeScripts{}, nil, nil, targetRoot, cachePath)

	plan := pkgdata.Transaction{
		ToRemove: []pkgdata.InstalledPackage{
			{Package: pkgdata.Package{Name: "old-pkg"}, OwnedFiles: []string{"usr/bin/old"}},
		},
	}

	if err := e.Execute(context.Background(), plan); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(targetRoot, "usr/bin/old")); err == nil {
		t.Error("expected removed file to no longer be on the live target root")
	}
	if len(store.removes) != 1 || store.removes[0] != "old-pkg" {
		t.Fatalf("store.removes = %v", store.removes)
	}
}

func TestExecutePreRemoveHookFailureRollsBackBackup(t *testing.T) {
	targetRoot := t.TempDir()
	cachePath := t.TempDir()

	if err := os.MkdirAll(filepath.Join(targetRoot, "usr/bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(targetRoot, "usr/bin/old"), []byte("old binary"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(targetRoot, "usr/bin/pre_remove.star"), []byte("bad-script"), 0644); err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{}
	scripts := &fakeScripts{failOn: "bad-script"}
	e := New(store, scripts, nil, nil, targetRoot, cachePath)

	plan := pkgdata.Transaction{
		ToRemove: []pkgdata.InstalledPackage{
			{
				Package: pkgdata.Package{Name: "old-pkg", PreRemove: "usr/bin/pre_remove.star"},
				OwnedFiles: []string{"usr/bin/old", "usr/bin/pre_remove.star"},
			},
		},
	}

	err := e.Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("expected pre_remove hook failure to propagate")
	}

	if _, statErr := os.Stat(filepath.Join(targetRoot, "usr/bin/old")); statErr != nil {
		t.Error("expected backed-up file to be restored to the live root after rollback")
	}
}
