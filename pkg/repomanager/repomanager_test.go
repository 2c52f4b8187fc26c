package repomanager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aurora-pkg/aurora/pkg/downloader"
	"github.com/aurora-pkg/aurora/pkg/pkgdata"
)

const sampleConf = `
# comment line should be ignored

[core]
url = https://mirror-a.example/core
url = https://mirror-b.example/core

[extra]
url = https://mirror-a.example/extra
`

func writeConf(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repos.conf")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing repos.conf: %v", err)
	}
	return path
}

func TestParseReposConf(t *testing.T) {
	path := writeConf(t, sampleConf)

	repos, order, err := parseReposConf(path)
	if err != nil {
		t.Fatalf("parseReposConf returned error: %v", err)
	}

	if len(repos["core"]) != 2 {
		t.Fatalf("core mirrors = %v, want 2 entries", repos["core"])
	}
	if repos["core"][0] != "https://mirror-a.example/core" {
		t.Errorf("core[0] = %q", repos["core"][0])
	}
	if len(repos["extra"]) != 1 {
		t.Fatalf("extra mirrors = %v, want 1 entry", repos["extra"])
	}
	if len(order) != 2 || order[0] != "core" || order[1] != "extra" {
		t.Errorf("declared order = %v, want [core extra]", order)
	}
}

type fakeStore struct {
	synced []pkgdata.Package
	err    error
}

func (f *fakeStore) SyncAvailable(ctx context.Context, pkgs []pkgdata.Package) error {
	if f.err != nil {
		return f.err
	}
	f.synced = pkgs
	return nil
}

type fakeDownloader struct {
	write map[string]string // DisplayName -> contents to write to Destination
	ok    bool
	err   error
}

func (f *fakeDownloader) DownloadAll(ctx context.Context, jobs []*downloader.Job) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, j := range jobs {
		contents, ok := f.write[j.DisplayName]
		if !ok {
			continue
		}
		if err := os.WriteFile(j.Destination, []byte(contents), 0644); err != nil {
			return false, err
		}
	}
	return f.ok, nil
}

func TestGetRepoURLsUnknownRepo(t *testing.T) {
	path := writeConf(t, sampleConf)
	m, err := New(Config{ConfPath: path, CachePath: t.TempDir(), SkipCrypto: true}, &fakeStore{}, &fakeDownloader{ok: true}, nil, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if _, err := m.GetRepoURLs("nonexistent"); err == nil {
		t.Fatal("expected error for unknown repo")
	}

	urls, err := m.GetRepoURLs("core")
	if err != nil {
		t.Fatalf("GetRepoURLs returned error: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("urls = %v, want 2", urls)
	}
}

func TestSyncCommitsUnionWhenEverySucceeds(t *testing.T) {
	path := writeConf(t, sampleConf)
	index := `
- name: pkg-one
  version: 1.0.0
  arch: x86_64
  checksum: aaa
`
	dl := &fakeDownloader{
		ok: true,
		write: map[string]string{
			"core/repo.yaml":      index,
			"extra/repo.yaml":     index,
			"core/repo.yaml.sig":  "sig",
			"extra/repo.yaml.sig": "sig",
		},
	}
	store := &fakeStore{}

	m, err := New(Config{ConfPath: path, CachePath: t.TempDir(), SkipCrypto: true}, store, dl, nil, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	if len(store.synced) != 2 {
		t.Fatalf("synced = %+v, want 2 packages (one per repo)", store.synced)
	}
	for _, p := range store.synced {
		if p.RepoName == "" {
			t.Errorf("package %s missing RepoName tag", p.Name)
		}
	}
}

func TestSyncLeavesCatalogUnchangedIfAnyRepoFails(t *testing.T) {
	path := writeConf(t, sampleConf)
	dl := &fakeDownloader{ok: false}
	store := &fakeStore{}

	m, err := New(Config{ConfPath: path, CachePath: t.TempDir(), SkipCrypto: true}, store, dl, nil, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	err = m.Sync(context.Background())
	if err == nil {
		t.Fatal("expected Sync to fail when every repo download fails")
	}
	if store.synced != nil {
		t.Error("expected available catalog to remain untouched")
	}
}
