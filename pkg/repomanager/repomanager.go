// Package repomanager reads aurora's repos.conf, keeps it live via an
// fsnotify watch, and synchronizes each configured repository's signed
// index into the local available-package catalog.
package repomanager

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/aurora-pkg/aurora/pkg/downloader"
	"github.com/aurora-pkg/aurora/pkg/integrity"
	"github.com/aurora-pkg/aurora/pkg/metadatacodec"
	"github.com/aurora-pkg/aurora/pkg/pkgdata"
	"github.com/aurora-pkg/aurora/pkg/telemetry"
)

// Store is the subset of pkgdb.Store the manager needs.
type Store interface {
	SyncAvailable(ctx context.Context, pkgs []pkgdata.Package) error
}

// Downloader is the subset of downloader.Downloader the manager needs.
type Downloader interface {
	DownloadAll(ctx context.Context, jobs []*downloader.Job) (bool, error)
}

// Manager reads repos.conf and synchronizes every configured repository.
type Manager struct {
	confPath   string
	cachePath  string
	keyringDir string
	skipCrypto bool

	store      Store
	downloader Downloader
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics

	mu        sync.RWMutex
	repos     map[string][]string // repo name -> ordered mirror URLs
	repoOrder []string            // repo names in declared order

	watcher *fsnotify.Watcher
}

// Config configures a Manager.
type Config struct {
	ConfPath   string
	CachePath  string
	KeyringDir string
	SkipCrypto bool
}

// New creates a Manager and performs an initial load of ConfPath.
func New(cfg Config, store Store, dl Downloader, metrics *telemetry.Metrics, logger *telemetry.Logger) (*Manager, error) {
	if logger == nil {
		logger = telemetry.Nop()
	}

	m := &Manager{
		confPath:   cfg.ConfPath,
		cachePath:  cfg.CachePath,
		keyringDir: cfg.KeyringDir,
		skipCrypto: cfg.SkipCrypto,
		store:      store,
		downloader: dl,
		logger:     logger.NewComponentLogger("repomanager"),
		metrics:    metrics,
	}

	if err := m.reload(); err != nil {
		return nil, err
	}

	return m, nil
}

// reload re-parses confPath into a fresh in-memory map.
func (m *Manager) reload() error {
	repos, order, err := parseReposConf(m.confPath)
	if err != nil {
		return fmt.Errorf("repomanager: loading %s: %w", m.confPath, err)
	}

	m.mu.Lock()
	m.repos = repos
	m.repoOrder = order
	m.mu.Unlock()

	return nil
}

// parseReposConf reads the ordered-sections-with-repeated-keys format:
//
//	[reponame]
//	url = https://mirror-a.example/repo
//	url = https://mirror-b.example/repo
//
// matching the original implementation's line-scanner algorithm — this
// format is not INI-standard enough (repeated keys per section) to reach
// for a generic INI library.
func parseReposConf(path string) (map[string][]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	repos := make(map[string][]string)
	var order []string
	var current string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSpace(line[1 : len(line)-1])
			if _, ok := repos[current]; !ok {
				repos[current] = nil
				order = append(order, current)
			}
			continue
		}

		if current == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "url" || value == "" {
			continue
		}

		repos[current] = append(repos[current], value)
	}

	return repos, order, scanner.Err()
}

// GetRepoURLs returns the mirror list for name, in declared order.
func (m *Manager) GetRepoURLs(name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	urls, ok := m.repos[name]
	if !ok {
		return nil, fmt.Errorf("repomanager: unknown repository %q", name)
	}
	return urls, nil
}

// WatchForChanges starts an fsnotify watch on confPath, reloading the
// in-memory configuration whenever it is written. It returns a stop
// function.
func (m *Manager) WatchForChanges(ctx context.Context) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("repomanager: creating watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(m.confPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("repomanager: watching %s: %w", m.confPath, err)
	}

	m.watcher = watcher

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(m.confPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.reload(); err != nil {
					m.logger.WithError(err).Warnf("reloading %s after change", m.confPath)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.WithError(err).Warn("repos.conf watcher error")
			}
		}
	}()

	return func() { watcher.Close() }, nil
}

// Sync downloads, verifies, and parses every configured repository's index,
// tags each entry with its repo name, and — only if every repo succeeds —
// commits the union into the available catalog.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.RLock()
	order := make([]string, len(m.repoOrder))
	copy(order, m.repoOrder)
	repos := make(map[string][]string, len(m.repos))
	for name, urls := range m.repos {
		repos[name] = urls
	}
	m.mu.RUnlock()

	var allPackages []pkgdata.Package
	var anyFailed bool

	for _, name := range order {
		mirrors := repos[name]
		pkgs, err := m.syncOne(ctx, name, mirrors)
		if err != nil {
			m.logger.WithError(err).Warnf("syncing repository %s", name)
			if m.metrics != nil {
				m.metrics.RecordRepoSyncOutcome(false)
			}
			anyFailed = true
			continue
		}
		if m.metrics != nil {
			m.metrics.RecordRepoSyncOutcome(true)
		}
		allPackages = append(allPackages, pkgs...)
	}

	if anyFailed {
		return fmt.Errorf("repomanager: one or more repositories failed to sync; available catalog left unchanged")
	}
	if len(allPackages) == 0 {
		return fmt.Errorf("repomanager: no packages obtained from any repository")
	}

	return m.store.SyncAvailable(ctx, allPackages)
}

func (m *Manager) syncOne(ctx context.Context, name string, mirrors []string) ([]pkgdata.Package, error) {
	if len(mirrors) == 0 {
		return nil, fmt.Errorf("repository %s has no mirrors configured", name)
	}

	tmpDir, err := os.MkdirTemp(m.cachePath, "repo-sync-"+name+"-")
	if err != nil {
		return nil, fmt.Errorf("creating sync tempdir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	indexPath := filepath.Join(tmpDir, "repo.yaml")
	sigPath := filepath.Join(tmpDir, "repo.yaml.sig")

	indexURLs := make([]string, len(mirrors))
	sigURLs := make([]string, len(mirrors))
	for i, base := range mirrors {
		indexURLs[i] = strings.TrimRight(base, "/") + "/repo.yaml"
		sigURLs[i] = strings.TrimRight(base, "/") + "/repo.yaml.sig"
	}

	jobs := []*downloader.Job{
		{URLs: indexURLs, Destination: indexPath, DisplayName: name + "/repo.yaml"},
		{URLs: sigURLs, Destination: sigPath, DisplayName: name + "/repo.yaml.sig"},
	}

	ok, err := m.downloader.DownloadAll(ctx, jobs)
	if err != nil {
		return nil, fmt.Errorf("downloading index: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("downloading index or signature failed for %s", name)
	}

	if !m.skipCrypto {
		valid, err := integrity.VerifySignature(indexPath, sigPath, m.keyringDir)
		if err != nil {
			return nil, fmt.Errorf("verifying signature: %w", err)
		}
		if !valid {
			return nil, fmt.Errorf("signature verification failed for repository %s", name)
		}
	}

	f, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("opening downloaded index: %w", err)
	}
	defer f.Close()

	pkgs, err := metadatacodec.ParseRepositoryIndex(f, m.logger)
	if err != nil {
		return nil, fmt.Errorf("parsing index: %w", err)
	}

	for i := range pkgs {
		pkgs[i].RepoName = name
	}

	return pkgs, nil
}
