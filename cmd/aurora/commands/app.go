package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/aurora-pkg/aurora/pkg/auroraconfig"
	"github.com/aurora-pkg/aurora/pkg/aurorerr"
	"github.com/aurora-pkg/aurora/pkg/downloader"
	"github.com/aurora-pkg/aurora/pkg/integrity"
	"github.com/aurora-pkg/aurora/pkg/pkgdata"
	"github.com/aurora-pkg/aurora/pkg/pkgdb"
	"github.com/aurora-pkg/aurora/pkg/planner"
	"github.com/aurora-pkg/aurora/pkg/repomanager"
	"github.com/aurora-pkg/aurora/pkg/resolver"
	"github.com/aurora-pkg/aurora/pkg/telemetry"
)

// app bundles the wired-up collaborators every subcommand needs: the
// resolved runtime configuration, the shared logger/metrics pair, the
// opened catalog database, and the downloader.
type app struct {
	cfg     auroraconfig.Config
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	store   *pkgdb.Store
	dl      *downloader.Downloader
	lock    *auroraconfig.Lock
}

// newApp resolves global flags into a runtime configuration and opens the
// catalog database (creating the directory tree on first run).
func newApp(ctx context.Context) (*app, error) {
	cfg := auroraconfig.New(bootstrapRoot, force, skipCrypto)

	telCfg := telemetry.DefaultConfig()
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	if jsonOutput {
		telCfg.Logging.Format = "json"
	}

	logger, err := telemetry.NewLogger(telCfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	// Every log line of one CLI invocation shares a run id so interleaved
	// component logs can be correlated after the fact.
	logger = logger.WithField("run", uuid.NewString())
	metrics := telemetry.NewMetrics(telCfg.Metrics)

	if err := os.MkdirAll(cfg.ArchiveCachePath(), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	store, err := pkgdb.New(pkgdb.Config{Path: cfg.DBPath()})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		store:   store,
		dl:      downloader.New(metrics, logger),
	}, nil
}

// close releases the lock (if held) and the database connection.
func (a *app) close() {
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			a.logger.WithError(err).Warn("releasing transaction lock")
		}
		a.lock = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("closing database")
		}
	}
}

// acquireLock takes the system-wide transaction lock for mutating commands.
func (a *app) acquireLock() error {
	lock, err := auroraconfig.AcquireLock(a.cfg.LockPath())
	if err != nil {
		return err
	}
	a.lock = lock
	return nil
}

// newRepoManager wires the repository manager against this app's store and
// downloader.
func (a *app) newRepoManager() (*repomanager.Manager, error) {
	return repomanager.New(repomanager.Config{
		ConfPath:   a.cfg.ReposConfPath(),
		CachePath:  a.cfg.CachePath(),
		KeyringDir: a.cfg.KeyringDir(),
		SkipCrypto: a.cfg.SkipCrypto,
	}, a.store, a.dl, a.metrics, a.logger)
}

// catalogResolver snapshots the available catalog fresh on every Resolve
// call, so a plan that syncs repositories mid-flight (update) never
// resolves against a stale snapshot.
type catalogResolver struct {
	store *pkgdb.Store
}

func (c catalogResolver) Resolve(ctx context.Context, names []string) ([]pkgdata.Package, error) {
	available, err := c.store.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	return resolver.New(c.store, available).Resolve(ctx, names)
}

// newPlanner returns a planner over the live catalog. repos may be nil for
// commands that never sync.
func (a *app) newPlanner(repos planner.RepoManager) *planner.Planner {
	return planner.New(a.store, catalogResolver{store: a.store}, repos, a.cfg.TargetRoot)
}

// requirePrivileges refuses to run a mutating command as a non-privileged
// user, unless the target root is not "/" and is a directory the invoking
// user can create files in (the bootstrap workflow).
func (a *app) requirePrivileges() error {
	if os.Geteuid() == 0 {
		return nil
	}
	if a.cfg.TargetRoot != "/" {
		if info, err := os.Stat(a.cfg.TargetRoot); err == nil {
			if ok := isWritableDir(info, a.cfg.TargetRoot); ok {
				return nil
			}
		}
	}
	return fmt.Errorf("this command mutates the target root and must run as root (or --bootstrap into a directory you can write to)")
}

func isWritableDir(info os.FileInfo, path string) bool {
	if !info.IsDir() {
		return false
	}
	// Probe with an actual create rather than decoding ownership bits.
	probe, err := os.CreateTemp(path, ".aurora-perm-*")
	if err != nil {
		return false
	}
	probe.Close()
	os.Remove(probe.Name())
	return true
}

// confirm prints the prompt and reads a y/N answer from stdin. A declined
// prompt is not an error: the command exits 0.
func confirm(prompt string) bool {
	if assumeYes {
		return true
	}
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// printTransaction shows the user what a plan will do before confirmation.
func printTransaction(tx pkgdata.Transaction) {
	if len(tx.ToRemove) > 0 {
		fmt.Println("The following packages will be REMOVED:")
		for _, pkg := range tx.ToRemove {
			fmt.Printf("  %s-%s\n", pkg.Name, pkg.Version)
		}
	}
	if len(tx.ToInstall) > 0 {
		fmt.Println("The following packages will be installed:")
		var total int64
		for _, inst := range tx.ToInstall {
			fmt.Printf("  %s-%s\n", inst.Package.Name, inst.Package.Version)
			total += inst.Package.InstalledSize
		}
		if total > 0 {
			fmt.Printf("Total installed size: %d bytes\n", total)
		}
	}
}

// downloadArchives fetches every to-install archive into the cache with
// mirror fallback, verifies checksums (unless --skip-crypto), and fills in
// each installation's archive path.
func (a *app) downloadArchives(ctx context.Context, repos *repomanager.Manager, tx *pkgdata.Transaction) error {
	if len(tx.ToInstall) == 0 {
		return nil
	}

	jobs := make([]*downloader.Job, 0, len(tx.ToInstall))
	dests := make([]string, 0, len(tx.ToInstall))
	for _, inst := range tx.ToInstall {
		pkg := inst.Package
		mirrors, err := repos.GetRepoURLs(pkg.RepoName)
		if err != nil {
			return aurorerr.Wrap(aurorerr.KindDownloadFailed,
				fmt.Sprintf("no mirrors for repository %s", pkg.RepoName), err).WithResource(pkg.Name)
		}

		archiveName := fmt.Sprintf("%s-%s.au", pkg.Name, pkg.Version)
		urls := make([]string, len(mirrors))
		for i, base := range mirrors {
			urls[i] = strings.TrimRight(base, "/") + "/" + archiveName
		}

		dest := a.cfg.ArchiveCachePath() + "/" + archiveName
		jobs = append(jobs, &downloader.Job{URLs: urls, Destination: dest, DisplayName: archiveName})
		dests = append(dests, dest)
	}

	a.dl.SetProgressFunc(printDownloadProgress)
	ok, err := a.dl.DownloadAll(ctx, jobs)
	if err != nil {
		return aurorerr.Wrap(aurorerr.KindDownloadFailed, "downloading package archives", err)
	}
	if !ok {
		for _, job := range jobs {
			if msg := job.ErrorMessage(); msg != "" {
				a.logger.Errorf("%s: %s", job.DisplayName, msg)
			}
		}
		return aurorerr.New(aurorerr.KindDownloadFailed, "one or more package downloads failed")
	}

	if !a.cfg.SkipCrypto {
		for i, inst := range tx.ToInstall {
			match, err := integrity.VerifyChecksum(dests[i], inst.Package.Checksum)
			if err != nil {
				return aurorerr.Wrap(aurorerr.KindChecksumMismatch,
					fmt.Sprintf("hashing %s", inst.Package.Name), err)
			}
			if !match {
				return aurorerr.New(aurorerr.KindChecksumMismatch,
					fmt.Sprintf("archive for %s does not match its declared checksum", inst.Package.Name)).
					WithResource(inst.Package.Name)
			}
		}
	}

	for i := range tx.ToInstall {
		tx.ToInstall[i].ArchivePath = dests[i]
	}
	return nil
}

// printDownloadProgress is the downloader's rate-limited progress paint.
func printDownloadProgress(jobs []*downloader.Job) {
	for _, job := range jobs {
		if job.Finished() {
			continue
		}
		total := job.TotalBytes()
		done := job.DownloadedBytes()
		if total > 0 {
			fmt.Printf("\r%s: %d/%d bytes (%d B/s)", job.DisplayName, done, total, job.SpeedBPS())
		} else {
			fmt.Printf("\r%s: %d bytes (%d B/s)", job.DisplayName, done, job.SpeedBPS())
		}
	}
}
