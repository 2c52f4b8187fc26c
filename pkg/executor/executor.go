// Package executor drives the backup -> stage -> commit -> hook pipeline
// that turns a planned pkgdata.Transaction into on-disk and database
// reality, rolling back every filesystem mutation if any phase before the
// database commit fails.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aurora-pkg/aurora/pkg/archivecodec"
	"github.com/aurora-pkg/aurora/pkg/aurorerr"
	"github.com/aurora-pkg/aurora/pkg/pkgdata"
	"github.com/aurora-pkg/aurora/pkg/telemetry"
)

// Store is the subset of pkgdb.Store the executor needs.
type Store interface {
	PerformTransactionalUpdate(ctx context.Context, adds []pkgdata.InstalledPackage, removes []string) error
}

// ScriptRunner is the subset of scriptsandbox.Sandbox the executor needs.
type ScriptRunner interface {
	Run(ctx context.Context, scriptSource string, targetRoot string) error
}

// Executor drives one transaction's phase pipeline against targetRoot,
// using cachePath for its per-transaction workspace.
type Executor struct {
	store      Store
	scripts    ScriptRunner
	metrics    *telemetry.Metrics
	logger     *telemetry.Logger
	targetRoot string
	cachePath  string

	// idFunc generates the transaction id. Overridable by tests so runs are
	// deterministic; defaults to a monotone-looking hex timestamp.
	idFunc func() string
}

// New creates an Executor.
func New(store Store, scripts ScriptRunner, metrics *telemetry.Metrics, logger *telemetry.Logger, targetRoot, cachePath string) *Executor {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Executor{
		store:      store,
		scripts:    scripts,
		metrics:    metrics,
		logger:     logger.NewComponentLogger("executor"),
		targetRoot: targetRoot,
		cachePath:  cachePath,
		idFunc:     defaultTransactionID,
	}
}

func defaultTransactionID() string {
	return fmt.Sprintf("%x", time.Now().UTC().UnixNano())
}

// Execute runs the full phase pipeline for plan. If plan.IsEmpty(), it
// returns nil immediately without touching the filesystem or database.
func (e *Executor) Execute(ctx context.Context, plan pkgdata.Transaction) error {
	if plan.IsEmpty() {
		return nil
	}

	workspace, backupDir, err := e.phase0Init()
	if err != nil {
		return err
	}
	defer e.phase5Cleanup(workspace)

	journal := pkgdata.NewJournal()

	if err := e.phase1Backup(plan, backupDir, journal); err != nil {
		e.rollback(journal)
		return err
	}

	if err := ctx.Err(); err != nil {
		e.rollback(journal)
		return err
	}

	if err := e.phase1bPreRemoveHooks(ctx, plan, backupDir); err != nil {
		e.rollback(journal)
		return err
	}

	completedInstalls, err := e.phase2StageAndInstall(ctx, plan, workspace, journal)
	if err != nil {
		e.rollback(journal)
		return err
	}

	if err := ctx.Err(); err != nil {
		e.rollback(journal)
		return err
	}

	removedNames := make([]string, 0, len(plan.ToRemove))
	for _, pkg := range plan.ToRemove {
		removedNames = append(removedNames, pkg.Name)
	}

	if err := e.phase3DatabaseCommit(ctx, completedInstalls, removedNames); err != nil {
		e.rollback(journal)
		return err
	}

	e.phase4PostHooks(ctx, completedInstalls, plan.ToRemove, backupDir)

	return nil
}

func (e *Executor) observePhase(phase string, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObservePhaseDuration(phase, time.Since(start).Seconds())
	}
}

// phase0Init creates the per-transaction workspace and backup subdirectory.
func (e *Executor) phase0Init() (workspace, backupDir string, err error) {
	start := time.Now()
	defer e.observePhase("init", start)

	id := e.idFunc()
	workspace = filepath.Join(e.cachePath, "pkg", "tx", id)
	backupDir = filepath.Join(workspace, "backup")

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", "", aurorerr.Wrap(aurorerr.KindFileSystemError, "creating transaction workspace", err)
	}

	return workspace, backupDir, nil
}

// phase1Backup atomically moves every live owned file of a to-remove
// package into the backup directory, recording the mapping in journal.
func (e *Executor) phase1Backup(plan pkgdata.Transaction, backupDir string, journal *pkgdata.Journal) error {
	start := time.Now()
	defer e.observePhase("backup", start)

	for _, pkg := range plan.ToRemove {
		for _, relPath := range pkg.OwnedFiles {
			livePath := filepath.Join(e.targetRoot, relPath)

			if _, err := os.Lstat(livePath); err != nil {
				continue
			}

			backupPath := filepath.Join(backupDir, relPath)
			if err := os.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
				return aurorerr.Wrap(aurorerr.KindFileSystemError, "creating backup parent directory", err)
			}

			if err := os.Rename(livePath, backupPath); err != nil {
				return aurorerr.Wrap(aurorerr.KindFileSystemError, fmt.Sprintf("backing up %s", relPath), err)
			}

			journal.RecordBackup(relPath, backupPath)
		}
	}

	return nil
}

// phase1bPreRemoveHooks runs each to-remove package's pre_remove script from
// the backup directory, where the script file now lives.
func (e *Executor) phase1bPreRemoveHooks(ctx context.Context, plan pkgdata.Transaction, backupDir string) error {
	start := time.Now()
	defer e.observePhase("pre_remove_hooks", start)

	if e.scripts == nil {
		return nil
	}

	for _, pkg := range plan.ToRemove {
		if pkg.PreRemove == "" {
			continue
		}

		scriptPath := filepath.Join(backupDir, pkg.PreRemove)
		source, err := os.ReadFile(scriptPath)
		if err != nil {
			return aurorerr.Wrap(aurorerr.KindScriptletFailed, fmt.Sprintf("reading pre_remove script for %s", pkg.Name), err)
		}

		if err := e.scripts.Run(ctx, string(source), e.targetRoot); err != nil {
			return aurorerr.Wrap(aurorerr.KindScriptletFailed, fmt.Sprintf("pre_remove failed for %s", pkg.Name), err)
		}
	}

	return nil
}

// phase2StageAndInstall extracts each to-install archive to a private
// staging directory, runs its pre_install hook, then moves every extracted
// file into its final location under the target root.
func (e *Executor) phase2StageAndInstall(ctx context.Context, plan pkgdata.Transaction, workspace string, journal *pkgdata.Journal) ([]pkgdata.InstalledPackage, error) {
	start := time.Now()
	defer e.observePhase("stage_and_install", start)

	var completed []pkgdata.InstalledPackage

	for _, inst := range plan.ToInstall {
		stagingDir := filepath.Join(workspace, "staging", inst.Package.Name)

		manifest, err := archivecodec.Extract(inst.ArchivePath, stagingDir)
		if err != nil {
			return completed, aurorerr.Wrap(aurorerr.KindExtractionFailed, fmt.Sprintf("extracting %s", inst.Package.Name), err)
		}

		if e.scripts != nil && inst.Package.PreInstall != "" {
			scriptPath := filepath.Join(stagingDir, inst.Package.PreInstall)
			source, err := os.ReadFile(scriptPath)
			if err != nil {
				return completed, aurorerr.Wrap(aurorerr.KindScriptletFailed, fmt.Sprintf("reading pre_install script for %s", inst.Package.Name), err)
			}
			if err := e.scripts.Run(ctx, string(source), e.targetRoot); err != nil {
				return completed, aurorerr.Wrap(aurorerr.KindScriptletFailed, fmt.Sprintf("pre_install failed for %s", inst.Package.Name), err)
			}
		}

		var owned []string
		for _, relPath := range manifest {
			srcPath := filepath.Join(stagingDir, relPath)
			destPath := filepath.Join(e.targetRoot, relPath)

			if _, err := os.Lstat(destPath); err == nil {
				return completed, aurorerr.New(aurorerr.KindFileConflict, fmt.Sprintf("%s already exists on target root", relPath)).WithResource(relPath)
			}

			if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
				return completed, aurorerr.Wrap(aurorerr.KindFileSystemError, "creating destination parent directory", err)
			}

			if err := os.Rename(srcPath, destPath); err != nil {
				return completed, aurorerr.Wrap(aurorerr.KindFileSystemError, fmt.Sprintf("installing %s", relPath), err)
			}

			journal.RecordInstalledFile(relPath)
			owned = append(owned, relPath)
		}

		_ = os.RemoveAll(stagingDir)

		completed = append(completed, pkgdata.InstalledPackage{
			Package:     inst.Package,
			InstallDate: time.Now().UTC(),
			OwnedFiles:  owned,
		})
	}

	return completed, nil
}

// phase3DatabaseCommit is the single atomic boundary separating the
// rollbackable half of execution from the committed half.
func (e *Executor) phase3DatabaseCommit(ctx context.Context, completedInstalls []pkgdata.InstalledPackage, removedNames []string) error {
	start := time.Now()
	defer e.observePhase("database_commit", start)

	if err := e.store.PerformTransactionalUpdate(ctx, completedInstalls, removedNames); err != nil {
		return aurorerr.Wrap(aurorerr.KindFileSystemError, "committing transaction to database", err)
	}
	return nil
}

// phase4PostHooks runs advisory post-install and post-remove hooks. Hook
// failures are logged and never trigger rollback: the database has already
// committed.
func (e *Executor) phase4PostHooks(ctx context.Context, installed []pkgdata.InstalledPackage, removed []pkgdata.InstalledPackage, backupDir string) {
	start := time.Now()
	defer e.observePhase("post_hooks", start)

	if e.scripts == nil {
		return
	}

	for _, pkg := range installed {
		if pkg.PostInstall == "" {
			continue
		}
		scriptPath := filepath.Join(e.targetRoot, pkg.PostInstall)
		source, err := os.ReadFile(scriptPath)
		if err != nil {
			e.logger.WithError(err).Warnf("reading post_install script for %s", pkg.Name)
			continue
		}
		if err := e.scripts.Run(ctx, string(source), e.targetRoot); err != nil {
			e.logger.WithError(err).Warnf("post_install failed for %s", pkg.Name)
		}
	}

	for _, pkg := range removed {
		if pkg.PostRemove == "" {
			continue
		}
		scriptPath := filepath.Join(backupDir, pkg.PostRemove)
		source, err := os.ReadFile(scriptPath)
		if err != nil {
			e.logger.WithError(err).Warnf("reading post_remove script for %s", pkg.Name)
			continue
		}
		if err := e.scripts.Run(ctx, string(source), e.targetRoot); err != nil {
			e.logger.WithError(err).Warnf("post_remove failed for %s", pkg.Name)
		}
	}
}

// phase5Cleanup removes the transaction workspace.
func (e *Executor) phase5Cleanup(workspace string) {
	start := time.Now()
	defer e.observePhase("cleanup", start)

	if err := os.RemoveAll(workspace); err != nil {
		e.logger.WithError(err).Warnf("cleaning up workspace %s", workspace)
	}
}

// rollback undoes every filesystem mutation recorded in journal, in reverse
// order. It is best-effort: each step logs its own failure and continues.
func (e *Executor) rollback(journal *pkgdata.Journal) {
	for i := len(journal.NewFilesCommitted) - 1; i >= 0; i-- {
		relPath := journal.NewFilesCommitted[i]
		path := filepath.Join(e.targetRoot, relPath)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.WithError(err).Warnf("rollback: removing %s", relPath)
		}
	}

	for originalPath, backupPath := range journal.OldFilesBackedUp {
		dest := filepath.Join(e.targetRoot, originalPath)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			e.logger.WithError(err).Warnf("rollback: recreating parent directory for %s", originalPath)
			continue
		}
		if err := os.Rename(backupPath, dest); err != nil {
			e.logger.WithError(err).Warnf("rollback: restoring %s", originalPath)
		}
	}
}
