// Package pkgdata holds the domain types shared by every aurora component:
// the package descriptor, the installed-package record, the transaction the
// planner hands to the executor, and the filesystem journal the executor
// builds while it runs. Nothing here talks to disk or the database — those
// mappings live in pkg/metadatacodec and pkg/pkgdb respectively.
package pkgdata

import "time"

// Package is the static metadata for a buildable artifact, parsed from a
// repository index entry or a package archive's .AURORA_META file.
type Package struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Arch        string `json:"arch"`
	RepoName    string `json:"repo_name,omitempty"`
	Description string `json:"description,omitempty"`

	// InstalledSize is the declared payload size in bytes. Zero means
	// unknown; the planner's space check treats zero as best-effort.
	InstalledSize int64 `json:"installed_size"`

	Deps        []string `json:"deps,omitempty"`
	MakeDepends []string `json:"makedepends,omitempty"`
	Conflicts   []string `json:"conflicts,omitempty"`
	Replaces    []string `json:"replaces,omitempty"`
	Provides    []string `json:"provides,omitempty"`

	// Files is the ordered list of relative paths the package's archive
	// claims to own.
	Files []string `json:"files,omitempty"`

	PreInstall  string `json:"pre_install,omitempty"`
	PostInstall string `json:"post_install,omitempty"`
	PreRemove   string `json:"pre_remove,omitempty"`
	PostRemove  string `json:"post_remove,omitempty"`

	// Checksum is the hex-encoded SHA-256 digest of the package archive.
	Checksum string `json:"checksum"`
}

// ProvidesName reports whether the package satisfies a dependency on name,
// either by exact-name match or by declaring it in Provides.
func (p Package) ProvidesName(name string) bool {
	if p.Name == name {
		return true
	}
	for _, provided := range p.Provides {
		if provided == name {
			return true
		}
	}
	return false
}

// InstalledPackage is the superset of Package recorded once the executor
// commits an install: it additionally tracks when the package landed and
// exactly which files were extracted (OwnedFiles may differ slightly from
// Files if the archive carried extras).
type InstalledPackage struct {
	Package

	InstallDate time.Time `json:"install_date"`
	OwnedFiles  []string  `json:"owned_files"`
}

// PackageInstallation pairs a resolved Package with the local path of its
// downloaded (or locally supplied) archive, ready for the executor to
// extract.
type PackageInstallation struct {
	Package     Package `json:"package"`
	ArchivePath string  `json:"archive_path"`
}

// Transaction is the concrete unit of work the planner hands to the
// executor: the packages to install (each paired with its archive path)
// and the installed records to remove.
type Transaction struct {
	ToInstall []PackageInstallation `json:"to_install"`
	ToRemove  []InstalledPackage    `json:"to_remove"`
}

// IsEmpty reports whether the transaction has nothing to do.
func (t Transaction) IsEmpty() bool {
	return len(t.ToInstall) == 0 && len(t.ToRemove) == 0
}

// Journal is the in-memory record of filesystem changes made during one
// transaction's execution, built up incrementally and consumed by rollback
// in reverse order.
type Journal struct {
	// NewFilesCommitted is every path moved into its final location during
	// Phase 2, in the order it happened.
	NewFilesCommitted []string

	// OldFilesBackedUp maps each original live path to the backup path it
	// was moved to during Phase 1.
	OldFilesBackedUp map[string]string
}

// NewJournal returns an empty journal ready for incremental construction.
func NewJournal() *Journal {
	return &Journal{
		OldFilesBackedUp: make(map[string]string),
	}
}

// RecordInstalledFile appends path to the set of newly committed files.
func (j *Journal) RecordInstalledFile(path string) {
	j.NewFilesCommitted = append(j.NewFilesCommitted, path)
}

// RecordBackup records that originalPath was moved to backupPath.
func (j *Journal) RecordBackup(originalPath, backupPath string) {
	j.OldFilesBackedUp[originalPath] = backupPath
}

// IsEmpty reports whether nothing has been recorded yet; used by the
// rollback-idempotence property (rolling back an empty journal is a no-op).
func (j *Journal) IsEmpty() bool {
	return len(j.NewFilesCommitted) == 0 && len(j.OldFilesBackedUp) == 0
}
