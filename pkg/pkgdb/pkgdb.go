// Package pkgdb persists aurora's two package catalogs (installed,
// available) and the relational file-ownership table backing conflict
// detection, on top of modernc.org/sqlite with schema managed by
// golang-migrate.
package pkgdb

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"

	"github.com/aurora-pkg/aurora/pkg/pkgdata"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds database connection configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the sqlite-backed implementation of aurora's package database.
type Store struct {
	db   *sql.DB
	path string
}

// New creates a Store from cfg without opening a connection. Call Init then
// Migrate before using it.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("pkgdb: database path is required")
	}
	return &Store{path: cfg.Path}, nil
}

// Init opens the database connection with aurora's standard pragmas.
// modernc's driver only honors the _pragma=name(value) query form, and a
// pragma set that way applies to every pooled connection — foreign_keys in
// particular is a per-connection setting, and the owned_files ON DELETE
// CASCADE depends on it being enforced.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("pkgdb: opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("pkgdb: pinging database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate() error {
	if s.db == nil {
		return fmt.Errorf("pkgdb: database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("pkgdb: creating migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("pkgdb: creating database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("pkgdb: creating migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("pkgdb: running migrations: %w", err)
	}

	return nil
}

func marshalList(list []string) string {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func unmarshalList(raw string) []string {
	var list []string
	if raw == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(raw), &list)
	return list
}

const packageColumns = "name, version, arch, repo_name, description, installed_size, deps, makedepends, conflicts, replaces, provides, files, pre_install, post_install, pre_remove, post_remove, checksum"

func scanPackage(row interface {
	Scan(dest ...any) error
}) (pkgdata.Package, error) {
	var p pkgdata.Package
	var deps, makedepends, conflicts, replaces, provides, files string

	err := row.Scan(
		&p.Name, &p.Version, &p.Arch, &p.RepoName, &p.Description, &p.InstalledSize,
		&deps, &makedepends, &conflicts, &replaces, &provides, &files,
		&p.PreInstall, &p.PostInstall, &p.PreRemove, &p.PostRemove, &p.Checksum,
	)
	if err != nil {
		return pkgdata.Package{}, err
	}

	p.Deps = unmarshalList(deps)
	p.MakeDepends = unmarshalList(makedepends)
	p.Conflicts = unmarshalList(conflicts)
	p.Replaces = unmarshalList(replaces)
	p.Provides = unmarshalList(provides)
	p.Files = unmarshalList(files)

	return p, nil
}

func packageArgs(p pkgdata.Package) []any {
	return []any{
		p.Name, p.Version, p.Arch, p.RepoName, p.Description, p.InstalledSize,
		marshalList(p.Deps), marshalList(p.MakeDepends), marshalList(p.Conflicts),
		marshalList(p.Replaces), marshalList(p.Provides), marshalList(p.Files),
		p.PreInstall, p.PostInstall, p.PreRemove, p.PostRemove, p.Checksum,
	}
}

// AddInstalled inserts or replaces an installed package record along with
// its owned_files rows, in one transaction.
func (s *Store) AddInstalled(ctx context.Context, pkg pkgdata.InstalledPackage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pkgdb: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertInstalled(ctx, tx, pkg); err != nil {
		return err
	}

	return tx.Commit()
}

func insertInstalled(ctx context.Context, tx *sql.Tx, pkg pkgdata.InstalledPackage) error {
	args := append(packageArgs(pkg.Package), pkg.InstallDate.UTC().Format(time.RFC3339))
	query := fmt.Sprintf("INSERT OR REPLACE INTO installed (%s, install_date) VALUES (%s, ?)",
		packageColumns, placeholders(17))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("pkgdb: inserting installed package %s: %w", pkg.Name, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM owned_files WHERE pkg_name = ?", pkg.Name); err != nil {
		return fmt.Errorf("pkgdb: clearing owned files for %s: %w", pkg.Name, err)
	}

	for _, path := range pkg.OwnedFiles {
		if _, err := tx.ExecContext(ctx, "INSERT INTO owned_files (pkg_name, path) VALUES (?, ?)", pkg.Name, path); err != nil {
			return fmt.Errorf("pkgdb: recording owned file %s for %s: %w", path, pkg.Name, err)
		}
	}

	return nil
}

func placeholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += "?"
	}
	return out
}

// RemoveInstalled deletes an installed package and its owned_files rows
// (cascaded via the foreign key).
func (s *Store) RemoveInstalled(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM installed WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("pkgdb: removing installed package %s: %w", name, err)
	}
	return nil
}

// GetInstalled fetches a single installed package record.
func (s *Store) GetInstalled(ctx context.Context, name string) (pkgdata.InstalledPackage, error) {
	query := fmt.Sprintf("SELECT %s, install_date FROM installed WHERE name = ?", packageColumns)
	row := s.db.QueryRowContext(ctx, query, name)

	var pkg pkgdata.InstalledPackage
	var installDate string
	var deps, makedepends, conflicts, replaces, provides, files string

	err := row.Scan(
		&pkg.Name, &pkg.Version, &pkg.Arch, &pkg.RepoName, &pkg.Description, &pkg.InstalledSize,
		&deps, &makedepends, &conflicts, &replaces, &provides, &files,
		&pkg.PreInstall, &pkg.PostInstall, &pkg.PreRemove, &pkg.PostRemove, &pkg.Checksum,
		&installDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return pkgdata.InstalledPackage{}, fmt.Errorf("pkgdb: package %s is not installed: %w", name, err)
	}
	if err != nil {
		return pkgdata.InstalledPackage{}, fmt.Errorf("pkgdb: fetching installed package %s: %w", name, err)
	}

	pkg.Deps = unmarshalList(deps)
	pkg.MakeDepends = unmarshalList(makedepends)
	pkg.Conflicts = unmarshalList(conflicts)
	pkg.Replaces = unmarshalList(replaces)
	pkg.Provides = unmarshalList(provides)
	pkg.Files = unmarshalList(files)
	pkg.InstallDate, _ = time.Parse(time.RFC3339, installDate)

	pkg.OwnedFiles, err = s.ownedFilesFor(ctx, name)
	if err != nil {
		return pkgdata.InstalledPackage{}, err
	}

	return pkg, nil
}

func (s *Store) ownedFilesFor(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path FROM owned_files WHERE pkg_name = ? ORDER BY path", name)
	if err != nil {
		return nil, fmt.Errorf("pkgdb: listing owned files for %s: %w", name, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// IsInstalled reports whether a package by that name is currently installed.
func (s *Store) IsInstalled(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM installed WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("pkgdb: checking installed status of %s: %w", name, err)
	}
	return count > 0, nil
}

// ListInstalled returns every installed package, ordered by name.
func (s *Store) ListInstalled(ctx context.Context) ([]pkgdata.InstalledPackage, error) {
	query := fmt.Sprintf("SELECT %s, install_date FROM installed ORDER BY name", packageColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pkgdb: listing installed packages: %w", err)
	}
	defer rows.Close()

	var result []pkgdata.InstalledPackage
	for rows.Next() {
		var pkg pkgdata.InstalledPackage
		var installDate string
		var deps, makedepends, conflicts, replaces, provides, files string

		err := rows.Scan(
			&pkg.Name, &pkg.Version, &pkg.Arch, &pkg.RepoName, &pkg.Description, &pkg.InstalledSize,
			&deps, &makedepends, &conflicts, &replaces, &provides, &files,
			&pkg.PreInstall, &pkg.PostInstall, &pkg.PreRemove, &pkg.PostRemove, &pkg.Checksum,
			&installDate,
		)
		if err != nil {
			return nil, err
		}

		pkg.Deps = unmarshalList(deps)
		pkg.MakeDepends = unmarshalList(makedepends)
		pkg.Conflicts = unmarshalList(conflicts)
		pkg.Replaces = unmarshalList(replaces)
		pkg.Provides = unmarshalList(provides)
		pkg.Files = unmarshalList(files)
		pkg.InstallDate, _ = time.Parse(time.RFC3339, installDate)

		result = append(result, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		owned, err := s.ownedFilesFor(ctx, result[i].Name)
		if err != nil {
			return nil, err
		}
		result[i].OwnedFiles = owned
	}

	return result, nil
}

// SyncAvailable atomically replaces the entire available catalog: the prior
// contents are either fully replaced or, on any error, left untouched.
func (s *Store) SyncAvailable(ctx context.Context, pkgs []pkgdata.Package) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pkgdb: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM available"); err != nil {
		return fmt.Errorf("pkgdb: clearing available catalog: %w", err)
	}

	// OR REPLACE: when two repos serve the same package name, the later
	// one in sync order wins rather than failing the whole sync.
	query := fmt.Sprintf("INSERT OR REPLACE INTO available (%s) VALUES (%s)", packageColumns, placeholders(17))
	for _, pkg := range pkgs {
		if _, err := tx.ExecContext(ctx, query, packageArgs(pkg)...); err != nil {
			return fmt.Errorf("pkgdb: inserting available package %s: %w", pkg.Name, err)
		}
	}

	return tx.Commit()
}

// FindAvailable fetches a single package from the available catalog.
func (s *Store) FindAvailable(ctx context.Context, name string) (pkgdata.Package, error) {
	query := fmt.Sprintf("SELECT %s FROM available WHERE name = ?", packageColumns)
	row := s.db.QueryRowContext(ctx, query, name)

	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pkgdata.Package{}, fmt.Errorf("pkgdb: package %s not found in available catalog: %w", name, err)
	}
	if err != nil {
		return pkgdata.Package{}, fmt.Errorf("pkgdb: fetching available package %s: %w", name, err)
	}
	return pkg, nil
}

// ListAvailable returns every package in the available catalog.
func (s *Store) ListAvailable(ctx context.Context) ([]pkgdata.Package, error) {
	query := fmt.Sprintf("SELECT %s FROM available ORDER BY name", packageColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pkgdb: listing available packages: %w", err)
	}
	defer rows.Close()

	var result []pkgdata.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pkg)
	}
	return result, rows.Err()
}

// PerformTransactionalUpdate commits every add and every remove of a
// completed executor run in one database transaction. This is the only
// mutation the executor's commit phase performs.
func (s *Store) PerformTransactionalUpdate(ctx context.Context, adds []pkgdata.InstalledPackage, removes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pkgdb: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, name := range removes {
		if _, err := tx.ExecContext(ctx, "DELETE FROM installed WHERE name = ?", name); err != nil {
			return fmt.Errorf("pkgdb: removing %s: %w", name, err)
		}
	}

	for _, pkg := range adds {
		if err := insertInstalled(ctx, tx, pkg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListOwnedFiles returns the full path -> pkg_name ownership map in one
// query, replacing a scan of every installed package's file list.
func (s *Store) ListOwnedFiles(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, pkg_name FROM owned_files")
	if err != nil {
		return nil, fmt.Errorf("pkgdb: listing owned files: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var path, pkgName string
		if err := rows.Scan(&path, &pkgName); err != nil {
			return nil, err
		}
		result[path] = pkgName
	}
	return result, rows.Err()
}
