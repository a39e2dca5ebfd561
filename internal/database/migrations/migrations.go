package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

var (
	// ErrUnversioned means the catalog has never been migrated.
	ErrUnversioned = errors.New("catalog has no schema version (needs migration)")

	// ErrDirty means a previous migration stopped halfway.
	ErrDirty = errors.New("catalog schema is dirty (a migration failed previously)")

	// ErrBehind means the catalog needs pending migrations.
	ErrBehind = errors.New("catalog schema is behind this binary")

	// ErrAhead means the catalog was written by a newer binary.
	ErrAhead = errors.New("catalog schema is ahead of this binary")
)

// SchemaVersion reports where a catalog stands relative to the embedded
// migrations.
type SchemaVersion struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Check maps the version pair to one of the sentinel errors, or nil when the
// catalog is current.
func (v SchemaVersion) Check() error {
	switch {
	case v.Dirty:
		return fmt.Errorf("%w: version %d", ErrDirty, v.Current)
	case v.Current < v.Latest:
		return fmt.Errorf("%w: at version %d, latest is %d", ErrBehind, v.Current, v.Latest)
	case v.Current > v.Latest:
		return fmt.Errorf("%w: at version %d, binary knows %d", ErrAhead, v.Current, v.Latest)
	}
	return nil
}

// ReadSchemaVersion reads the catalog's migration state. An unmigrated
// catalog yields ErrUnversioned.
func ReadSchemaVersion(db *sql.DB) (SchemaVersion, error) {
	latest, err := LatestVersion()
	if err != nil {
		return SchemaVersion{}, err
	}
	m, err := newMigrate(db)
	if err != nil {
		return SchemaVersion{}, err
	}
	// Closing m would close db, which belongs to the caller.

	current, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{Latest: latest}, ErrUnversioned
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("reading schema version: %w", err)
	}
	return SchemaVersion{Current: current, Latest: latest, Dirty: dirty}, nil
}

// CheckSchema returns nil when the catalog is at the latest version.
func CheckSchema(db *sql.DB) error {
	v, err := ReadSchemaVersion(db)
	if err != nil {
		return err
	}
	return v.Check()
}

// MigrateUp applies every pending migration. A current catalog is a no-op.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating catalog: %w", err)
	}
	return nil
}

// MigrateTo moves the catalog up or down to version.
func MigrateTo(db *sql.DB, version uint) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating catalog to version %d: %w", version, err)
	}
	return nil
}

// LatestVersion returns the highest migration embedded in the binary.
func LatestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// lastVersion walks the source until Next reports no further migration.
func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no embedded migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
