package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openlook/gazeline/internal/gaze"
)

// Migrations ride along in the binary so a deployed tracker can bring its
// own database up to date without a checkout.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrateUp runs all pending migrations up to the latest version.
// Returns nil if no migrations were needed (already at latest version).
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB
	// connection. The migrate instance will be garbage collected.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB connection.

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	return nil
}

// MigrateVersion returns the current migration version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	// Note: We don't close m here because it would close the underlying DB connection.

	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		// No migrations applied yet
		return 0, false, nil
	}

	return version, dirty, err
}

// MigrateForce forces the migration version to a specific value.
// This should only be used to recover from a dirty migration state.
func (s *Store) MigrateForce(version int) error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB connection.

	if err := m.Force(version); err != nil {
		return fmt.Errorf("force migration to version %d failed: %w", version, err)
	}

	return nil
}

// MigrateTo migrates up or down to a specific version.
func (s *Store) MigrateTo(version uint) error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB connection.

	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}

	return nil
}

// newMigrate creates a migrate instance reading the embedded migration
// files and writing through this store's open connection.
func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.DB, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	return m, nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	gaze.Diagf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// ensureSchemaMigrationsTable ensures the schema_migrations table exists.
// golang-migrate creates it automatically; baselining needs it up front.
func (s *Store) ensureSchemaMigrationsTable() error {
	_, err := s.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER NOT NULL,
			dirty INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS version_unique ON schema_migrations (version);
	`)
	return err
}

// BaselineAtVersion creates a schema_migrations entry at the specified
// version without running any migrations. Use it to adopt a database whose
// schema was created before migrations were introduced.
func (s *Store) BaselineAtVersion(version uint) error {
	if err := s.ensureSchemaMigrationsTable(); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	var count int
	if err := s.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("failed to check existing migrations: %w", err)
	}

	if count > 0 {
		return fmt.Errorf("database already has migrations applied, cannot baseline")
	}

	if _, err := s.Exec("INSERT INTO schema_migrations (version, dirty) VALUES (?, 0)", version); err != nil {
		return fmt.Errorf("failed to insert baseline version: %w", err)
	}

	gaze.Opsf("database baselined at version %d", version)
	return nil
}

// GetMigrationStatus returns a summary of the migration status including
// current version, dirty state, and whether the migrations table exists.
func (s *Store) GetMigrationStatus() (map[string]interface{}, error) {
	version, dirty, err := s.MigrateVersion()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("failed to get migration version: %w", err)
	}

	status := map[string]interface{}{
		"current_version": version,
		"dirty":           dirty,
	}

	var tableExists bool
	err = s.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&tableExists)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}

	status["schema_migrations_exists"] = tableExists

	return status, nil
}

// LatestMigrationVersion returns the newest version available in the
// embedded migration files.
func LatestMigrationVersion() (uint, error) {
	entries, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	if len(entries) == 0 {
		return 0, fmt.Errorf("no migration files embedded")
	}

	// Migration files follow format: migrations/000001_name.up.sql
	var maxVersion uint
	for _, entry := range entries {
		var version uint
		if _, err := fmt.Sscanf(entry, "migrations/%d_", &version); err == nil {
			if version > maxVersion {
				maxVersion = version
			}
		}
	}

	if maxVersion == 0 {
		return 0, fmt.Errorf("could not determine latest migration version")
	}

	return maxVersion, nil
}

// CheckMigrations compares the database version against the latest embedded
// migration. Returns true (with a descriptive error) when the database needs
// operator attention before the store is safe to use.
func (s *Store) CheckMigrations() (bool, error) {
	currentVersion, dirty, err := s.MigrateVersion()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return false, fmt.Errorf("failed to get current migration version: %w", err)
	}

	latestVersion, err := LatestMigrationVersion()
	if err != nil {
		return false, fmt.Errorf("failed to get latest migration version: %w", err)
	}

	if currentVersion == latestVersion && !dirty {
		return false, nil
	}

	if dirty {
		return true, fmt.Errorf("database is in a dirty state (version %d). Run 'gazeline migrate status' to diagnose", currentVersion)
	}

	if currentVersion > latestVersion {
		return true, fmt.Errorf("database version (%d) is ahead of latest migration (%d). This should not happen", currentVersion, latestVersion)
	}

	gaze.Opsf("database schema out of date: version %d, latest %d (%d outstanding)", currentVersion, latestVersion, latestVersion-currentVersion)
	gaze.Opsf("run 'gazeline migrate up' to apply outstanding migrations")

	return true, fmt.Errorf("database schema is out of date (version %d, need %d). Please run migrations", currentVersion, latestVersion)
}
