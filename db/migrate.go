package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// migrationsDir locates db/migrations relative to the working directory,
// probing the spots different execution contexts leave us in (repo root,
// db/, container workdir).
func migrationsDir() (string, error) {
	for _, candidate := range []string{"db/migrations", "migrations", "./db/migrations", "./migrations"} {
		info, err := os.Stat(candidate)
		if err != nil || !info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(candidate)
		if err != nil {
			return "", fmt.Errorf("resolve migrations path %s: %w", candidate, err)
		}
		return "file://" + abs, nil
	}
	return "", errors.New("migrations directory not found (looked for db/migrations and migrations)")
}

// RunMigrations applies versioned migrations from db/migrations/
// (000001_description.{up,down}.sql). Safe to run repeatedly; an
// already-current schema is a no-op.
func RunMigrations(db *sql.DB) error {
	path, err := migrationsDir()
	if err != nil {
		return err
	}
	return RunMigrationsFromPath(db, path)
}

// RunMigrationsFromPath applies migrations from a custom source (used by
// tests).
func RunMigrationsFromPath(db *sql.DB, path string) error {
	m, err := newMigrator(db, path)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("database schema is up to date", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("could not determine migration version", slog.Any("error", err), slog.String("component", "db_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("database is dirty at version %d, manual intervention required", version)
	}

	slog.Info("migrations applied", slog.Uint64("version", uint64(version)), slog.String("component", "db_migrate"))
	return nil
}

// MigrationVersion reports the current schema version and dirty state. A
// database with no schema_migrations rows reports version 0.
func MigrationVersion(db *sql.DB) (version uint, dirty bool, err error) {
	path, err := migrationsDir()
	if err != nil {
		return 0, false, err
	}
	m, err := newMigrator(db, path)
	if err != nil {
		return 0, false, err
	}
	v, d, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return v, d, nil
}

func newMigrator(db *sql.DB, path string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}
