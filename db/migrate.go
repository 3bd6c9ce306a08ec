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

// getMigrationsPath returns the path to the migrations directory. It probes a
// few locations to handle different execution contexts (repo root, package
// dir, container workdir).
func getMigrationsPath() (string, error) {
	possiblePaths := []string{
		"db/migrations",
		"migrations",
		"./db/migrations",
		"./migrations",
	}

	for _, path := range possiblePaths {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(path)
			if err != nil {
				return "", fmt.Errorf("failed to get absolute path for %s: %w", path, err)
			}
			return "file://" + absPath, nil
		}
	}

	return "", fmt.Errorf("migrations directory not found in any of the expected locations: %v", possiblePaths)
}

// RunMigrations runs versioned database migrations using golang-migrate from
// db/migrations/. Idempotent and safe to run multiple times. Deployments
// created before version tracking fall back to the embedded Migrate.
func RunMigrations(db *sql.DB) error {
	migrationsPath, err := getMigrationsPath()
	if err != nil {
		return err
	}
	return RunMigrationsFromPath(db, migrationsPath)
}

// RunMigrationsFromPath runs migrations from a custom path. Useful for tests
// with different migration directories.
func RunMigrationsFromPath(db *sql.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("database schema is up to date", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("could not determine migration version", slog.Any("error", err), slog.String("component", "db_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d - manual intervention required", version)
	}

	slog.Info("migrations applied successfully",
		slog.Uint64("version", uint64(version)),
		slog.String("component", "db_migrate"))
	return nil
}

// GetMigrationVersion returns the current migration version and dirty state.
func GetMigrationVersion(db *sql.DB) (version uint, dirty bool, err error) {
	migrationsPath, mErr := getMigrationsPath()
	if mErr != nil {
		return 0, false, mErr
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	v, d, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return v, d, nil
}
