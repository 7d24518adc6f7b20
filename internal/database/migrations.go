// Package database drives goose schema migrations for the Postgres-backed
// standard deployment profile. The lite profile needs none of this: its
// SQLite store creates its own schema on first open.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const migrationsDir = "migrations"

func openMigrationDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open migration connection: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: set goose dialect: %w", err)
	}
	return db, nil
}

// RunMigrations applies every pending migration against dsn.
func RunMigrations(dsn string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openMigrationDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("running database migrations", "dir", migrationsDir)
	if err := goose.Up(db, migrationsDir); err != nil {
		return fmt.Errorf("database: run migrations: %w", err)
	}
	logger.Info("database migrations complete")
	return nil
}

// RunMigrationsDown rolls back the given number of migration steps.
func RunMigrationsDown(dsn string, steps int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openMigrationDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("rolling back database migrations", "steps", steps)
	for i := 0; i < steps; i++ {
		if err := goose.Down(db, migrationsDir); err != nil {
			return fmt.Errorf("database: rollback migration: %w", err)
		}
	}
	return nil
}

// MigrationStatus prints the current migration status to the goose log.
func MigrationStatus(dsn string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openMigrationDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return goose.Status(db, migrationsDir)
}
