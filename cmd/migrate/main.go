// Command migrate applies goose schema migrations against the standard
// deployment profile's PostgreSQL database. The lite profile's SQLite store
// manages its own schema and never needs this tool.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ramfiaogusto/watchtower/internal/config"
	"github.com/ramfiaogusto/watchtower/internal/database"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the watchtower PostgreSQL schema",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (defaults to environment variables)")

	loadDSN := func() (string, *slog.Logger, error) {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadConfig(configPath)
		} else {
			cfg, err = config.LoadConfigFromEnv()
		}
		if err != nil {
			return "", nil, fmt.Errorf("load config: %w", err)
		}
		return cfg.GetDatabaseURL(), logger, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, logger, err := loadDSN()
			if err != nil {
				return err
			}
			return database.RunMigrations(dsn, logger)
		},
	}

	var downSteps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the N most recent migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, logger, err := loadDSN()
			if err != nil {
				return err
			}
			return database.RunMigrationsDown(dsn, downSteps, logger)
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the current migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, logger, err := loadDSN()
			if err != nil {
				return err
			}
			return database.MigrationStatus(dsn, logger)
		},
	}

	root.AddCommand(up, down, status)
	return root
}
