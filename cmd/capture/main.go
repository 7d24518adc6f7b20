// Command capture is a manual operator tool: register a competitor outside
// the regular onboarding flow, or trigger a single capture immediately
// without waiting for the scheduler's next tick.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ramfiaogusto/watchtower/internal/bootstrap"
	"github.com/ramfiaogusto/watchtower/internal/config"
	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

// seeder is implemented by the concrete SQLite and Postgres stores; the
// in-memory fallback store has no durable seeding path, so it deliberately
// does not satisfy this interface.
type seeder interface {
	SeedCompetitor(ctx context.Context, comp *core.Competitor) error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "capture",
		Short: "Manually register competitors or trigger a capture",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (defaults to environment variables)")

	loadApp := func(ctx context.Context) (*bootstrap.Application, *slog.Logger, error) {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadConfig(configPath)
		} else {
			cfg, err = config.LoadConfigFromEnv()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		business := metrics.NewBusinessMetrics(cfg.App.Name + "_capture_cli")
		technical := metrics.NewTechnicalMetrics(cfg.App.Name + "_capture_cli")
		infra := metrics.NewInfraMetrics(cfg.App.Name + "_capture_cli")
		app, err := bootstrap.Build(ctx, cfg, logger, business, technical, infra)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: %w", err)
		}
		return app, logger, nil
	}

	var (
		addURL      string
		addInterval int
		addPriority string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a new competitor for monitoring",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, logger, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			store, ok := app.Stores.Competitors.(seeder)
			if !ok {
				return fmt.Errorf("the configured storage backend does not support manual seeding")
			}

			comp := &core.Competitor{
				ID:                uuid.NewString(),
				URL:               addURL,
				MonitoringEnabled: true,
				CheckIntervalSec:  addInterval,
				Priority:          core.Priority(addPriority),
			}
			if err := store.SeedCompetitor(ctx, comp); err != nil {
				return fmt.Errorf("seed competitor: %w", err)
			}
			logger.Info("competitor registered", "id", comp.ID, "url", comp.URL)
			fmt.Println(comp.ID)
			return nil
		},
	}
	add.Flags().StringVar(&addURL, "url", "", "competitor page URL (required)")
	add.Flags().IntVar(&addInterval, "interval", 3600, "check interval in seconds")
	add.Flags().StringVar(&addPriority, "priority", string(core.PriorityMedium), "low|medium|high")
	_ = add.MarkFlagRequired("url")

	run := &cobra.Command{
		Use:   "run <competitor-id>",
		Short: "Capture a single competitor immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			app, logger, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Orchestrator.Capture(ctx, args[0], core.CaptureOptions{IsManualCheck: true})
			if err != nil {
				return fmt.Errorf("capture: %w", err)
			}

			logger.Info("capture complete",
				"competitor_id", args[0],
				"changes_detected", result.ChangesDetected,
				"alert_created", result.AlertCreated,
				"version", result.VersionNumber,
			)
			return nil
		},
	}

	root.AddCommand(add, run)
	return root
}
