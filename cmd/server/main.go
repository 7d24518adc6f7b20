// Package main is the entry point for the watchtower change detection and
// versioning engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ramfiaogusto/watchtower/internal/bootstrap"
	"github.com/ramfiaogusto/watchtower/internal/config"
	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

const (
	serviceName    = "watchtower"
	serviceVersion = "1.0.0"
)

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	var showHelp = flag.Bool("help", false, "Show help information")
	var configPath = flag.String("config", "", "path to a config file (defaults to environment variables)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Printf("watchtower - Change Detection and Versioning Engine\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		fmt.Printf("  -config <path>    Load configuration from a YAML file\n")
		fmt.Printf("  -version          Show version information\n")
		fmt.Printf("  -help             Show this help message\n\n")
		fmt.Printf("All configuration keys are also settable via environment variables,\n")
		fmt.Printf("e.g. PROFILE, DATABASE_HOST, REDIS_ADDR.\n")
		os.Exit(0)
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfig(*configPath)
	} else {
		cfg, err = config.LoadConfigFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting watchtower",
		"service", serviceName,
		"version", serviceVersion,
		"profile", cfg.GetProfileName(),
	)

	business := metrics.NewBusinessMetrics(cfg.App.Name)
	technical := metrics.NewTechnicalMetrics(cfg.App.Name)
	infra := metrics.NewInfraMetrics(cfg.App.Name)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := bootstrap.Build(bootCtx, cfg, logger, business, technical, infra)
	cancelBoot()
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("error during shutdown cleanup", "error", err)
		}
	}()

	runCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	if err := app.Scheduler.Start(runCtx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(app))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down")

	stopScheduler()
	if err := app.Scheduler.Stop(); err != nil {
		logger.Warn("scheduler did not stop cleanly", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func healthHandler(app *bootstrap.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if checker, ok := app.Stores.Snapshots.(interface{ Health(context.Context) error }); ok {
			if err := checker.Health(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "storage unhealthy: %v", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	}
}
