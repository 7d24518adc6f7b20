// Package storage provides storage backend selection logic based on deployment profile.
// Supports both Lite (SQLite embedded) and Standard (PostgreSQL external) profiles.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramfiaogusto/watchtower/internal/config"
	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/internal/storage/memory"
	pgstorage "github.com/ramfiaogusto/watchtower/internal/storage/postgres"
	"github.com/ramfiaogusto/watchtower/internal/storage/sqlite"
)

// CompetitorRepository extends core.CompetitorStore with the lookup methods
// the scheduler needs to find due work. It is declared here, not in
// internal/scheduler, so this package never imports the scheduler; any
// concrete store satisfying this interface also satisfies
// scheduler.CompetitorLister by structural typing.
type CompetitorRepository interface {
	core.CompetitorStore
	ListDue(ctx context.Context, now time.Time) ([]*core.Competitor, error)
	ListAllIDs(ctx context.Context) ([]string, error)
}

// Stores bundles the three repositories the capture pipeline depends on,
// plus a Close hook for whichever backend is underneath. Lite profile backs
// all three fields with a single *sqlite.SQLiteStorage; standard profile
// backs them with a single *postgres.Storage.
type Stores struct {
	Snapshots   core.SnapshotStore
	Competitors CompetitorRepository
	Alerts      core.AlertStore
	Close       func() error
}

// NewStorage creates the appropriate storage backend for the deployment
// profile and returns it as a Stores bundle.
//
// Profiles:
//   - Lite: SQLite embedded storage (pgPool can be nil)
//   - Standard: PostgreSQL external storage (pgPool required)
func NewStorage(
	ctx context.Context,
	cfg *config.Config,
	pgPool *pgxpool.Pool,
	logger *slog.Logger,
) (*Stores, error) {
	startTime := time.Now()

	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ErrInvalidProfile{Profile: string(cfg.Profile), Cause: err}
	}

	logger.Info("initializing storage backend",
		"profile", cfg.Profile,
		"backend", cfg.Storage.Backend,
	)

	var stores *Stores
	var err error

	switch {
	case cfg.IsLiteProfile():
		stores, err = initLiteStorage(ctx, cfg, logger)
		if err != nil {
			return nil, &ErrStorageInitFailed{Backend: "sqlite", Profile: string(cfg.Profile), Cause: err}
		}

	case cfg.IsStandardProfile():
		stores, err = initStandardStorage(ctx, cfg, pgPool, logger)
		if err != nil {
			return nil, &ErrStorageInitFailed{Backend: "postgres", Profile: string(cfg.Profile), Cause: err}
		}

	default:
		return nil, &ErrInvalidProfile{
			Profile: string(cfg.Profile),
			Cause:   fmt.Errorf("unknown deployment profile: %s", cfg.Profile),
		}
	}

	duration := time.Since(startTime)
	logger.Info("storage backend initialized",
		"profile", cfg.Profile,
		"backend", cfg.Storage.Backend,
		"duration_ms", duration.Milliseconds(),
	)

	StorageOperationsTotal.WithLabelValues("init", string(cfg.Storage.Backend), "success").Inc()
	StorageOperationDuration.WithLabelValues("init", string(cfg.Storage.Backend)).Observe(duration.Seconds())

	return stores, nil
}

// initLiteStorage initializes SQLite embedded storage for the lite profile.
// The file is created at cfg.Storage.FilesystemPath with secure permissions
// (0600); the parent directory is created with mode 0700 if it's missing.
func initLiteStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	logger.Info("initializing embedded storage (lite profile)",
		"backend", cfg.Storage.Backend,
		"path", cfg.Storage.FilesystemPath,
		"profile", cfg.Profile,
	)

	if cfg.Storage.FilesystemPath == "" {
		return nil, fmt.Errorf("lite profile requires storage.filesystem_path (e.g., /data/watchtower.db)")
	}

	store, err := sqlite.NewSQLiteStorage(ctx, cfg.Storage.FilesystemPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
	}

	fileSize := store.GetFileSize()
	logger.Info("sqlite storage initialized",
		"path", cfg.Storage.FilesystemPath,
		"file_size_bytes", fileSize,
		"wal_mode", true,
		"max_connections", 10,
	)

	SQLiteFileSizeBytes.Set(float64(fileSize))
	StorageBackendType.WithLabelValues("sqlite").Set(1)

	return &Stores{
		Snapshots:   store,
		Competitors: store,
		Alerts:      store,
		Close:       store.Close,
	}, nil
}

// initStandardStorage initializes PostgreSQL storage for the standard profile.
func initStandardStorage(ctx context.Context, cfg *config.Config, pgPool *pgxpool.Pool, logger *slog.Logger) (*Stores, error) {
	logger.Info("initializing postgresql storage (standard profile)",
		"host", cfg.Database.Host,
		"database", cfg.Database.Database,
		"port", cfg.Database.Port,
		"profile", cfg.Profile,
	)

	if pgPool == nil {
		return nil, fmt.Errorf("postgresql pool is nil (required for standard profile)")
	}

	if err := pgPool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgresql connection failed: %w", err)
	}

	stats := pgPool.Stat()
	logger.Info("postgresql connection verified",
		"total_conns", stats.TotalConns(),
		"idle_conns", stats.IdleConns(),
		"acquired_conns", stats.AcquiredConns(),
	)

	store, err := pgstorage.New(ctx, pgPool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
	}

	StorageBackendType.WithLabelValues("postgres").Set(2)
	StorageConnections.WithLabelValues("postgres", "total").Set(float64(stats.TotalConns()))
	StorageConnections.WithLabelValues("postgres", "idle").Set(float64(stats.IdleConns()))
	StorageConnections.WithLabelValues("postgres", "in_use").Set(float64(stats.AcquiredConns()))

	return &Stores{
		Snapshots:   store,
		Competitors: store,
		Alerts:      store,
		Close:       func() error { store.Close(); return nil },
	}, nil
}

// NewFallbackStorage creates in-memory storage for graceful degradation when
// the configured backend fails to initialize. Data is NOT persisted and is
// lost on restart; this exists to keep a service answering requests during
// a database outage rather than to serve production traffic.
func NewFallbackStorage(logger *slog.Logger) *Stores {
	logger.Warn("creating fallback in-memory storage, data will NOT persist")
	logger.Warn("fix storage configuration to restore persistent storage")

	StorageBackendType.WithLabelValues("memory").Set(0)
	StorageHealthStatus.WithLabelValues("memory").Set(2)

	return &Stores{
		Snapshots:   memory.NewSnapshotStore(logger),
		Competitors: memory.NewCompetitorStore(logger),
		Alerts:      memory.NewAlertStore(logger),
		Close:       func() error { return nil },
	}
}
