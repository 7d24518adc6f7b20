// Package bootstrap is the single place that wires every moving part of the
// change detection engine — storage, renderer, diffing, versioning, alerting
// and the distributed lock — into an Orchestrator and Scheduler, so cmd/server
// and cmd/capture don't each reimplement dependency injection.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ramfiaogusto/watchtower/internal/alertemitter"
	"github.com/ramfiaogusto/watchtower/internal/config"
	"github.com/ramfiaogusto/watchtower/internal/core"
	dbpostgres "github.com/ramfiaogusto/watchtower/internal/database/postgres"
	"github.com/ramfiaogusto/watchtower/internal/differ"
	"github.com/ramfiaogusto/watchtower/internal/infrastructure/cache"
	"github.com/ramfiaogusto/watchtower/internal/infrastructure/lock"
	"github.com/ramfiaogusto/watchtower/internal/normalizer"
	"github.com/ramfiaogusto/watchtower/internal/orchestrator"
	"github.com/ramfiaogusto/watchtower/internal/renderer"
	"github.com/ramfiaogusto/watchtower/internal/scheduler"
	"github.com/ramfiaogusto/watchtower/internal/section"
	"github.com/ramfiaogusto/watchtower/internal/storage"
	"github.com/ramfiaogusto/watchtower/internal/version"
	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

// Application bundles everything a running capture pipeline needs, whether
// it's driven by the scheduler daemon (cmd/server) or a one-off manual
// capture (cmd/capture).
type Application struct {
	Config       *config.Config
	Stores       *storage.Stores
	Orchestrator *orchestrator.Orchestrator
	Versions     *version.Engine
	Scheduler    *scheduler.Scheduler

	logger  *slog.Logger
	closers []func() error
}

// Build constructs an Application from cfg. It connects to Postgres for the
// standard profile or opens SQLite for the lite profile. In either profile a
// non-empty redis.addr adds a Redis capture lock and a tiered render cache;
// with it empty the lock is in-process and renders are not cached.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, business *metrics.BusinessMetrics, technical *metrics.TechnicalMetrics, infra *metrics.InfraMetrics) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if infra == nil {
		infra = metrics.NewInfraMetrics(cfg.App.Name)
	}

	app := &Application{Config: cfg, logger: logger}

	var pgPool *dbpostgres.PostgresPool
	if cfg.RequiresPostgres() {
		pgCfg := &dbpostgres.PostgresConfig{
			Host:              cfg.Database.Host,
			Port:              cfg.Database.Port,
			Database:          cfg.Database.Database,
			User:              cfg.Database.Username,
			Password:          cfg.Database.Password,
			SSLMode:           cfg.Database.SSLMode,
			MaxConns:          int32(cfg.Database.MaxConnections),
			MinConns:          int32(cfg.Database.MinConnections),
			MaxConnLifetime:   cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
			HealthCheckPeriod: 30 * time.Second,
			ConnectTimeout:    cfg.Database.ConnectTimeout,
		}
		pgPool = dbpostgres.NewPostgresPool(pgCfg, logger)
		if err := pgPool.Connect(ctx); err != nil {
			return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		app.closers = append(app.closers, func() error { return pgPool.Disconnect(context.Background()) })

		exporter := dbpostgres.NewPrometheusExporter(pgPool, infra.DB)
		exporter.Start(ctx, 15*time.Second)
		app.closers = append(app.closers, func() error { exporter.Stop(); return nil })
	}

	var pgxPool *pgxpool.Pool
	if pgPool != nil {
		pgxPool = pgPool.Pool()
	}

	stores, err := storage.NewStorage(ctx, cfg, pgxPool, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: init storage: %w", err)
	}
	app.Stores = stores
	app.closers = append(app.closers, stores.Close)

	var renderGateway core.RendererGateway = renderer.New(renderer.Config{
		BaseURL:     cfg.Capture.RendererBaseURL,
		BearerToken: cfg.Capture.RendererBearerToken,
		TimeoutMS:   cfg.Capture.RendererTimeoutMS,
	}, logger, technical)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:            cfg.Redis.Addr,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			PoolSize:        cfg.Redis.PoolSize,
			MinIdleConns:    cfg.Redis.MinIdleConns,
			DialTimeout:     cfg.Redis.DialTimeout,
			ReadTimeout:     cfg.Redis.ReadTimeout,
			WriteTimeout:    cfg.Redis.WriteTimeout,
			MaxRetries:      cfg.Redis.MaxRetries,
			MinRetryBackoff: cfg.Redis.MinRetryBackoff,
			MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
		})
		app.closers = append(app.closers, redisClient.Close)

		redisCache, err := cache.NewRedisCache(cache.Config{
			Addr:            cfg.Redis.Addr,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			PoolSize:        cfg.Redis.PoolSize,
			MinIdleConns:    cfg.Redis.MinIdleConns,
			DialTimeout:     cfg.Redis.DialTimeout,
			ReadTimeout:     cfg.Redis.ReadTimeout,
			WriteTimeout:    cfg.Redis.WriteTimeout,
			MaxRetries:      cfg.Redis.MaxRetries,
			MinRetryBackoff: cfg.Redis.MinRetryBackoff,
			MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect redis cache: %w", err)
		}
		app.closers = append(app.closers, redisCache.Close)

		tiered, err := cache.NewTieredCache(int(cfg.Cache.MaxKeys), redisCache)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: init tiered cache: %w", err)
		}
		tiered.WithMetrics(infra.Cache)
		renderGateway = renderer.NewCachingGateway(renderGateway, tiered, cfg.Cache.DefaultTTL, logger)
	}

	var distLock core.DistributedLock
	if redisClient != nil {
		distLock = lock.New(redisClient, lock.Config{TTL: cfg.Lock.TTL}, logger)
	} else {
		distLock = lock.NewMemoryLock()
	}

	norm := normalizer.New()
	diff := differ.New(differ.Config{SignificantChangeThreshold: cfg.Capture.SignificantChangeThreshold})
	sections := section.New()

	versionEngine := version.New(stores.Snapshots, version.Config{
		FullVersionInterval:      cfg.Capture.FullVersionInterval,
		MaxVersionsPerCompetitor: cfg.Capture.MaxVersionsPerCompetitor,
	}, logger, business)
	app.Versions = versionEngine

	alertEmitter := alertemitter.New(stores.Alerts, logger, business)

	orch := orchestrator.New(
		distLock,
		stores.Competitors,
		stores.Snapshots,
		renderGateway,
		norm,
		diff,
		sections,
		versionEngine,
		alertEmitter,
		orchestrator.Config{
			ChangeThresholdPct:       cfg.Capture.ChangeThreshold * 100,
			MaxVersionsPerCompetitor: cfg.Capture.MaxVersionsPerCompetitor,
			CaptureTimeout:           time.Duration(cfg.Capture.CaptureTimeoutMS) * time.Millisecond,
		},
		logger,
		business,
	)
	app.Orchestrator = orch

	app.Scheduler = scheduler.New(orch, versionEngine, stores.Competitors, scheduler.Config{
		Workers:     cfg.App.MaxWorkers,
		MaxVersions: cfg.Capture.MaxVersionsPerCompetitor,
	}, logger, business)

	return app, nil
}

// Close releases every resource acquired by Build, in reverse order.
func (a *Application) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
