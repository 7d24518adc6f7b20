// Package scheduler drives periodic competitor captures and the daily
// retention sweep described in §4.6 and §5, using a bounded worker pool so a
// slow renderer never lets the tick queue grow without limit.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

// CompetitorLister is the repository surface the scheduler needs beyond
// core.CompetitorStore: enumerating the competitors due for a capture tick
// and the full set for the retention sweep. Competitor CRUD otherwise
// belongs to the outer system, so this stays a scheduler-local interface
// rather than growing the core contract.
type CompetitorLister interface {
	ListDue(ctx context.Context, now time.Time) ([]*core.Competitor, error)
	ListAllIDs(ctx context.Context) ([]string, error)
}

// Config holds the worker pool and cadence settings.
type Config struct {
	Workers         int           // default 10
	QueueSize       int           // default 1000
	TickInterval    time.Duration // default 1m
	RetentionPeriod time.Duration // default 24h
	MaxVersions     int           // default 30
}

// DefaultConfig returns the scheduler's defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         10,
		QueueSize:       1000,
		TickInterval:    time.Minute,
		RetentionPeriod: 24 * time.Hour,
		MaxVersions:     30,
	}
}

// Scheduler periodically captures due competitors and runs the retention sweep.
type Scheduler struct {
	orchestrator core.Orchestrator
	versions     core.VersionEngine
	lister       CompetitorLister
	cfg          Config
	logger       *slog.Logger
	metrics      *metrics.BusinessMetrics

	jobQueue chan string
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
}

// New returns a Scheduler wired to orchestrator, versions and lister.
func New(orchestrator core.Orchestrator, versions core.VersionEngine, lister CompetitorLister, cfg Config, logger *slog.Logger, m *metrics.BusinessMetrics) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = DefaultConfig().RetentionPeriod
	}
	if cfg.MaxVersions <= 0 {
		cfg.MaxVersions = DefaultConfig().MaxVersions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		orchestrator: orchestrator,
		versions:     versions,
		lister:       lister,
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		jobQueue:     make(chan string, cfg.QueueSize),
		stopChan:     make(chan struct{}),
	}
}

// Start spawns the worker pool and the tick/retention loops. It is safe to
// call once; a second call returns an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(2)
	go s.tickLoop(ctx)
	go s.retentionLoop(ctx)

	s.logger.Info("scheduler started", "workers", s.cfg.Workers, "tick_interval", s.cfg.TickInterval)
	return nil
}

// Stop signals all loops and workers to exit and waits up to 30s.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped gracefully")
		return nil
	case <-time.After(30 * time.Second):
		s.logger.Warn("scheduler stop timed out, jobs in flight may be abandoned")
		return fmt.Errorf("stop timeout after 30 seconds")
	}
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.scheduleTick(ctx)
		}
	}
}

func (s *Scheduler) scheduleTick(ctx context.Context) {
	due, err := s.lister.ListDue(ctx, time.Now())
	if err != nil {
		s.logger.Error("failed to list due competitors", "error", err)
		return
	}

	for _, competitor := range due {
		select {
		case s.jobQueue <- competitor.ID:
		default:
			s.logger.Warn("capture queue full, competitor will be retried next tick", "competitor_id", competitor.ID)
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case competitorID, ok := <-s.jobQueue:
			if !ok {
				return
			}
			s.captureOne(ctx, id, competitorID)
		}
	}
}

func (s *Scheduler) captureOne(ctx context.Context, workerID int, competitorID string) {
	result, err := s.orchestrator.Capture(ctx, competitorID, core.CaptureOptions{})
	if err != nil {
		if core.IsCaptureInProgress(err) || core.IsMonitoringDisabled(err) {
			s.logger.Debug("capture skipped", "worker_id", workerID, "competitor_id", competitorID, "reason", err)
			return
		}
		s.logger.Error("scheduled capture failed", "worker_id", workerID, "competitor_id", competitorID, "error", err)
		return
	}

	s.logger.Info("scheduled capture completed",
		"worker_id", workerID,
		"competitor_id", competitorID,
		"changes_detected", result.ChangesDetected,
		"version", result.VersionNumber,
	)
}

func (s *Scheduler) retentionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RetentionPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runRetentionSweep(ctx)
		}
	}
}

func (s *Scheduler) runRetentionSweep(ctx context.Context) {
	ids, err := s.lister.ListAllIDs(ctx)
	if err != nil {
		s.logger.Error("failed to list competitors for retention sweep", "error", err)
		return
	}

	for _, id := range ids {
		if err := s.versions.EnforceRetention(ctx, id, s.cfg.MaxVersions); err != nil {
			s.logger.Error("retention sweep failed for competitor", "competitor_id", id, "error", err)
		}
	}
}
