// Package orchestrator implements the Capture Orchestrator (spec §4.7), the
// single public entry point that ties the Renderer Gateway, Normalizer,
// Differ, Section Extractor, Version Engine and Alert Emitter together under
// a per-competitor mutual-exclusion lock.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

const placeholderHTML = "<html><body><!-- capture placeholder: renderer unavailable on initial capture --></body></html>"

// Config holds the thresholds the orchestrator itself consults, per §6.
type Config struct {
	ChangeThresholdPct       float64 // default 5.0
	MaxVersionsPerCompetitor int     // default 30
	CaptureTimeout           time.Duration
	LockKeyPrefix            string
}

// DefaultConfig returns the §6 defaults.
func DefaultConfig() Config {
	return Config{
		ChangeThresholdPct:       5.0,
		MaxVersionsPerCompetitor: 30,
		CaptureTimeout:           60 * time.Second,
		LockKeyPrefix:            "capture:",
	}
}

// Orchestrator implements core.Orchestrator.
type Orchestrator struct {
	lock             core.DistributedLock
	competitors      core.CompetitorStore
	snapshots        core.SnapshotStore
	renderer         core.RendererGateway
	normalizer       core.Normalizer
	differ           core.Differ
	sections         core.SectionExtractor
	versions         core.VersionEngine
	alerts           core.AlertEmitter
	cfg              Config
	logger           *slog.Logger
	metrics          *metrics.BusinessMetrics
}

// New returns an Orchestrator wiring together the components named in its fields.
func New(
	lock core.DistributedLock,
	competitors core.CompetitorStore,
	snapshots core.SnapshotStore,
	renderer core.RendererGateway,
	normalizer core.Normalizer,
	differ core.Differ,
	sections core.SectionExtractor,
	versions core.VersionEngine,
	alerts core.AlertEmitter,
	cfg Config,
	logger *slog.Logger,
	m *metrics.BusinessMetrics,
) *Orchestrator {
	if cfg.ChangeThresholdPct <= 0 {
		cfg.ChangeThresholdPct = DefaultConfig().ChangeThresholdPct
	}
	if cfg.MaxVersionsPerCompetitor <= 0 {
		cfg.MaxVersionsPerCompetitor = DefaultConfig().MaxVersionsPerCompetitor
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = DefaultConfig().CaptureTimeout
	}
	if cfg.LockKeyPrefix == "" {
		cfg.LockKeyPrefix = DefaultConfig().LockKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		lock: lock, competitors: competitors, snapshots: snapshots,
		renderer: renderer, normalizer: normalizer, differ: differ,
		sections: sections, versions: versions, alerts: alerts,
		cfg: cfg, logger: logger, metrics: m,
	}
}

// Capture implements core.Orchestrator.Capture, the §4.7 procedure.
func (o *Orchestrator) Capture(ctx context.Context, competitorID string, options core.CaptureOptions) (*core.CaptureResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CaptureTimeout)
	defer cancel()

	start := time.Now()
	lockKey := o.cfg.LockKeyPrefix + competitorID

	acquired, err := o.lock.AcquireLock(ctx, lockKey)
	if err != nil {
		return nil, core.NewCaptureError(core.ErrKindStoreUnavailable, competitorID, err)
	}
	if !acquired {
		return nil, core.NewCaptureError(core.ErrKindCaptureInProgress, competitorID, nil)
	}
	defer func() {
		if err := o.lock.ReleaseLock(context.WithoutCancel(ctx), lockKey); err != nil {
			o.logger.Warn("failed to release capture lock", "competitor_id", competitorID, "error", err)
		}
	}()

	result, err := o.doCapture(ctx, competitorID, options)

	outcome := "success"
	if err != nil {
		outcome = "error"
		if !options.IsManualCheck && shouldEmitErrorAlert(err) {
			if competitor, getErr := o.competitors.Get(ctx, competitorID); getErr == nil && competitor != nil {
				if _, alertErr := o.alerts.EmitError(ctx, competitor, err); alertErr != nil {
					o.logger.Error("failed to emit error alert", "competitor_id", competitorID, "error", alertErr)
				}
			}
		}
	}
	if o.metrics != nil {
		o.metrics.RecordCapture(outcome, time.Since(start).Seconds())
	}
	return result, err
}

func shouldEmitErrorAlert(err error) bool {
	kind, ok := core.KindOf(err)
	if !ok {
		return true
	}
	switch kind {
	case core.ErrKindCaptureInProgress, core.ErrKindMonitoringDisabled:
		return false
	default:
		return true
	}
}

func (o *Orchestrator) doCapture(ctx context.Context, competitorID string, options core.CaptureOptions) (*core.CaptureResult, error) {
	competitor, err := o.competitors.Get(ctx, competitorID)
	if err != nil {
		return nil, core.NewCaptureError(core.ErrKindStoreUnavailable, competitorID, err)
	}
	if competitor == nil {
		return nil, core.NewCaptureError(core.ErrKindStoreUnavailable, competitorID, fmt.Errorf("competitor not found"))
	}
	if !competitor.MonitoringEnabled && !options.IsManualCheck {
		return nil, core.NewCaptureError(core.ErrKindMonitoringDisabled, competitorID, nil)
	}

	current, err := o.snapshots.GetCurrent(ctx, competitorID)
	if err != nil {
		return nil, core.NewCaptureError(core.ErrKindStoreUnavailable, competitorID, err)
	}

	rendered, err := o.fetchWithInitialFallback(ctx, competitor.URL, options)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if current == nil {
		diff := &core.DiffResult{ChangeCount: 0, Severity: core.SeverityLow, ChangeType: core.ChangeTypeOther, ChangeSummary: "initial"}
		snap, err := o.versions.WriteVersion(ctx, competitorID, 0, rendered.HTML, diff)
		if err != nil {
			return nil, err
		}
		if err := o.competitors.UpdateCounters(ctx, competitorID, &now, nil, snap.VersionNumber); err != nil {
			o.logger.Warn("failed to update competitor counters", "competitor_id", competitorID, "error", err)
		}
		return &core.CaptureResult{
			ChangesDetected: false,
			SnapshotID:      snap.ID,
			VersionNumber:   snap.VersionNumber,
			Severity:        core.SeverityLow,
			ChangeType:      core.ChangeTypeOther,
			ChangeSummary:   "initial",
		}, nil
	}

	previousHTML, err := o.versions.Reconstruct(ctx, competitorID, current.VersionNumber)
	if err != nil {
		return nil, err
	}

	oldNormalized := o.normalizer.Normalize(previousHTML)
	newNormalized := o.normalizer.Normalize(rendered.HTML)

	diff, err := o.differ.Diff(oldNormalized, newNormalized)
	if err != nil {
		return nil, core.NewCaptureError(core.ErrKindStoreUnavailable, competitorID, err)
	}

	if o.metrics != nil {
		o.metrics.RecordDiff(diff.Significant(o.cfg.ChangeThresholdPct), diff.ChangePercentage/100)
		if diff.ChangeCount > 0 {
			o.metrics.RecordSignificantHunks(diff.ChangeCount)
		}
	}

	if !diff.Significant(o.cfg.ChangeThresholdPct) {
		if err := o.competitors.UpdateCounters(ctx, competitorID, &now, nil, competitor.TotalVersions); err != nil {
			o.logger.Warn("failed to update competitor counters", "competitor_id", competitorID, "error", err)
		}
		return &core.CaptureResult{
			ChangesDetected: false,
			SnapshotID:      current.ID,
			VersionNumber:   current.VersionNumber,
		}, nil
	}

	var sections []core.AffectedSection
	if extracted, err := o.sections.Extract(rendered.HTML, diff.Hunks); err != nil {
		o.logger.Warn("section extraction failed, degrading to empty sections", "competitor_id", competitorID, "error", err)
	} else {
		sections = extracted
	}

	snap, err := o.writeVersionWithConflictRetry(ctx, competitorID, current.VersionNumber, rendered.HTML, diff)
	if err != nil {
		return nil, err
	}

	alertCreated := false
	if _, err := o.alerts.Emit(ctx, competitor, snap, sections); err != nil {
		o.logger.Error("failed to emit alert", "competitor_id", competitorID, "error", err)
	} else {
		alertCreated = true
	}

	if err := o.versions.EnforceRetention(ctx, competitorID, o.cfg.MaxVersionsPerCompetitor); err != nil {
		o.logger.Error("retention step blocked, preceding capture is preserved", "competitor_id", competitorID, "error", err)
	}

	if err := o.competitors.UpdateCounters(ctx, competitorID, &now, &now, snap.VersionNumber); err != nil {
		o.logger.Warn("failed to update competitor counters", "competitor_id", competitorID, "error", err)
	}

	return &core.CaptureResult{
		ChangesDetected:  true,
		AlertCreated:     alertCreated,
		SnapshotID:       snap.ID,
		VersionNumber:    snap.VersionNumber,
		ChangeCount:      diff.ChangeCount,
		ChangePercentage: diff.ChangePercentage,
		Severity:         diff.Severity,
		ChangeType:       diff.ChangeType,
		ChangeSummary:    diff.ChangeSummary,
	}, nil
}

// writeVersionWithConflictRetry retries the write policy once after
// re-reading current, per §7's VersionConflict recovery rule.
func (o *Orchestrator) writeVersionWithConflictRetry(ctx context.Context, competitorID string, currentVersion int, renderedHTML string, diff *core.DiffResult) (*core.Snapshot, error) {
	snap, err := o.versions.WriteVersion(ctx, competitorID, currentVersion, renderedHTML, diff)
	if err == nil {
		return snap, nil
	}
	if kind, ok := core.KindOf(err); !ok || kind != core.ErrKindVersionConflict {
		return nil, err
	}

	current, getErr := o.snapshots.GetCurrent(ctx, competitorID)
	if getErr != nil {
		return nil, getErr
	}
	if current == nil {
		return nil, err
	}
	return o.versions.WriteVersion(ctx, competitorID, current.VersionNumber, renderedHTML, diff)
}

// fetchWithInitialFallback fetches rendered HTML, substituting a placeholder
// document when the fetch fails transiently and the caller flagged this as
// the initial capture, so snapshot #1 is always created.
func (o *Orchestrator) fetchWithInitialFallback(ctx context.Context, url string, options core.CaptureOptions) (*core.RenderResult, error) {
	renderOpts := core.RenderOptions{
		WaitMS:        options.WaitMS,
		ViewportW:     options.ViewportW,
		ViewportH:     options.ViewportH,
		TimeoutMS:     options.TimeoutMS,
		Simulate:      options.Simulate,
		SimulatedHTML: options.SimulatedHTML,
	}

	result, err := o.renderer.Fetch(ctx, url, renderOpts)
	if err == nil {
		return result, nil
	}

	if !options.IsInitialCapture {
		return nil, err
	}

	kind, ok := core.KindOf(err)
	if !ok || (kind != core.ErrKindRendererUnavailable && kind != core.ErrKindRendererTimeout) {
		return nil, err
	}

	o.logger.Warn("renderer unavailable on initial capture, substituting placeholder", "url", url, "error", err)
	return &core.RenderResult{HTML: placeholderHTML, RenderedURL: url}, nil
}
