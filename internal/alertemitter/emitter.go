// Package alertemitter implements the Alert Emitter (spec §4.8): it converts
// a stored snapshot plus its section enrichment into a structured Alert, and
// separately emits error alerts for unrecoverable capture failures.
package alertemitter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

// Emitter implements core.AlertEmitter against a core.AlertStore.
type Emitter struct {
	store   core.AlertStore
	logger  *slog.Logger
	metrics *metrics.BusinessMetrics
}

// New returns an Emitter backed by store.
func New(store core.AlertStore, logger *slog.Logger, m *metrics.BusinessMetrics) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: store, logger: logger, metrics: m}
}

// Emit implements core.AlertEmitter.Emit.
func (e *Emitter) Emit(ctx context.Context, competitor *core.Competitor, snapshot *core.Snapshot, sections []core.AffectedSection) (*core.Alert, error) {
	alertType := core.AlertTypeContentChange
	if snapshot.ChangeType == core.ChangeTypePricing || dominantSectionIsPricing(sections, snapshot.Severity) {
		alertType = core.AlertTypePriceChange
	}

	alert := &core.Alert{
		ID:               uuid.NewString(),
		CompetitorID:     competitor.ID,
		SnapshotID:       snapshot.ID,
		Type:             alertType,
		Severity:         snapshot.Severity,
		Status:           core.AlertStatusUnread,
		Title:            buildTitle(alertType, competitor, snapshot),
		Message:          snapshot.ChangeSummary,
		ChangeCount:      snapshot.ChangeCount,
		ChangePercentage: snapshot.ChangePercentage,
		VersionNumber:    snapshot.VersionNumber,
		ChangeSummary:    snapshot.ChangeSummary,
		AffectedSections: sections,
		CreatedAt:        time.Now(),
	}

	if err := e.store.Create(ctx, alert); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordAlertEmitted(string(alert.Severity))
	}

	e.logger.Info("alert emitted",
		"competitor_id", competitor.ID,
		"alert_type", alertType,
		"severity", alert.Severity,
		"version", snapshot.VersionNumber,
	)
	return alert, nil
}

// EmitError implements core.AlertEmitter.EmitError: unrecoverable capture
// failures surface to the competitor's owner as a high-severity error alert.
func (e *Emitter) EmitError(ctx context.Context, competitor *core.Competitor, cause error) (*core.Alert, error) {
	alert := &core.Alert{
		ID:            uuid.NewString(),
		CompetitorID:  competitor.ID,
		Type:          core.AlertTypeError,
		Severity:      core.SeverityHigh,
		Status:        core.AlertStatusUnread,
		Title:         fmt.Sprintf("Capture failed for %s", competitor.URL),
		Message:       errorMessage(cause),
		ChangeSummary: errorMessage(cause),
		CreatedAt:     time.Now(),
	}

	if err := e.store.Create(ctx, alert); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordAlertEmitted(string(alert.Severity))
	}

	e.logger.Warn("error alert emitted", "competitor_id", competitor.ID, "cause", cause)
	return alert, nil
}

func errorMessage(cause error) string {
	if cause == nil {
		return "capture failed"
	}
	return cause.Error()
}

func dominantSectionIsPricing(sections []core.AffectedSection, severity core.Severity) bool {
	if !severity.AtLeast(core.SeverityMedium) {
		return false
	}
	counts := map[string]int{}
	dominant := ""
	best := 0
	for _, s := range sections {
		counts[s.SectionType]++
		if counts[s.SectionType] > best {
			best = counts[s.SectionType]
			dominant = s.SectionType
		}
	}
	return dominant == "pricing"
}

func buildTitle(alertType core.AlertType, competitor *core.Competitor, snapshot *core.Snapshot) string {
	switch alertType {
	case core.AlertTypePriceChange:
		return fmt.Sprintf("Pricing change detected on %s", competitor.URL)
	default:
		return fmt.Sprintf("Change detected on %s", competitor.URL)
	}
}
