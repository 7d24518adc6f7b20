// Package version implements the Version Engine (spec §4.6): the write
// policy that decides full vs. incremental snapshots, reconstruction of any
// historical version, and retention with "promote next on delete".
package version

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

// Config holds the versioning/retention thresholds, per §6.
type Config struct {
	FullVersionInterval      int // default 10
	MaxVersionsPerCompetitor int // default 30
}

// DefaultConfig returns the §6 defaults.
func DefaultConfig() Config {
	return Config{FullVersionInterval: 10, MaxVersionsPerCompetitor: 30}
}

// Engine implements core.VersionEngine against a core.SnapshotStore.
type Engine struct {
	store   core.SnapshotStore
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.BusinessMetrics
}

// New returns an Engine backed by store.
func New(store core.SnapshotStore, cfg Config, logger *slog.Logger, m *metrics.BusinessMetrics) *Engine {
	if cfg.FullVersionInterval <= 0 {
		cfg.FullVersionInterval = DefaultConfig().FullVersionInterval
	}
	if cfg.MaxVersionsPerCompetitor <= 0 {
		cfg.MaxVersionsPerCompetitor = DefaultConfig().MaxVersionsPerCompetitor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, cfg: cfg, logger: logger, metrics: m}
}

// WriteVersion implements core.VersionEngine.WriteVersion: it marks the
// current snapshot superseded and creates the new version n+1, as a full
// baseline or a diff-only snapshot depending on the §4.6 write policy.
func (e *Engine) WriteVersion(ctx context.Context, competitorID string, currentVersion int, renderedHTML string, diff *core.DiffResult) (*core.Snapshot, error) {
	n := currentVersion
	nextVersion := n + 1

	shouldBeFull := n == 0 ||
		nextVersion%e.cfg.FullVersionInterval == 0 ||
		diff.Severity == core.SeverityCritical

	var created *core.Snapshot
	err := e.store.WithTx(ctx, func(ctx context.Context, tx core.SnapshotStore) error {
		var fromID string
		if n >= 1 {
			cur, err := tx.GetCurrent(ctx, competitorID)
			if err != nil {
				return err
			}
			if cur == nil || cur.VersionNumber != n {
				return core.NewCaptureError(core.ErrKindVersionConflict, competitorID,
					fmt.Errorf("expected current version %d, observed different state", n))
			}
			fromID = cur.ID
		}

		if err := tx.MarkNotCurrent(ctx, competitorID, ""); err != nil {
			return err
		}

		attrs := core.NewSnapshotAttrs{
			CompetitorID:     competitorID,
			VersionNumber:    nextVersion,
			CapturedAt:       time.Now(),
			IsFullVersion:    shouldBeFull,
			IsCurrent:        true,
			ChangeCount:      diff.ChangeCount,
			ChangePercentage: diff.ChangePercentage,
			Severity:         diff.Severity,
			ChangeType:       diff.ChangeType,
			ChangeSummary:    diff.ChangeSummary,
		}
		if shouldBeFull {
			attrs.FullHTML = &renderedHTML
		}

		snap, err := tx.CreateSnapshot(ctx, attrs)
		if err != nil {
			return err
		}

		if n >= 1 {
			if _, err := tx.CreateDiff(ctx, core.NewSnapshotDiffAttrs{
				FromSnapshotID:   fromID,
				ToSnapshotID:     snap.ID,
				DiffData:         diff.AllHunks,
				ChangeSummary:    diff.ChangeSummary,
				ChangeCount:      diff.ChangeCount,
				ChangePercentage: diff.ChangePercentage,
			}); err != nil {
				return err
			}
		}

		created = snap
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		kind := "diff"
		if shouldBeFull {
			kind = "full"
		}
		e.metrics.RecordSnapshotStored(kind)
	}

	e.logger.Info("version written",
		"competitor_id", competitorID,
		"version", nextVersion,
		"is_full", shouldBeFull,
		"severity", diff.Severity,
	)
	return created, nil
}

// Reconstruct implements core.VersionEngine.Reconstruct. Failures are
// reported as ErrKindNotReconstructable, per §7's user-facing contract.
func (e *Engine) Reconstruct(ctx context.Context, competitorID string, versionNumber int) (string, error) {
	html, err := e.reconstruct(ctx, e.store, competitorID, versionNumber)
	if err != nil {
		return "", core.NewCaptureError(core.ErrKindNotReconstructable, competitorID, err)
	}
	return html, nil
}

// reconstruct is the internal reconstruction routine shared by the public
// Reconstruct and by retention's promote-next-full step; it returns plain
// errors so callers can choose how to classify failure.
func (e *Engine) reconstruct(ctx context.Context, store core.SnapshotStore, competitorID string, versionNumber int) (string, error) {
	snap, err := store.GetByVersion(ctx, competitorID, versionNumber)
	if err != nil {
		return "", err
	}
	if snap == nil {
		return "", fmt.Errorf("no snapshot at version %d", versionNumber)
	}
	if snap.IsFullVersion {
		if snap.FullHTML == nil {
			return "", fmt.Errorf("full snapshot %d missing full_html", versionNumber)
		}
		return *snap.FullHTML, nil
	}

	base, err := store.FindLastFullAtOrBefore(ctx, competitorID, versionNumber)
	if err != nil {
		return "", err
	}
	if base == nil || base.FullHTML == nil {
		return "", fmt.Errorf("no reachable baseline at or before version %d", versionNumber)
	}

	diffs, err := store.DiffsBetween(ctx, competitorID, base.VersionNumber, versionNumber)
	if err != nil {
		return "", err
	}
	if len(diffs) != versionNumber-base.VersionNumber {
		return "", fmt.Errorf("diff chain gap between version %d and %d: expected %d diffs, found %d",
			base.VersionNumber, versionNumber, versionNumber-base.VersionNumber, len(diffs))
	}

	html := *base.FullHTML
	for _, d := range diffs {
		html = applyDiff(html, d.DiffData)
	}
	return html, nil
}

// applyDiff replays one diff's hunks onto html per §4.6 step 4: append added
// text, remove the first occurrence of removed text, skip unchanged hunks.
func applyDiff(html string, hunks []core.Hunk) string {
	for _, h := range hunks {
		switch h.Kind {
		case core.HunkAdded:
			html += h.Text
		case core.HunkRemoved:
			html = strings.Replace(html, h.Text, "", 1)
		case core.HunkUnchanged:
			// no-op
		}
	}
	return html
}

// EnforceRetention implements core.VersionEngine.EnforceRetention, the §4.6
// retention policy: prune the oldest snapshot, promoting the next snapshot to
// full first if the oldest snapshot being removed is itself a full baseline.
func (e *Engine) EnforceRetention(ctx context.Context, competitorID string, maxVersions int) error {
	if maxVersions <= 0 {
		maxVersions = e.cfg.MaxVersionsPerCompetitor
	}

	for {
		count, err := e.store.CountByCompetitor(ctx, competitorID)
		if err != nil {
			return err
		}
		if count <= maxVersions {
			return nil
		}

		oldest, err := e.store.OldestSnapshot(ctx, competitorID)
		if err != nil {
			return err
		}
		if oldest == nil {
			return nil
		}

		if !oldest.IsFullVersion {
			if err := e.store.Delete(ctx, oldest.ID); err != nil {
				return err
			}
			if e.metrics != nil {
				e.metrics.RecordRetentionPrune(false)
			}
			e.logger.Info("retention pruned diff snapshot", "competitor_id", competitorID, "version", oldest.VersionNumber)
			continue
		}

		next, err := e.store.NextAfter(ctx, competitorID, oldest.VersionNumber)
		if err != nil {
			return err
		}
		if next == nil {
			// oldest is the only snapshot left; nothing further can be pruned
			// without violating the single-baseline invariant.
			return nil
		}

		reconstructed, err := e.reconstruct(ctx, e.store, competitorID, next.VersionNumber)
		if err != nil {
			return core.NewCaptureError(core.ErrKindRetentionBlocked, competitorID, err)
		}

		err = e.store.WithTx(ctx, func(ctx context.Context, tx core.SnapshotStore) error {
			isFull := true
			if err := tx.Update(ctx, next.ID, core.SnapshotUpdate{
				FullHTML:      &reconstructed,
				IsFullVersion: &isFull,
			}); err != nil {
				return err
			}
			return tx.Delete(ctx, oldest.ID)
		})
		if err != nil {
			return core.NewCaptureError(core.ErrKindRetentionBlocked, competitorID, err)
		}

		if e.metrics != nil {
			e.metrics.RecordRetentionPrune(true)
		}
		e.logger.Info("retention promoted next version to full",
			"competitor_id", competitorID,
			"deleted_version", oldest.VersionNumber,
			"promoted_version", next.VersionNumber,
		)
	}
}
