// Package memory implements core.SnapshotStore, core.CompetitorStore and
// core.AlertStore entirely in process memory. It backs the "lite" profile's
// unit tests and serves as the graceful-degradation fallback described in
// the storage factory when the configured backend cannot be reached.
//
// Data is lost on restart. It is not suitable for production use outside of
// temporary fallback during a database outage.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ramfiaogusto/watchtower/internal/core"
)

// SnapshotStore is an in-memory, mutex-guarded implementation of
// core.SnapshotStore.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*core.Snapshot
	diffs     map[string]*core.SnapshotDiff
	logger    *slog.Logger
}

// NewSnapshotStore returns an empty in-memory snapshot store.
func NewSnapshotStore(logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{
		snapshots: make(map[string]*core.Snapshot),
		diffs:     make(map[string]*core.SnapshotDiff),
		logger:    logger,
	}
}

func cloneSnapshot(s *core.Snapshot) *core.Snapshot {
	cp := *s
	if s.FullHTML != nil {
		html := *s.FullHTML
		cp.FullHTML = &html
	}
	return &cp
}

func cloneDiff(d *core.SnapshotDiff) *core.SnapshotDiff {
	cp := *d
	cp.DiffData = append([]core.Hunk(nil), d.DiffData...)
	return &cp
}

// GetCurrent implements core.SnapshotStore.GetCurrent.
func (s *SnapshotStore) GetCurrent(ctx context.Context, competitorID string) (*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.snapshots {
		if snap.CompetitorID == competitorID && snap.IsCurrent {
			return cloneSnapshot(snap), nil
		}
	}
	return nil, nil
}

// GetByVersion implements core.SnapshotStore.GetByVersion.
func (s *SnapshotStore) GetByVersion(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.snapshots {
		if snap.CompetitorID == competitorID && snap.VersionNumber == versionNumber {
			return cloneSnapshot(snap), nil
		}
	}
	return nil, nil
}

// List implements core.SnapshotStore.List.
func (s *SnapshotStore) List(ctx context.Context, competitorID string, order core.SnapshotOrder) ([]*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*core.Snapshot
	for _, snap := range s.snapshots {
		if snap.CompetitorID == competitorID {
			result = append(result, cloneSnapshot(snap))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if order == core.OrderDescending {
			return result[i].VersionNumber > result[j].VersionNumber
		}
		return result[i].VersionNumber < result[j].VersionNumber
	})
	return result, nil
}

// FindLastFullAtOrBefore implements core.SnapshotStore.FindLastFullAtOrBefore.
func (s *SnapshotStore) FindLastFullAtOrBefore(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *core.Snapshot
	for _, snap := range s.snapshots {
		if snap.CompetitorID != competitorID || !snap.IsFullVersion || snap.VersionNumber > versionNumber {
			continue
		}
		if best == nil || snap.VersionNumber > best.VersionNumber {
			best = snap
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneSnapshot(best), nil
}

// DiffsBetween implements core.SnapshotStore.DiffsBetween.
func (s *SnapshotStore) DiffsBetween(ctx context.Context, competitorID string, fromVersion, toVersion int) ([]*core.SnapshotDiff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byVersion := make(map[string]int, len(s.snapshots))
	for _, snap := range s.snapshots {
		if snap.CompetitorID == competitorID {
			byVersion[snap.ID] = snap.VersionNumber
		}
	}

	var result []*core.SnapshotDiff
	for _, d := range s.diffs {
		fromV, ok := byVersion[d.FromSnapshotID]
		if !ok {
			continue
		}
		if fromV < fromVersion || fromV >= toVersion {
			continue
		}
		result = append(result, cloneDiff(d))
	}
	sort.Slice(result, func(i, j int) bool {
		return byVersion[result[i].FromSnapshotID] < byVersion[result[j].FromSnapshotID]
	})
	return result, nil
}

// CreateSnapshot implements core.SnapshotStore.CreateSnapshot.
func (s *SnapshotStore) CreateSnapshot(ctx context.Context, attrs core.NewSnapshotAttrs) (*core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range s.snapshots {
		if snap.CompetitorID == attrs.CompetitorID && snap.VersionNumber == attrs.VersionNumber {
			return nil, core.NewCaptureError(core.ErrKindVersionConflict, attrs.CompetitorID, nil)
		}
	}

	snap := &core.Snapshot{
		ID:               uuid.NewString(),
		CompetitorID:     attrs.CompetitorID,
		VersionNumber:    attrs.VersionNumber,
		CapturedAt:       attrs.CapturedAt,
		IsFullVersion:    attrs.IsFullVersion,
		IsCurrent:        attrs.IsCurrent,
		FullHTML:         attrs.FullHTML,
		ChangeCount:      attrs.ChangeCount,
		ChangePercentage: attrs.ChangePercentage,
		Severity:         attrs.Severity,
		ChangeType:       attrs.ChangeType,
		ChangeSummary:    attrs.ChangeSummary,
	}
	s.snapshots[snap.ID] = snap
	return cloneSnapshot(snap), nil
}

// CreateDiff implements core.SnapshotStore.CreateDiff.
func (s *SnapshotStore) CreateDiff(ctx context.Context, attrs core.NewSnapshotDiffAttrs) (*core.SnapshotDiff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := &core.SnapshotDiff{
		ID:               uuid.NewString(),
		FromSnapshotID:   attrs.FromSnapshotID,
		ToSnapshotID:     attrs.ToSnapshotID,
		DiffData:         append([]core.Hunk(nil), attrs.DiffData...),
		ChangeSummary:    attrs.ChangeSummary,
		ChangeCount:      attrs.ChangeCount,
		ChangePercentage: attrs.ChangePercentage,
	}
	s.diffs[d.ID] = d
	return cloneDiff(d), nil
}

// MarkNotCurrent implements core.SnapshotStore.MarkNotCurrent.
func (s *SnapshotStore) MarkNotCurrent(ctx context.Context, competitorID string, exceptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range s.snapshots {
		if snap.CompetitorID == competitorID && snap.ID != exceptID {
			snap.IsCurrent = false
		}
	}
	return nil
}

// Update implements core.SnapshotStore.Update.
func (s *SnapshotStore) Update(ctx context.Context, snapshotID string, update core.SnapshotUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return fmt.Errorf("snapshot %s not found", snapshotID)
	}
	if update.FullHTML != nil {
		html := *update.FullHTML
		snap.FullHTML = &html
	}
	if update.IsFullVersion != nil {
		snap.IsFullVersion = *update.IsFullVersion
	}
	if update.IsCurrent != nil {
		snap.IsCurrent = *update.IsCurrent
	}
	return nil
}

// Delete implements core.SnapshotStore.Delete, cascading its diffs.
func (s *SnapshotStore) Delete(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, snapshotID)
	for id, d := range s.diffs {
		if d.FromSnapshotID == snapshotID || d.ToSnapshotID == snapshotID {
			delete(s.diffs, id)
		}
	}
	return nil
}

// WithTx implements core.SnapshotStore.WithTx. In-memory operations are
// already atomic under the store's single mutex, so fn runs directly against
// the store with no additional isolation.
func (s *SnapshotStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx core.SnapshotStore) error) error {
	return fn(ctx, s)
}

// CountByCompetitor implements core.SnapshotStore.CountByCompetitor.
func (s *SnapshotStore) CountByCompetitor(ctx context.Context, competitorID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, snap := range s.snapshots {
		if snap.CompetitorID == competitorID {
			count++
		}
	}
	return count, nil
}

// OldestSnapshot implements core.SnapshotStore.OldestSnapshot.
func (s *SnapshotStore) OldestSnapshot(ctx context.Context, competitorID string) (*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest *core.Snapshot
	for _, snap := range s.snapshots {
		if snap.CompetitorID != competitorID {
			continue
		}
		if oldest == nil || snap.VersionNumber < oldest.VersionNumber {
			oldest = snap
		}
	}
	if oldest == nil {
		return nil, nil
	}
	return cloneSnapshot(oldest), nil
}

// NextAfter implements core.SnapshotStore.NextAfter.
func (s *SnapshotStore) NextAfter(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var next *core.Snapshot
	for _, snap := range s.snapshots {
		if snap.CompetitorID != competitorID || snap.VersionNumber <= versionNumber {
			continue
		}
		if next == nil || snap.VersionNumber < next.VersionNumber {
			next = snap
		}
	}
	if next == nil {
		return nil, nil
	}
	return cloneSnapshot(next), nil
}

// CompetitorStore is an in-memory implementation of core.CompetitorStore,
// seeded directly by tests or by a thin adapter over the outer system's
// competitor directory.
type CompetitorStore struct {
	mu          sync.RWMutex
	competitors map[string]*core.Competitor
	logger      *slog.Logger
}

// NewCompetitorStore returns an empty in-memory competitor store.
func NewCompetitorStore(logger *slog.Logger) *CompetitorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompetitorStore{competitors: make(map[string]*core.Competitor), logger: logger}
}

// Seed inserts or replaces a competitor record.
func (c *CompetitorStore) Seed(competitor *core.Competitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *competitor
	c.competitors[competitor.ID] = &cp
}

func cloneCompetitor(c *core.Competitor) *core.Competitor {
	cp := *c
	if c.LastCheckedAt != nil {
		t := *c.LastCheckedAt
		cp.LastCheckedAt = &t
	}
	if c.LastChangeAt != nil {
		t := *c.LastChangeAt
		cp.LastChangeAt = &t
	}
	return &cp
}

// Get implements core.CompetitorStore.Get.
func (c *CompetitorStore) Get(ctx context.Context, competitorID string) (*core.Competitor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	comp, ok := c.competitors[competitorID]
	if !ok {
		return nil, fmt.Errorf("competitor %s not found", competitorID)
	}
	return cloneCompetitor(comp), nil
}

// UpdateCounters implements core.CompetitorStore.UpdateCounters.
func (c *CompetitorStore) UpdateCounters(ctx context.Context, competitorID string, lastCheckedAt, lastChangeAt *time.Time, totalVersions int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	comp, ok := c.competitors[competitorID]
	if !ok {
		return fmt.Errorf("competitor %s not found", competitorID)
	}
	if lastCheckedAt != nil {
		t := *lastCheckedAt
		comp.LastCheckedAt = &t
	}
	if lastChangeAt != nil {
		t := *lastChangeAt
		comp.LastChangeAt = &t
	}
	comp.TotalVersions = totalVersions
	return nil
}

// ListDue implements scheduler.CompetitorLister.ListDue: a competitor is due
// once its check interval has elapsed since the last check, or it has never
// been checked.
func (c *CompetitorStore) ListDue(ctx context.Context, now time.Time) ([]*core.Competitor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var due []*core.Competitor
	for _, comp := range c.competitors {
		if !comp.MonitoringEnabled {
			continue
		}
		if comp.LastCheckedAt == nil || now.Sub(*comp.LastCheckedAt) >= time.Duration(comp.CheckIntervalSec)*time.Second {
			due = append(due, cloneCompetitor(comp))
		}
	}
	return due, nil
}

// ListAllIDs implements scheduler.CompetitorLister.ListAllIDs.
func (c *CompetitorStore) ListAllIDs(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.competitors))
	for id := range c.competitors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AlertStore is an in-memory implementation of core.AlertStore.
type AlertStore struct {
	mu     sync.RWMutex
	alerts []*core.Alert
	logger *slog.Logger
}

// NewAlertStore returns an empty in-memory alert store.
func NewAlertStore(logger *slog.Logger) *AlertStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertStore{logger: logger}
}

// Create implements core.AlertStore.Create.
func (a *AlertStore) Create(ctx context.Context, alert *core.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	cp := *alert
	a.alerts = append(a.alerts, &cp)
	a.logger.Debug("alert stored", "id", alert.ID, "type", alert.Type, "competitor_id", alert.CompetitorID)
	return nil
}

// All returns every alert recorded so far, in insertion order. Exposed for
// tests; not part of core.AlertStore.
func (a *AlertStore) All() []*core.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]*core.Alert, len(a.alerts))
	copy(result, a.alerts)
	return result
}
