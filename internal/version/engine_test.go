package version

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramfiaogusto/watchtower/internal/core"
)

// fakeStore is an in-memory core.SnapshotStore for exercising the write
// policy, reconstruction and retention logic in isolation.
type fakeStore struct {
	snapshots map[string]*core.Snapshot // keyed by id
	diffs     map[string]*core.SnapshotDiff
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: map[string]*core.Snapshot{}, diffs: map[string]*core.SnapshotDiff{}}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return prefix + "-" + time.Now().Add(time.Duration(f.seq)).String()
}

func (f *fakeStore) byCompetitor(competitorID string) []*core.Snapshot {
	var out []*core.Snapshot
	for _, s := range f.snapshots {
		if s.CompetitorID == competitorID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out
}

func (f *fakeStore) GetCurrent(ctx context.Context, competitorID string) (*core.Snapshot, error) {
	for _, s := range f.snapshots {
		if s.CompetitorID == competitorID && s.IsCurrent {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetByVersion(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	for _, s := range f.byCompetitor(competitorID) {
		if s.VersionNumber == versionNumber {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) List(ctx context.Context, competitorID string, order core.SnapshotOrder) ([]*core.Snapshot, error) {
	out := f.byCompetitor(competitorID)
	if order == core.OrderDescending {
		sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	}
	return out, nil
}

func (f *fakeStore) FindLastFullAtOrBefore(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	var best *core.Snapshot
	for _, s := range f.byCompetitor(competitorID) {
		if s.IsFullVersion && s.VersionNumber <= versionNumber {
			if best == nil || s.VersionNumber > best.VersionNumber {
				best = s
			}
		}
	}
	return best, nil
}

func (f *fakeStore) DiffsBetween(ctx context.Context, competitorID string, fromVersion, toVersion int) ([]*core.SnapshotDiff, error) {
	byTo := map[string]*core.SnapshotDiff{}
	for _, d := range f.diffs {
		byTo[d.ToSnapshotID] = d
	}
	var out []*core.SnapshotDiff
	for v := fromVersion + 1; v <= toVersion; v++ {
		snap, _ := f.GetByVersion(ctx, competitorID, v)
		if snap == nil {
			continue
		}
		if d, ok := byTo[snap.ID]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateSnapshot(ctx context.Context, attrs core.NewSnapshotAttrs) (*core.Snapshot, error) {
	for _, s := range f.byCompetitor(attrs.CompetitorID) {
		if s.VersionNumber == attrs.VersionNumber {
			return nil, core.NewCaptureError(core.ErrKindVersionConflict, attrs.CompetitorID, nil)
		}
	}
	snap := &core.Snapshot{
		ID:               f.nextID("snap"),
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
	f.snapshots[snap.ID] = snap
	return snap, nil
}

func (f *fakeStore) CreateDiff(ctx context.Context, attrs core.NewSnapshotDiffAttrs) (*core.SnapshotDiff, error) {
	d := &core.SnapshotDiff{
		ID:               f.nextID("diff"),
		FromSnapshotID:   attrs.FromSnapshotID,
		ToSnapshotID:     attrs.ToSnapshotID,
		DiffData:         attrs.DiffData,
		ChangeSummary:    attrs.ChangeSummary,
		ChangeCount:      attrs.ChangeCount,
		ChangePercentage: attrs.ChangePercentage,
	}
	f.diffs[d.ID] = d
	return d, nil
}

func (f *fakeStore) MarkNotCurrent(ctx context.Context, competitorID string, exceptID string) error {
	for _, s := range f.snapshots {
		if s.CompetitorID == competitorID && s.ID != exceptID {
			s.IsCurrent = false
		}
	}
	return nil
}

func (f *fakeStore) Update(ctx context.Context, snapshotID string, update core.SnapshotUpdate) error {
	s, ok := f.snapshots[snapshotID]
	if !ok {
		return core.NewCaptureError(core.ErrKindStoreUnavailable, "", nil)
	}
	if update.FullHTML != nil {
		s.FullHTML = update.FullHTML
	}
	if update.IsFullVersion != nil {
		s.IsFullVersion = *update.IsFullVersion
	}
	if update.IsCurrent != nil {
		s.IsCurrent = *update.IsCurrent
	}
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, snapshotID string) error {
	delete(f.snapshots, snapshotID)
	for id, d := range f.diffs {
		if d.ToSnapshotID == snapshotID || d.FromSnapshotID == snapshotID {
			delete(f.diffs, id)
		}
	}
	return nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx core.SnapshotStore) error) error {
	return fn(ctx, f)
}

func (f *fakeStore) CountByCompetitor(ctx context.Context, competitorID string) (int, error) {
	return len(f.byCompetitor(competitorID)), nil
}

func (f *fakeStore) OldestSnapshot(ctx context.Context, competitorID string) (*core.Snapshot, error) {
	all := f.byCompetitor(competitorID)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (f *fakeStore) NextAfter(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	for _, s := range f.byCompetitor(competitorID) {
		if s.VersionNumber > versionNumber {
			return s, nil
		}
	}
	return nil, nil
}

func diffResult(severity core.Severity, hunks ...core.Hunk) *core.DiffResult {
	return &core.DiffResult{
		Hunks:       hunks,
		AllHunks:    hunks,
		ChangeCount: len(hunks),
		Severity:    severity,
		ChangeType:  core.ChangeTypeContent,
	}
}

func TestWriteVersion_FirstCaptureIsAlwaysFull(t *testing.T) {
	store := newFakeStore()
	eng := New(store, Config{FullVersionInterval: 10, MaxVersionsPerCompetitor: 30}, nil, nil)

	snap, err := eng.WriteVersion(context.Background(), "c1", 0, "<html>v1</html>", diffResult(core.SeverityLow))
	require.NoError(t, err)
	assert.True(t, snap.IsFullVersion)
	assert.Equal(t, 1, snap.VersionNumber)
	require.NotNil(t, snap.FullHTML)
	assert.Equal(t, "<html>v1</html>", *snap.FullHTML)
}

func TestWriteVersion_IncrementalStoresDiffNotFullHTML(t *testing.T) {
	store := newFakeStore()
	eng := New(store, Config{FullVersionInterval: 10, MaxVersionsPerCompetitor: 30}, nil, nil)

	_, err := eng.WriteVersion(context.Background(), "c1", 0, "<html>v1</html>", diffResult(core.SeverityLow))
	require.NoError(t, err)

	snap, err := eng.WriteVersion(context.Background(), "c1", 1, "<html>v2</html>", diffResult(core.SeverityMedium,
		core.Hunk{Kind: core.HunkAdded, Text: "v2-extra", LineCount: 1}))
	require.NoError(t, err)
	assert.False(t, snap.IsFullVersion)
	assert.Nil(t, snap.FullHTML)
	assert.Equal(t, 2, snap.VersionNumber)
}

func TestWriteVersion_CriticalSeverityForcesFull(t *testing.T) {
	store := newFakeStore()
	eng := New(store, Config{FullVersionInterval: 10, MaxVersionsPerCompetitor: 30}, nil, nil)

	_, err := eng.WriteVersion(context.Background(), "c1", 0, "<html>v1</html>", diffResult(core.SeverityLow))
	require.NoError(t, err)

	snap, err := eng.WriteVersion(context.Background(), "c1", 1, "<html>v2</html>", diffResult(core.SeverityCritical,
		core.Hunk{Kind: core.HunkAdded, Text: "big change", LineCount: 60}))
	require.NoError(t, err)
	assert.True(t, snap.IsFullVersion)
}

func TestWriteVersion_IntervalForcesFullOnNthVersion(t *testing.T) {
	store := newFakeStore()
	eng := New(store, Config{FullVersionInterval: 3, MaxVersionsPerCompetitor: 30}, nil, nil)

	ctx := context.Background()
	v1, err := eng.WriteVersion(ctx, "c1", 0, "<html>v1</html>", diffResult(core.SeverityLow))
	require.NoError(t, err)
	v2, err := eng.WriteVersion(ctx, "c1", 1, "<html>v2</html>", diffResult(core.SeverityLow,
		core.Hunk{Kind: core.HunkAdded, Text: "x", LineCount: 1}))
	require.NoError(t, err)
	v3, err := eng.WriteVersion(ctx, "c1", 2, "<html>v3</html>", diffResult(core.SeverityLow,
		core.Hunk{Kind: core.HunkAdded, Text: "y", LineCount: 1}))
	require.NoError(t, err)

	assert.True(t, v1.IsFullVersion)
	assert.False(t, v2.IsFullVersion)
	assert.True(t, v3.IsFullVersion)
}

func TestReconstruct_FullVersionReturnsStoredHTML(t *testing.T) {
	store := newFakeStore()
	eng := New(store, DefaultConfig(), nil, nil)

	_, err := eng.WriteVersion(context.Background(), "c1", 0, "<html>base</html>", diffResult(core.SeverityLow))
	require.NoError(t, err)

	html, err := eng.Reconstruct(context.Background(), "c1", 1)
	require.NoError(t, err)
	assert.Equal(t, "<html>base</html>", html)
}

func TestReconstruct_ReplaysDiffsFromLastFull(t *testing.T) {
	store := newFakeStore()
	eng := New(store, Config{FullVersionInterval: 100, MaxVersionsPerCompetitor: 100}, nil, nil)
	ctx := context.Background()

	_, err := eng.WriteVersion(ctx, "c1", 0, "base-content", diffResult(core.SeverityLow))
	require.NoError(t, err)

	_, err = eng.WriteVersion(ctx, "c1", 1, "base-content-appended", diffResult(core.SeverityMedium,
		core.Hunk{Kind: core.HunkAdded, Text: "-appended", LineCount: 1}))
	require.NoError(t, err)

	_, err = eng.WriteVersion(ctx, "c1", 2, "base-appended", diffResult(core.SeverityMedium,
		core.Hunk{Kind: core.HunkRemoved, Text: "-content", LineCount: 1},
		core.Hunk{Kind: core.HunkAdded, Text: "-appended-more", LineCount: 1}))
	require.NoError(t, err)

	html, err := eng.Reconstruct(ctx, "c1", 3)
	require.NoError(t, err)
	assert.Equal(t, "base-appended-appended-more", html)
}

func TestEnforceRetention_PrunesOldestAndPromotesNextToFull(t *testing.T) {
	store := newFakeStore()
	eng := New(store, Config{FullVersionInterval: 100, MaxVersionsPerCompetitor: 2}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := eng.WriteVersion(ctx, "c1", i, "html", diffResult(core.SeverityLow,
			core.Hunk{Kind: core.HunkAdded, Text: "x", LineCount: 1}))
		require.NoError(t, err)
	}

	require.NoError(t, eng.EnforceRetention(ctx, "c1", 2))

	count, err := store.CountByCompetitor(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	remaining, err := store.List(ctx, "c1", core.OrderAscending)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.True(t, remaining[0].IsFullVersion, "oldest surviving snapshot must be a full baseline")
}
