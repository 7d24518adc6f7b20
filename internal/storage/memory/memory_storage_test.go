package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramfiaogusto/watchtower/internal/core"
)

func TestSnapshotStore_CreateAndGetCurrent(t *testing.T) {
	store := NewSnapshotStore(nil)
	ctx := context.Background()

	full := "<html>v1</html>"
	snap, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{
		CompetitorID:  "c1",
		VersionNumber: 1,
		CapturedAt:    time.Now(),
		IsFullVersion: true,
		IsCurrent:     true,
		FullHTML:      &full,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)

	current, err := store.GetCurrent(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, 1, current.VersionNumber)
}

func TestSnapshotStore_CreateSnapshot_DuplicateVersionIsConflict(t *testing.T) {
	store := NewSnapshotStore(nil)
	ctx := context.Background()

	attrs := core.NewSnapshotAttrs{CompetitorID: "c1", VersionNumber: 1, CapturedAt: time.Now(), IsFullVersion: true}
	_, err := store.CreateSnapshot(ctx, attrs)
	require.NoError(t, err)

	_, err = store.CreateSnapshot(ctx, attrs)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrKindVersionConflict, kind)
}

func TestSnapshotStore_MarkNotCurrent(t *testing.T) {
	store := NewSnapshotStore(nil)
	ctx := context.Background()

	snap1, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "c1", VersionNumber: 1, IsCurrent: true})
	require.NoError(t, err)
	snap2, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "c1", VersionNumber: 2, IsCurrent: true})
	require.NoError(t, err)
	_ = snap1

	require.NoError(t, store.MarkNotCurrent(ctx, "c1", snap2.ID))

	got1, err := store.GetByVersion(ctx, "c1", 1)
	require.NoError(t, err)
	assert.False(t, got1.IsCurrent)

	got2, err := store.GetByVersion(ctx, "c1", 2)
	require.NoError(t, err)
	assert.True(t, got2.IsCurrent)
}

func TestSnapshotStore_FindLastFullAtOrBefore(t *testing.T) {
	store := NewSnapshotStore(nil)
	ctx := context.Background()

	full := "<html>base</html>"
	_, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "c1", VersionNumber: 1, IsFullVersion: true, FullHTML: &full})
	require.NoError(t, err)
	_, err = store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "c1", VersionNumber: 2, IsFullVersion: false})
	require.NoError(t, err)
	_, err = store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "c1", VersionNumber: 3, IsFullVersion: false})
	require.NoError(t, err)

	base, err := store.FindLastFullAtOrBefore(ctx, "c1", 3)
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, 1, base.VersionNumber)
}

func TestSnapshotStore_DeleteCascadesDiffs(t *testing.T) {
	store := NewSnapshotStore(nil)
	ctx := context.Background()

	s1, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "c1", VersionNumber: 1})
	require.NoError(t, err)
	s2, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "c1", VersionNumber: 2})
	require.NoError(t, err)

	_, err = store.CreateDiff(ctx, core.NewSnapshotDiffAttrs{FromSnapshotID: s1.ID, ToSnapshotID: s2.ID})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, s1.ID))

	diffs, err := store.DiffsBetween(ctx, "c1", 1, 2)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestSnapshotStore_CountOldestNextAfter(t *testing.T) {
	store := NewSnapshotStore(nil)
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		_, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "c1", VersionNumber: v})
		require.NoError(t, err)
	}

	count, err := store.CountByCompetitor(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	oldest, err := store.OldestSnapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, oldest.VersionNumber)

	next, err := store.NextAfter(ctx, "c1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, next.VersionNumber)
}

func TestCompetitorStore_GetAndUpdateCounters(t *testing.T) {
	store := NewCompetitorStore(nil)
	store.Seed(&core.Competitor{ID: "c1", URL: "https://example.com", MonitoringEnabled: true, CheckIntervalSec: 3600})

	ctx := context.Background()
	comp, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", comp.URL)

	now := time.Now()
	require.NoError(t, store.UpdateCounters(ctx, "c1", &now, &now, 5))

	updated, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 5, updated.TotalVersions)
	require.NotNil(t, updated.LastCheckedAt)
}

func TestCompetitorStore_ListDue(t *testing.T) {
	store := NewCompetitorStore(nil)
	past := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-time.Minute)

	store.Seed(&core.Competitor{ID: "due", MonitoringEnabled: true, CheckIntervalSec: 3600, LastCheckedAt: &past})
	store.Seed(&core.Competitor{ID: "not-due", MonitoringEnabled: true, CheckIntervalSec: 3600, LastCheckedAt: &recent})
	store.Seed(&core.Competitor{ID: "disabled", MonitoringEnabled: false, CheckIntervalSec: 1})
	store.Seed(&core.Competitor{ID: "never-checked", MonitoringEnabled: true, CheckIntervalSec: 3600})

	due, err := store.ListDue(context.Background(), time.Now())
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, c := range due {
		ids[c.ID] = true
	}
	assert.True(t, ids["due"])
	assert.True(t, ids["never-checked"])
	assert.False(t, ids["not-due"])
	assert.False(t, ids["disabled"])
}

func TestAlertStore_CreateAssignsID(t *testing.T) {
	store := NewAlertStore(nil)
	alert := &core.Alert{CompetitorID: "c1", Type: core.AlertTypeContentChange, Severity: core.SeverityMedium}

	require.NoError(t, store.Create(context.Background(), alert))
	assert.NotEmpty(t, alert.ID)
	assert.Len(t, store.All(), 1)
}
