package sqlite_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/internal/storage/sqlite"
)

func newTestStorage(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	ctx := context.Background()
	dbPath := t.TempDir() + "/test.db"
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := sqlite.NewSQLiteStorage(ctx, dbPath, logger)
	require.NoError(t, err, "failed to create test storage")
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func seedCompetitor(t *testing.T, store *sqlite.SQLiteStorage, id string) *core.Competitor {
	t.Helper()
	comp := &core.Competitor{
		ID:               id,
		URL:              "https://example.com/" + id,
		MonitoringEnabled: true,
		CheckIntervalSec:  300,
		Priority:          core.PriorityMedium,
	}
	require.NoError(t, store.SeedCompetitor(context.Background(), comp))
	return comp
}

func TestCreateSnapshot_FullVersion(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	html := "<html>v1</html>"
	snap, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{
		CompetitorID:  "comp-1",
		VersionNumber: 1,
		CapturedAt:    time.Now(),
		IsFullVersion: true,
		IsCurrent:     true,
		FullHTML:      &html,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, 1, snap.VersionNumber)
	assert.True(t, snap.IsCurrent)
}

func TestCreateSnapshot_DuplicateVersion_ReturnsVersionConflict(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	attrs := core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 1, CapturedAt: time.Now(), IsFullVersion: true}
	_, err := store.CreateSnapshot(ctx, attrs)
	require.NoError(t, err)

	_, err = store.CreateSnapshot(ctx, attrs)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrKindVersionConflict, kind)
}

func TestGetCurrent_OnlyOneCurrentPerCompetitor(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	first, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{
		CompetitorID: "comp-1", VersionNumber: 1, CapturedAt: time.Now(), IsFullVersion: true, IsCurrent: true,
	})
	require.NoError(t, err)

	require.NoError(t, store.MarkNotCurrent(ctx, "comp-1", ""))
	second, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{
		CompetitorID: "comp-1", VersionNumber: 2, CapturedAt: time.Now(), IsFullVersion: false, IsCurrent: true,
	})
	require.NoError(t, err)

	current, err := store.GetCurrent(ctx, "comp-1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.ID, current.ID)
	assert.NotEqual(t, first.ID, current.ID)
}

func TestGetByVersion_NotFound(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	snap, err := store.GetByVersion(ctx, "comp-1", 99)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestList_OrderingBothDirections(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	for i := 1; i <= 3; i++ {
		_, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{
			CompetitorID: "comp-1", VersionNumber: i, CapturedAt: time.Now(), IsFullVersion: i == 1,
		})
		require.NoError(t, err)
	}

	asc, err := store.List(ctx, "comp-1", core.OrderAscending)
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, 1, asc[0].VersionNumber)

	desc, err := store.List(ctx, "comp-1", core.OrderDescending)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Equal(t, 3, desc[0].VersionNumber)
}

func TestFindLastFullAtOrBefore(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	_, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 1, CapturedAt: time.Now(), IsFullVersion: true})
	require.NoError(t, err)
	_, err = store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 2, CapturedAt: time.Now(), IsFullVersion: false})
	require.NoError(t, err)
	_, err = store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 3, CapturedAt: time.Now(), IsFullVersion: false})
	require.NoError(t, err)

	full, err := store.FindLastFullAtOrBefore(ctx, "comp-1", 3)
	require.NoError(t, err)
	require.NotNil(t, full)
	assert.Equal(t, 1, full.VersionNumber)
}

func TestCreateDiffAndDiffsBetween(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	v1, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 1, CapturedAt: time.Now(), IsFullVersion: true})
	require.NoError(t, err)
	v2, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 2, CapturedAt: time.Now(), IsFullVersion: false})
	require.NoError(t, err)

	diff, err := store.CreateDiff(ctx, core.NewSnapshotDiffAttrs{
		FromSnapshotID:   v1.ID,
		ToSnapshotID:     v2.ID,
		DiffData:         []core.Hunk{{Kind: core.HunkAdded, Text: "new line", LineCount: 1}},
		ChangeSummary:    "added a line",
		ChangeCount:      1,
		ChangePercentage: 2.5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, diff.ID)

	diffs, err := store.DiffsBetween(ctx, "comp-1", 1, 2)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "added a line", diffs[0].ChangeSummary)
	require.Len(t, diffs[0].DiffData, 1)
	assert.Equal(t, "new line", diffs[0].DiffData[0].Text)
}

func TestDeleteSnapshot_CascadesDiffs(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	v1, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 1, CapturedAt: time.Now(), IsFullVersion: true})
	require.NoError(t, err)
	v2, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 2, CapturedAt: time.Now(), IsFullVersion: false})
	require.NoError(t, err)
	_, err = store.CreateDiff(ctx, core.NewSnapshotDiffAttrs{FromSnapshotID: v1.ID, ToSnapshotID: v2.ID})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, v1.ID))

	diffs, err := store.DiffsBetween(ctx, "comp-1", 1, 2)
	require.NoError(t, err)
	assert.Empty(t, diffs, "diffs referencing a deleted snapshot should be gone")
}

func TestCountByCompetitor_OldestSnapshot_NextAfter(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	for i := 1; i <= 3; i++ {
		_, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: i, CapturedAt: time.Now(), IsFullVersion: i == 1})
		require.NoError(t, err)
	}

	count, err := store.CountByCompetitor(ctx, "comp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	oldest, err := store.OldestSnapshot(ctx, "comp-1")
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, 1, oldest.VersionNumber)

	next, err := store.NextAfter(ctx, "comp-1", 1)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.VersionNumber)
}

func TestUpdate_PartialFields(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	snap, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 1, CapturedAt: time.Now(), IsFullVersion: false})
	require.NoError(t, err)

	html := "<html>promoted</html>"
	full := true
	require.NoError(t, store.Update(ctx, snap.ID, core.SnapshotUpdate{FullHTML: &html, IsFullVersion: &full}))

	updated, err := store.GetByVersion(ctx, "comp-1", 1)
	require.NoError(t, err)
	require.NotNil(t, updated.FullHTML)
	assert.Equal(t, html, *updated.FullHTML)
	assert.True(t, updated.IsFullVersion)
}

func TestCompetitorStore_GetNotFound(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	comp, err := store.Get(ctx, "missing")
	assert.Error(t, err)
	assert.Nil(t, comp)
}

func TestCompetitorStore_UpdateCounters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, store.UpdateCounters(ctx, "comp-1", &now, &now, 5))

	comp, err := store.Get(ctx, "comp-1")
	require.NoError(t, err)
	assert.Equal(t, 5, comp.TotalVersions)
	require.NotNil(t, comp.LastCheckedAt)
	assert.WithinDuration(t, now, *comp.LastCheckedAt, time.Millisecond)
}

func TestListDue_RespectsIntervalAndEnabled(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	never := &core.Competitor{ID: "never-checked", URL: "https://a.example", MonitoringEnabled: true, CheckIntervalSec: 60, Priority: core.PriorityLow}
	require.NoError(t, store.SeedCompetitor(ctx, never))

	recent := &core.Competitor{ID: "recently-checked", URL: "https://b.example", MonitoringEnabled: true, CheckIntervalSec: 3600, Priority: core.PriorityLow}
	now := time.Now()
	recent.LastCheckedAt = &now
	require.NoError(t, store.SeedCompetitor(ctx, recent))

	disabled := &core.Competitor{ID: "disabled", URL: "https://c.example", MonitoringEnabled: false, CheckIntervalSec: 1, Priority: core.PriorityLow}
	require.NoError(t, store.SeedCompetitor(ctx, disabled))

	due, err := store.ListDue(ctx, time.Now())
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, c := range due {
		ids[c.ID] = true
	}
	assert.True(t, ids["never-checked"])
	assert.False(t, ids["recently-checked"])
	assert.False(t, ids["disabled"])
}

func TestListAllIDs_Sorted(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "zzz")
	seedCompetitor(t, store, "aaa")

	ids, err := store.ListAllIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, []string{"aaa", "zzz"}, ids)
}

func TestAlertStore_Create(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")
	snap, err := store.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 1, CapturedAt: time.Now(), IsFullVersion: true})
	require.NoError(t, err)

	alert := &core.Alert{
		CompetitorID:     "comp-1",
		SnapshotID:       snap.ID,
		Type:             core.AlertTypePriceChange,
		Severity:         core.SeverityHigh,
		Status:           core.AlertStatusUnread,
		VersionNumber:    1,
		ChangeCount:      3,
		ChangePercentage: 12.5,
		AffectedSections: []core.AffectedSection{{Selector: ".price", SectionType: "pricing", Confidence: 0.9}},
	}
	require.NoError(t, store.Create(ctx, alert))
	assert.NotEmpty(t, alert.ID)
	assert.False(t, alert.CreatedAt.IsZero())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	err := store.WithTx(ctx, func(ctx context.Context, tx core.SnapshotStore) error {
		_, err := tx.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 1, CapturedAt: time.Now(), IsFullVersion: true})
		require.NoError(t, err)
		return assert.AnError
	})
	require.Error(t, err)

	count, err := store.CountByCompetitor(ctx, "comp-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "transaction should have rolled back")
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedCompetitor(t, store, "comp-1")

	err := store.WithTx(ctx, func(ctx context.Context, tx core.SnapshotStore) error {
		_, err := tx.CreateSnapshot(ctx, core.NewSnapshotAttrs{CompetitorID: "comp-1", VersionNumber: 1, CapturedAt: time.Now(), IsFullVersion: true})
		return err
	})
	require.NoError(t, err)

	count, err := store.CountByCompetitor(ctx, "comp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHealth(t *testing.T) {
	store := newTestStorage(t)
	assert.NoError(t, store.Health(context.Background()))
}
