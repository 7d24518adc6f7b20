package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramfiaogusto/watchtower/internal/core"
)

type fakeLock struct {
	held map[string]bool
}

func newFakeLock() *fakeLock { return &fakeLock{held: map[string]bool{}} }

func (f *fakeLock) AcquireLock(ctx context.Context, key string) (bool, error) {
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLock) ReleaseLock(ctx context.Context, key string) error {
	delete(f.held, key)
	return nil
}

type fakeCompetitorStore struct {
	competitor *core.Competitor
	updates    int
}

func (f *fakeCompetitorStore) Get(ctx context.Context, competitorID string) (*core.Competitor, error) {
	return f.competitor, nil
}

func (f *fakeCompetitorStore) UpdateCounters(ctx context.Context, competitorID string, lastCheckedAt, lastChangeAt *time.Time, totalVersions int) error {
	f.updates++
	f.competitor.LastCheckedAt = lastCheckedAt
	f.competitor.LastChangeAt = lastChangeAt
	f.competitor.TotalVersions = totalVersions
	return nil
}

// minimalSnapshotStore implements core.SnapshotStore but only GetCurrent is
// exercised by the orchestrator directly; other calls go through the fake
// version engine below.
type minimalSnapshotStore struct {
	current *core.Snapshot
}

func (m *minimalSnapshotStore) GetCurrent(ctx context.Context, competitorID string) (*core.Snapshot, error) {
	return m.current, nil
}
func (m *minimalSnapshotStore) GetByVersion(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	return nil, nil
}
func (m *minimalSnapshotStore) List(ctx context.Context, competitorID string, order core.SnapshotOrder) ([]*core.Snapshot, error) {
	return nil, nil
}
func (m *minimalSnapshotStore) FindLastFullAtOrBefore(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	return nil, nil
}
func (m *minimalSnapshotStore) DiffsBetween(ctx context.Context, competitorID string, fromVersion, toVersion int) ([]*core.SnapshotDiff, error) {
	return nil, nil
}
func (m *minimalSnapshotStore) CreateSnapshot(ctx context.Context, attrs core.NewSnapshotAttrs) (*core.Snapshot, error) {
	return nil, nil
}
func (m *minimalSnapshotStore) CreateDiff(ctx context.Context, attrs core.NewSnapshotDiffAttrs) (*core.SnapshotDiff, error) {
	return nil, nil
}
func (m *minimalSnapshotStore) MarkNotCurrent(ctx context.Context, competitorID string, exceptID string) error {
	return nil
}
func (m *minimalSnapshotStore) Update(ctx context.Context, snapshotID string, update core.SnapshotUpdate) error {
	return nil
}
func (m *minimalSnapshotStore) Delete(ctx context.Context, snapshotID string) error { return nil }
func (m *minimalSnapshotStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx core.SnapshotStore) error) error {
	return fn(ctx, m)
}
func (m *minimalSnapshotStore) CountByCompetitor(ctx context.Context, competitorID string) (int, error) {
	return 0, nil
}
func (m *minimalSnapshotStore) OldestSnapshot(ctx context.Context, competitorID string) (*core.Snapshot, error) {
	return nil, nil
}
func (m *minimalSnapshotStore) NextAfter(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	return nil, nil
}

type fakeRenderer struct {
	result *core.RenderResult
	err    error
}

func (f *fakeRenderer) Fetch(ctx context.Context, url string, options core.RenderOptions) (*core.RenderResult, error) {
	return f.result, f.err
}

type identityNormalizer struct{}

func (identityNormalizer) Normalize(html string) string { return html }

type fakeDiffer struct {
	result *core.DiffResult
	err    error
}

func (f *fakeDiffer) Diff(normalizedOld, normalizedNew string) (*core.DiffResult, error) {
	return f.result, f.err
}

type fakeSectionExtractor struct {
	sections []core.AffectedSection
	err      error
}

func (f *fakeSectionExtractor) Extract(rawNewHTML string, hunks []core.Hunk) ([]core.AffectedSection, error) {
	return f.sections, f.err
}

type fakeVersionEngine struct {
	writeCalls      int
	retentionCalls  int
	writeErr        error
	reconstructHTML string
	reconstructErr  error
	nextVersion     int
}

func (f *fakeVersionEngine) WriteVersion(ctx context.Context, competitorID string, currentVersion int, renderedHTML string, diff *core.DiffResult) (*core.Snapshot, error) {
	f.writeCalls++
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	v := currentVersion + 1
	if f.nextVersion != 0 {
		v = f.nextVersion
	}
	return &core.Snapshot{ID: "snap-new", VersionNumber: v, Severity: diff.Severity, ChangeType: diff.ChangeType}, nil
}

func (f *fakeVersionEngine) Reconstruct(ctx context.Context, competitorID string, versionNumber int) (string, error) {
	return f.reconstructHTML, f.reconstructErr
}

func (f *fakeVersionEngine) EnforceRetention(ctx context.Context, competitorID string, maxVersions int) error {
	f.retentionCalls++
	return nil
}

type fakeAlertEmitter struct {
	emitCalls      int
	emitErrorCalls int
}

func (f *fakeAlertEmitter) Emit(ctx context.Context, competitor *core.Competitor, snapshot *core.Snapshot, sections []core.AffectedSection) (*core.Alert, error) {
	f.emitCalls++
	return &core.Alert{ID: "alert-1"}, nil
}

func (f *fakeAlertEmitter) EmitError(ctx context.Context, competitor *core.Competitor, cause error) (*core.Alert, error) {
	f.emitErrorCalls++
	return &core.Alert{ID: "alert-err"}, nil
}

func buildOrchestrator(competitor *core.Competitor, current *core.Snapshot, renderResult *core.RenderResult, renderErr error, diffResult *core.DiffResult, ve *fakeVersionEngine, ae *fakeAlertEmitter) (*Orchestrator, *fakeLock) {
	lock := newFakeLock()
	o := New(
		lock,
		&fakeCompetitorStore{competitor: competitor},
		&minimalSnapshotStore{current: current},
		&fakeRenderer{result: renderResult, err: renderErr},
		identityNormalizer{},
		&fakeDiffer{result: diffResult},
		&fakeSectionExtractor{},
		ve,
		ae,
		DefaultConfig(),
		nil, nil,
	)
	return o, lock
}

func TestCapture_InitialCaptureAlwaysCreatesVersionOne(t *testing.T) {
	competitor := &core.Competitor{ID: "c1", URL: "https://example.com", MonitoringEnabled: true}
	ve := &fakeVersionEngine{nextVersion: 1}
	ae := &fakeAlertEmitter{}
	o, lock := buildOrchestrator(competitor, nil, &core.RenderResult{HTML: "<html>v1</html>"}, nil, nil, ve, ae)

	result, err := o.Capture(context.Background(), "c1", core.CaptureOptions{})
	require.NoError(t, err)
	assert.False(t, result.ChangesDetected)
	assert.Equal(t, 1, result.VersionNumber)
	assert.Equal(t, 1, ve.writeCalls)
	assert.Equal(t, 0, ae.emitCalls)
	assert.Empty(t, lock.held)
}

func TestCapture_InsignificantChangeSkipsWrite(t *testing.T) {
	competitor := &core.Competitor{ID: "c1", URL: "https://example.com", MonitoringEnabled: true}
	current := &core.Snapshot{ID: "s1", VersionNumber: 1}
	ve := &fakeVersionEngine{reconstructHTML: "<html>old</html>"}
	ae := &fakeAlertEmitter{}
	diff := &core.DiffResult{ChangeCount: 0, ChangePercentage: 0, Severity: core.SeverityLow}
	o, _ := buildOrchestrator(competitor, current, &core.RenderResult{HTML: "<html>new</html>"}, nil, diff, ve, ae)

	result, err := o.Capture(context.Background(), "c1", core.CaptureOptions{})
	require.NoError(t, err)
	assert.False(t, result.ChangesDetected)
	assert.Equal(t, 0, ve.writeCalls)
	assert.Equal(t, 0, ae.emitCalls)
}

func TestCapture_SignificantChangeWritesAndAlertsAndRetains(t *testing.T) {
	competitor := &core.Competitor{ID: "c1", URL: "https://example.com", MonitoringEnabled: true}
	current := &core.Snapshot{ID: "s1", VersionNumber: 1}
	ve := &fakeVersionEngine{reconstructHTML: "<html>old</html>"}
	ae := &fakeAlertEmitter{}
	diff := &core.DiffResult{
		Hunks:            []core.Hunk{{Kind: core.HunkAdded, Text: "new content here that is long enough to be significant indeed it really is long enough yes", LineCount: 1}},
		ChangeCount:      1,
		ChangePercentage: 10,
		Severity:         core.SeverityMedium,
		ChangeType:       core.ChangeTypeContent,
	}
	o, lock := buildOrchestrator(competitor, current, &core.RenderResult{HTML: "<html>new</html>"}, nil, diff, ve, ae)

	result, err := o.Capture(context.Background(), "c1", core.CaptureOptions{})
	require.NoError(t, err)
	assert.True(t, result.ChangesDetected)
	assert.True(t, result.AlertCreated)
	assert.Equal(t, 1, ve.writeCalls)
	assert.Equal(t, 1, ve.retentionCalls)
	assert.Equal(t, 1, ae.emitCalls)
	assert.Empty(t, lock.held)
}

func TestCapture_MonitoringDisabledBlocksSchedulerNotManual(t *testing.T) {
	competitor := &core.Competitor{ID: "c1", URL: "https://example.com", MonitoringEnabled: false}
	ve := &fakeVersionEngine{}
	ae := &fakeAlertEmitter{}
	o, _ := buildOrchestrator(competitor, nil, &core.RenderResult{HTML: "<html>v1</html>"}, nil, nil, ve, ae)

	_, err := o.Capture(context.Background(), "c1", core.CaptureOptions{})
	require.Error(t, err)
	assert.True(t, core.IsMonitoringDisabled(err))

	ve2 := &fakeVersionEngine{nextVersion: 1}
	o2, _ := buildOrchestrator(competitor, nil, &core.RenderResult{HTML: "<html>v1</html>"}, nil, nil, ve2, ae)
	_, err = o2.Capture(context.Background(), "c1", core.CaptureOptions{IsManualCheck: true})
	require.NoError(t, err)
}

func TestCapture_LockContentionReturnsCaptureInProgress(t *testing.T) {
	competitor := &core.Competitor{ID: "c1", URL: "https://example.com", MonitoringEnabled: true}
	lock := newFakeLock()
	lock.held["capture:c1"] = true
	ve := &fakeVersionEngine{}
	o := New(lock, &fakeCompetitorStore{competitor: competitor}, &minimalSnapshotStore{}, &fakeRenderer{}, identityNormalizer{}, &fakeDiffer{}, &fakeSectionExtractor{}, ve, &fakeAlertEmitter{}, DefaultConfig(), nil, nil)

	_, err := o.Capture(context.Background(), "c1", core.CaptureOptions{})
	require.Error(t, err)
	assert.True(t, core.IsCaptureInProgress(err))
}

func TestCapture_RendererUnavailableFallsBackOnInitialCapture(t *testing.T) {
	competitor := &core.Competitor{ID: "c1", URL: "https://example.com", MonitoringEnabled: true}
	ve := &fakeVersionEngine{nextVersion: 1}
	ae := &fakeAlertEmitter{}
	renderErr := core.NewCaptureError(core.ErrKindRendererUnavailable, "c1", errors.New("upstream down"))
	o, _ := buildOrchestrator(competitor, nil, nil, renderErr, nil, ve, ae)

	result, err := o.Capture(context.Background(), "c1", core.CaptureOptions{IsInitialCapture: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.VersionNumber)
}

func TestCapture_RendererUnavailableWithoutInitialFlagPropagatesAndAlertsError(t *testing.T) {
	competitor := &core.Competitor{ID: "c1", URL: "https://example.com", MonitoringEnabled: true}
	ve := &fakeVersionEngine{}
	ae := &fakeAlertEmitter{}
	renderErr := core.NewCaptureError(core.ErrKindRendererUnavailable, "c1", errors.New("upstream down"))
	o, _ := buildOrchestrator(competitor, nil, nil, renderErr, nil, ve, ae)

	_, err := o.Capture(context.Background(), "c1", core.CaptureOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, ae.emitErrorCalls)
}
