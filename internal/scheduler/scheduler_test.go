package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramfiaogusto/watchtower/internal/core"
)

type fakeOrchestrator struct {
	captureFunc func(ctx context.Context, competitorID string, options core.CaptureOptions) (*core.CaptureResult, error)
	callCount   int32
	mu          sync.Mutex
	calledWith  []string
}

func (f *fakeOrchestrator) Capture(ctx context.Context, competitorID string, options core.CaptureOptions) (*core.CaptureResult, error) {
	atomic.AddInt32(&f.callCount, 1)
	f.mu.Lock()
	f.calledWith = append(f.calledWith, competitorID)
	f.mu.Unlock()
	if f.captureFunc != nil {
		return f.captureFunc(ctx, competitorID, options)
	}
	return &core.CaptureResult{ChangesDetected: false, VersionNumber: 1}, nil
}

func (f *fakeOrchestrator) getCallCount() int {
	return int(atomic.LoadInt32(&f.callCount))
}

type fakeVersionEngine struct {
	retentionFunc func(ctx context.Context, competitorID string, maxVersions int) error
	retentionCalls int32
}

func (f *fakeVersionEngine) WriteVersion(ctx context.Context, competitorID string, currentVersion int, renderedHTML string, diff *core.DiffResult) (*core.Snapshot, error) {
	return nil, nil
}

func (f *fakeVersionEngine) Reconstruct(ctx context.Context, competitorID string, versionNumber int) (string, error) {
	return "", nil
}

func (f *fakeVersionEngine) EnforceRetention(ctx context.Context, competitorID string, maxVersions int) error {
	atomic.AddInt32(&f.retentionCalls, 1)
	if f.retentionFunc != nil {
		return f.retentionFunc(ctx, competitorID, maxVersions)
	}
	return nil
}

type fakeLister struct {
	due     []*core.Competitor
	allIDs  []string
	dueErr  error
	listErr error
}

func (f *fakeLister) ListDue(ctx context.Context, now time.Time) ([]*core.Competitor, error) {
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	return f.due, nil
}

func (f *fakeLister) ListAllIDs(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.allIDs, nil
}

func newTestScheduler(orchestrator core.Orchestrator, versions core.VersionEngine, lister CompetitorLister, cfg Config) *Scheduler {
	return New(orchestrator, versions, lister, cfg, nil, nil)
}

func TestStartStop(t *testing.T) {
	orch := &fakeOrchestrator{}
	versions := &fakeVersionEngine{}
	lister := &fakeLister{}

	s := newTestScheduler(orch, versions, lister, Config{Workers: 2, QueueSize: 10, TickInterval: time.Hour, RetentionPeriod: time.Hour})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestStart_AlreadyRunning(t *testing.T) {
	orch := &fakeOrchestrator{}
	versions := &fakeVersionEngine{}
	lister := &fakeLister{}

	s := newTestScheduler(orch, versions, lister, Config{Workers: 1, QueueSize: 10, TickInterval: time.Hour, RetentionPeriod: time.Hour})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	err := s.Start(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestScheduleTick_EnqueuesDueCompetitors(t *testing.T) {
	orch := &fakeOrchestrator{}
	versions := &fakeVersionEngine{}
	lister := &fakeLister{due: []*core.Competitor{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}}

	s := newTestScheduler(orch, versions, lister, Config{Workers: 2, QueueSize: 10, TickInterval: time.Hour, RetentionPeriod: time.Hour})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.scheduleTick(context.Background())

	assert.Eventually(t, func() bool { return orch.getCallCount() == 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduleTick_QueueFullSkipsWithoutBlocking(t *testing.T) {
	orch := &fakeOrchestrator{}
	versions := &fakeVersionEngine{}
	due := make([]*core.Competitor, 0, 50)
	for i := 0; i < 50; i++ {
		due = append(due, &core.Competitor{ID: "c"})
	}
	lister := &fakeLister{due: due}

	s := newTestScheduler(orch, versions, lister, Config{Workers: 0, QueueSize: 2, TickInterval: time.Hour, RetentionPeriod: time.Hour})
	// no workers started, so the queue fills and overflow entries are dropped rather than blocking.
	s.jobQueue = make(chan string, 2)

	done := make(chan struct{})
	go func() {
		s.scheduleTick(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduleTick blocked instead of dropping overflow")
	}
}

func TestScheduleTick_ListerErrorDoesNotPanic(t *testing.T) {
	orch := &fakeOrchestrator{}
	versions := &fakeVersionEngine{}
	lister := &fakeLister{dueErr: assertError("boom")}

	s := newTestScheduler(orch, versions, lister, Config{Workers: 1, QueueSize: 10, TickInterval: time.Hour, RetentionPeriod: time.Hour})

	assert.NotPanics(t, func() { s.scheduleTick(context.Background()) })
	assert.Equal(t, 0, orch.getCallCount())
}

func TestCaptureOne_SkipsOnCaptureInProgress(t *testing.T) {
	orch := &fakeOrchestrator{
		captureFunc: func(ctx context.Context, competitorID string, options core.CaptureOptions) (*core.CaptureResult, error) {
			return nil, core.NewCaptureError(core.ErrKindCaptureInProgress, competitorID, nil)
		},
	}
	versions := &fakeVersionEngine{}
	lister := &fakeLister{}

	s := newTestScheduler(orch, versions, lister, Config{})
	assert.NotPanics(t, func() { s.captureOne(context.Background(), 0, "c1") })
}

func TestCaptureOne_SkipsOnMonitoringDisabled(t *testing.T) {
	orch := &fakeOrchestrator{
		captureFunc: func(ctx context.Context, competitorID string, options core.CaptureOptions) (*core.CaptureResult, error) {
			return nil, core.NewCaptureError(core.ErrKindMonitoringDisabled, competitorID, nil)
		},
	}
	versions := &fakeVersionEngine{}
	lister := &fakeLister{}

	s := newTestScheduler(orch, versions, lister, Config{})
	assert.NotPanics(t, func() { s.captureOne(context.Background(), 0, "c1") })
}

func TestRunRetentionSweep_CallsEnforceRetentionForEachCompetitor(t *testing.T) {
	orch := &fakeOrchestrator{}
	versions := &fakeVersionEngine{}
	lister := &fakeLister{allIDs: []string{"c1", "c2", "c3"}}

	s := newTestScheduler(orch, versions, lister, Config{MaxVersions: 30})
	s.runRetentionSweep(context.Background())

	assert.Equal(t, int32(3), versions.retentionCalls)
}

func TestRunRetentionSweep_ListerErrorDoesNotPanic(t *testing.T) {
	orch := &fakeOrchestrator{}
	versions := &fakeVersionEngine{}
	lister := &fakeLister{listErr: assertError("boom")}

	s := newTestScheduler(orch, versions, lister, Config{})
	assert.NotPanics(t, func() { s.runRetentionSweep(context.Background()) })
	assert.Equal(t, int32(0), versions.retentionCalls)
}

func TestRunRetentionSweep_ContinuesAfterOneFailure(t *testing.T) {
	orch := &fakeOrchestrator{}
	versions := &fakeVersionEngine{
		retentionFunc: func(ctx context.Context, competitorID string, maxVersions int) error {
			if competitorID == "c2" {
				return assertError("retention failed")
			}
			return nil
		},
	}
	lister := &fakeLister{allIDs: []string{"c1", "c2", "c3"}}

	s := newTestScheduler(orch, versions, lister, Config{})
	s.runRetentionSweep(context.Background())

	assert.Equal(t, int32(3), versions.retentionCalls)
}

type assertError string

func (e assertError) Error() string { return string(e) }
