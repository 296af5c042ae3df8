package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cadence/internal/config"
	"cadence/internal/lifecycle"
	"cadence/internal/logging"
	"cadence/internal/taskqueue"
	"cadence/internal/testsupport"
	"cadence/internal/track"
	"cadence/internal/upload"
	"cadence/internal/viewcache"
	"cadence/internal/worker"
)

type stubExecutor struct {
	execute func(ctx context.Context, t *track.Track, progress func(int) bool) (worker.Artifacts, error)
	calls   atomic.Int64
}

func (e *stubExecutor) Execute(ctx context.Context, t *track.Track, progress func(int) bool) (worker.Artifacts, error) {
	e.calls.Add(1)
	if e.execute == nil {
		return worker.Artifacts{}, nil
	}
	return e.execute(ctx, t, progress)
}

type stubUploader struct{}

func (stubUploader) Upload(context.Context, upload.Request) (string, error) {
	return "video-test", nil
}

type stubAnalytics struct {
	fetched atomic.Int64
}

func (a *stubAnalytics) Fetch(context.Context, *track.Track) error {
	a.fetched.Add(1)
	return nil
}

type fixture struct {
	cfg       *config.Config
	store     *track.Store
	broker    *taskqueue.MemoryBroker
	gateway   *taskqueue.Gateway
	manager   *lifecycle.Manager
	executor  *stubExecutor
	analytics *stubAnalytics
	pool      *worker.Pool
}

func newFixture(t *testing.T, executor *stubExecutor) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	broker := taskqueue.NewMemoryBroker()
	cache := viewcache.NewMemoryStore()
	gateway := taskqueue.NewGateway(cfg, broker, cache, logging.NewNop())
	manager := lifecycle.NewManager(store, gateway, cache, logging.NewNop())
	orchestrator := upload.NewOrchestrator(cfg, store, manager, gateway, stubUploader{}, logging.NewNop())
	analytics := &stubAnalytics{}

	return &fixture{
		cfg:       cfg,
		store:     store,
		broker:    broker,
		gateway:   gateway,
		manager:   manager,
		executor:  executor,
		analytics: analytics,
		pool:      worker.NewPool(cfg, store, manager, gateway, orchestrator, executor, analytics, logging.NewNop()),
	}
}

// runPool starts the pool and returns after it has fully drained on cleanup.
func runPool(t *testing.T, fx *fixture) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Errorf("pool did not drain")
		}
	})
	return cancel
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoolProcessesTrackToCompletion(t *testing.T) {
	executor := &stubExecutor{
		execute: func(_ context.Context, _ *track.Track, progress func(int) bool) (worker.Artifacts, error) {
			progress(50)
			return worker.Artifacts{AudioFile: "a.flac", ImageFile: "c.png", VideoFile: "v.mp4"}, nil
		},
	}
	fx := newFixture(t, executor)
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, fx.store, "Pipeline", track.StatusPending)
	if _, err := fx.gateway.Dispatch(ctx, taskqueue.QueueProcess, taskqueue.Payload{TrackID: seeded.ID, Kind: taskqueue.KindProcess}, time.Time{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	runPool(t, fx)

	waitFor(t, "track completion", func() bool {
		current, err := fx.store.GetByID(ctx, seeded.ID)
		return err == nil && current.Status == track.StatusCompleted
	})

	current, err := fx.store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.VideoFile != "v.mp4" || current.Progress != 100 {
		t.Fatalf("unexpected track: %+v", current)
	}

	waitFor(t, "task ack", func() bool {
		counts, err := fx.broker.Counts(ctx, taskqueue.QueueProcess)
		return err == nil && counts.Total == 0
	})
}

func TestPoolStopsTrackCooperatively(t *testing.T) {
	started := make(chan int64, 1)
	resume := make(chan struct{})
	executor := &stubExecutor{
		execute: func(_ context.Context, tr *track.Track, progress func(int) bool) (worker.Artifacts, error) {
			if !progress(10) {
				return worker.Artifacts{}, nil
			}
			started <- tr.ID
			<-resume
			if !progress(90) {
				// Stop observed at the checkpoint; exit without output.
				return worker.Artifacts{}, nil
			}
			return worker.Artifacts{VideoFile: "v.mp4"}, nil
		},
	}
	fx := newFixture(t, executor)
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, fx.store, "Stoppable", track.StatusPending)
	if _, err := fx.gateway.Dispatch(ctx, taskqueue.QueueProcess, taskqueue.Payload{TrackID: seeded.ID, Kind: taskqueue.KindProcess}, time.Time{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	runPool(t, fx)

	<-started
	outcome, err := fx.manager.Stop(ctx, seeded.ID)
	if err != nil || outcome.Blocked {
		t.Fatalf("Stop: blocked=%v err=%v", outcome.Blocked, err)
	}
	close(resume)

	waitFor(t, "task ack after stop", func() bool {
		counts, err := fx.broker.Counts(ctx, taskqueue.QueueProcess)
		return err == nil && counts.Total == 0
	})

	current, err := fx.store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != track.StatusStopped {
		t.Fatalf("status = %s, want stopped", current.Status)
	}
	if current.VideoFile != "" {
		t.Fatalf("stopped track recorded artifacts: %+v", current)
	}
}

func TestPoolDeadLettersAfterRepeatedFailures(t *testing.T) {
	executor := &stubExecutor{
		execute: func(context.Context, *track.Track, func(int) bool) (worker.Artifacts, error) {
			return worker.Artifacts{}, errors.New("render crashed")
		},
	}
	fx := newFixture(t, executor)
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, fx.store, "Doomed", track.StatusPending)
	if _, err := fx.gateway.Dispatch(ctx, taskqueue.QueueProcess, taskqueue.Payload{TrackID: seeded.ID, Kind: taskqueue.KindProcess}, time.Time{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	runPool(t, fx)

	waitFor(t, "dead-lettered task", func() bool {
		counts, err := fx.broker.Counts(ctx, taskqueue.QueueProcess)
		return err == nil && counts.Failed == 1
	})

	if got := executor.calls.Load(); got != int64(fx.cfg.Queues.MaxAttempts) {
		t.Fatalf("executor calls = %d, want %d", got, fx.cfg.Queues.MaxAttempts)
	}

	current, err := fx.store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != track.StatusFailed || current.ErrorMessage != "render crashed" {
		t.Fatalf("unexpected track: %+v", current)
	}
}

func TestPoolSkipsRedeliveredTaskForSettledTrack(t *testing.T) {
	executor := &stubExecutor{}
	fx := newFixture(t, executor)
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, fx.store, "Settled", track.StatusCompleted)
	if _, err := fx.gateway.Dispatch(ctx, taskqueue.QueueProcess, taskqueue.Payload{TrackID: seeded.ID, Kind: taskqueue.KindProcess}, time.Time{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	runPool(t, fx)

	waitFor(t, "redelivered task ack", func() bool {
		counts, err := fx.broker.Counts(ctx, taskqueue.QueueProcess)
		return err == nil && counts.Total == 0
	})

	if executor.calls.Load() != 0 {
		t.Fatalf("executor ran for a settled track")
	}
	current, err := fx.store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != track.StatusCompleted {
		t.Fatalf("status = %s, want completed", current.Status)
	}
}

func TestPoolRunsAnalyticsTasks(t *testing.T) {
	executor := &stubExecutor{}
	fx := newFixture(t, executor)
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, fx.store, "Charting", track.StatusUploaded)
	if _, err := fx.gateway.Dispatch(ctx, taskqueue.QueueProcess, taskqueue.Payload{TrackID: seeded.ID, Kind: taskqueue.KindAnalytics}, time.Time{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	runPool(t, fx)

	waitFor(t, "analytics fetch", func() bool {
		return fx.analytics.fetched.Load() == 1
	})
	waitFor(t, "analytics ack", func() bool {
		counts, err := fx.broker.Counts(ctx, taskqueue.QueueProcess)
		return err == nil && counts.Total == 0
	})
}
