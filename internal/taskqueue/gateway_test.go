package taskqueue_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"cadence/internal/config"
	"cadence/internal/logging"
	"cadence/internal/taskqueue"
	"cadence/internal/testsupport"
	"cadence/internal/viewcache"
)

// countingBroker counts how often the backend is asked for queue statistics.
type countingBroker struct {
	taskqueue.Broker
	countsCalls int
}

func (b *countingBroker) Counts(ctx context.Context, queue string) (taskqueue.Counts, error) {
	b.countsCalls++
	return b.Broker.Counts(ctx, queue)
}

// stubBroker serves fixed statistics so health thresholds can be exercised
// without staging real task churn.
type stubBroker struct {
	taskqueue.Broker
	counts    map[string]taskqueue.Counts
	stale     map[string]int
	countsErr error
}

func (b *stubBroker) Queues(context.Context) ([]string, error) {
	queues := make([]string, 0, len(b.counts))
	for queue := range b.counts {
		queues = append(queues, queue)
	}
	sort.Strings(queues)
	return queues, nil
}

func (b *stubBroker) Counts(_ context.Context, queue string) (taskqueue.Counts, error) {
	if b.countsErr != nil {
		return taskqueue.Counts{}, b.countsErr
	}
	return b.counts[queue], nil
}

func (b *stubBroker) StaleClaims(_ context.Context, queue string, _ time.Time) (int, error) {
	return b.stale[queue], nil
}

func newGateway(t *testing.T, broker taskqueue.Broker, opts ...testsupport.ConfigOption) *taskqueue.Gateway {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	return taskqueue.NewGateway(cfg, broker, viewcache.NewMemoryStore(), logging.NewNop())
}

func TestGatewayDispatchSetsDelay(t *testing.T) {
	broker := taskqueue.NewMemoryBroker()
	gateway := newGateway(t, broker)
	ctx := context.Background()

	notBefore := time.Now().Add(time.Hour)
	handle, err := gateway.Dispatch(ctx, taskqueue.QueueUpload, taskqueue.Payload{TrackID: 7, Kind: taskqueue.KindUpload}, notBefore)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if handle.ID == "" || handle.Queue != taskqueue.QueueUpload {
		t.Fatalf("unexpected handle: %+v", handle)
	}
	if handle.NotBefore == nil || !handle.NotBefore.Equal(notBefore.UTC()) {
		t.Fatalf("not-before not preserved: %+v", handle.NotBefore)
	}

	if _, err := broker.Claim(ctx, taskqueue.QueueUpload); !errors.Is(err, taskqueue.ErrNoTask) {
		t.Fatalf("delayed task was claimable, err = %v", err)
	}

	if _, err := gateway.Dispatch(ctx, taskqueue.QueueProcess, taskqueue.Payload{TrackID: 8, Kind: taskqueue.KindProcess}, time.Time{}); err != nil {
		t.Fatalf("Dispatch immediate: %v", err)
	}
	task, err := broker.Claim(ctx, taskqueue.QueueProcess)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	payload, err := taskqueue.DecodePayload(task.Payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.TrackID != 8 || payload.Kind != taskqueue.KindProcess {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestGatewayStatsServedFromCache(t *testing.T) {
	broker := &countingBroker{Broker: taskqueue.NewMemoryBroker()}
	gateway := newGateway(t, broker)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		stats := gateway.Stats(ctx, taskqueue.QueueProcess)
		if stats.Err != "" {
			t.Fatalf("stats error: %s", stats.Err)
		}
	}
	if broker.countsCalls != 1 {
		t.Fatalf("counts calls = %d, want 1 while cached", broker.countsCalls)
	}

	// Dispatch retires the cached generation, so the next read recomputes.
	if _, err := gateway.Dispatch(ctx, taskqueue.QueueProcess, taskqueue.Payload{TrackID: 1, Kind: taskqueue.KindProcess}, time.Time{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	stats := gateway.Stats(ctx, taskqueue.QueueProcess)
	if broker.countsCalls != 2 {
		t.Fatalf("counts calls = %d, want 2 after invalidation", broker.countsCalls)
	}
	if stats.Pending != 1 || stats.Total != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGatewayStatsDegradesWhenBrokerFails(t *testing.T) {
	broker := &stubBroker{countsErr: errors.New("backend offline")}
	gateway := newGateway(t, broker)

	stats := gateway.Stats(context.Background(), taskqueue.QueueProcess)
	if stats.Queue != taskqueue.QueueProcess {
		t.Fatalf("queue = %q", stats.Queue)
	}
	if stats.Err == "" {
		t.Fatalf("expected stats error annotation")
	}
	if stats.Pending != 0 || stats.Total != 0 {
		t.Fatalf("counts not zeroed: %+v", stats)
	}
}

func TestGatewayHealthGrades(t *testing.T) {
	cases := []struct {
		name   string
		counts map[string]taskqueue.Counts
		stale  map[string]int
		want   taskqueue.HealthStatus
	}{
		{
			name:   "empty queues are healthy",
			counts: map[string]taskqueue.Counts{},
			want:   taskqueue.HealthHealthy,
		},
		{
			name: "low failure rate is healthy",
			counts: map[string]taskqueue.Counts{
				"process": {Pending: 18, Failed: 2, Total: 20},
			},
			want: taskqueue.HealthHealthy,
		},
		{
			name: "failure rate above ten percent degrades",
			counts: map[string]taskqueue.Counts{
				"process": {Pending: 17, Failed: 3, Total: 20},
			},
			want: taskqueue.HealthDegraded,
		},
		{
			name: "failure rate above twenty percent is critical",
			counts: map[string]taskqueue.Counts{
				"process": {Pending: 15, Failed: 5, Total: 20},
			},
			want: taskqueue.HealthCritical,
		},
		{
			name: "backlog past warning threshold degrades",
			counts: map[string]taskqueue.Counts{
				"upload": {Pending: 150, Total: 150},
			},
			want: taskqueue.HealthDegraded,
		},
		{
			name: "backlog past critical threshold is critical",
			counts: map[string]taskqueue.Counts{
				"upload": {Pending: 501, Total: 501},
			},
			want: taskqueue.HealthCritical,
		},
		{
			name: "stale claims degrade",
			counts: map[string]taskqueue.Counts{
				"process": {InFlight: 1, Total: 1},
			},
			stale: map[string]int{"process": 1},
			want:  taskqueue.HealthDegraded,
		},
		{
			name: "worst queue wins",
			counts: map[string]taskqueue.Counts{
				"process": {Pending: 10, Total: 10},
				"upload":  {Pending: 15, Failed: 5, Total: 20},
			},
			want: taskqueue.HealthCritical,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broker := &stubBroker{counts: tc.counts, stale: tc.stale}
			gateway := newGateway(t, broker)

			health := gateway.Health(context.Background())
			if health.Status != tc.want {
				t.Fatalf("status = %s, want %s (issues: %v)", health.Status, tc.want, health.Issues)
			}
			if tc.want == taskqueue.HealthHealthy && len(health.Issues) != 0 {
				t.Fatalf("healthy report carries issues: %v", health.Issues)
			}
			if tc.want != taskqueue.HealthHealthy && len(health.Issues) == 0 {
				t.Fatalf("%s report has no issues", tc.want)
			}
		})
	}
}

func TestGatewayHealthBacklogNamesQueue(t *testing.T) {
	broker := &stubBroker{counts: map[string]taskqueue.Counts{
		"upload": {Pending: 600, Total: 600},
	}}
	gateway := newGateway(t, broker)

	health := gateway.Health(context.Background())
	if len(health.Issues) != 1 {
		t.Fatalf("issues = %v, want one backlog finding", health.Issues)
	}
	want := "queue upload backlog 600: scale workers for queue upload"
	if health.Issues[0] != want {
		t.Fatalf("issue = %q, want %q", health.Issues[0], want)
	}
}

func TestGatewayRetryAndClearFailed(t *testing.T) {
	broker := taskqueue.NewMemoryBroker()
	gateway := newGateway(t, broker)
	ctx := context.Background()

	deadIDs := make([]string, 0, 2)
	for _, id := range []string{"dead-1", "dead-2"} {
		enqueue(t, broker, id, "process", 1, nil)
		task, err := broker.Claim(ctx, "process")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if err := broker.Fail(ctx, task.ID, "fatal"); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		deadIDs = append(deadIDs, task.ID)
	}

	retried, err := gateway.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if retried != 2 {
		t.Fatalf("retried = %d, want 2", retried)
	}

	// Dead-letter them again, then clear just one.
	for range deadIDs {
		task, err := broker.Claim(ctx, "process")
		if err != nil {
			t.Fatalf("reclaim: %v", err)
		}
		if err := broker.Fail(ctx, task.ID, "fatal again"); err != nil {
			t.Fatalf("Fail: %v", err)
		}
	}
	cleared, err := gateway.ClearFailed(ctx, deadIDs[0])
	if err != nil {
		t.Fatalf("ClearFailed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}

	remaining, err := gateway.ListDead(ctx, "")
	if err != nil {
		t.Fatalf("ListDead: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != deadIDs[1] {
		t.Fatalf("unexpected dead set: %+v", remaining)
	}
}

func TestGatewayReclaimStale(t *testing.T) {
	broker := taskqueue.NewMemoryBroker()
	gateway := newGateway(t, broker, func(cfg *config.Config) {
		cfg.Queues.StaleClaimAge = 0
	})
	ctx := context.Background()

	enqueue(t, broker, "stuck", "process", 3, nil)
	if _, err := broker.Claim(ctx, "process"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	reclaimed, err := gateway.ReclaimStale(ctx)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}
	if _, err := broker.Claim(ctx, "process"); err != nil {
		t.Fatalf("Claim after reclaim: %v", err)
	}
}
