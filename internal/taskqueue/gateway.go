package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cadence/internal/config"
	"cadence/internal/logging"
	"cadence/internal/viewcache"
)

// Gateway abstracts dispatch to named queues, serves cached per-queue
// statistics, evaluates backend health, and manages the dead-letter set.
type Gateway struct {
	broker      Broker
	cache       viewcache.Store
	invalidator *viewcache.Invalidator
	logger      *slog.Logger

	statsTTL        time.Duration
	backlogWarning  int
	backlogCritical int
	staleClaimAge   time.Duration
	maxAttempts     int
}

// NewGateway wires a gateway to its broker and cache store.
func NewGateway(cfg *config.Config, broker Broker, cache viewcache.Store, logger *slog.Logger) *Gateway {
	return &Gateway{
		broker:          broker,
		cache:           cache,
		invalidator:     viewcache.NewInvalidator(cache, logger),
		logger:          logging.WithComponent(logger, "taskqueue"),
		statsTTL:        time.Duration(cfg.Queues.StatsCacheTTL) * time.Second,
		backlogWarning:  cfg.Queues.BacklogWarning,
		backlogCritical: cfg.Queues.BacklogCritical,
		staleClaimAge:   time.Duration(cfg.Queues.StaleClaimAge) * time.Second,
		maxAttempts:     cfg.Queues.MaxAttempts,
	}
}

// Broker exposes the underlying backend to the worker pool.
func (g *Gateway) Broker() Broker {
	return g.broker
}

// Dispatch enqueues a task on the named queue. A non-zero notBefore delays
// eligibility, which batch orchestration uses for staggering.
func (g *Gateway) Dispatch(ctx context.Context, queueName string, payload Payload, notBefore time.Time) (*Handle, error) {
	data, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Payload:     data,
		MaxAttempts: g.maxAttempts,
	}
	if !notBefore.IsZero() {
		nb := notBefore.UTC()
		task.NotBefore = &nb
	}

	if err := g.broker.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("dispatch to %s: %w", queueName, err)
	}
	g.invalidator.InvalidateQueueStats(ctx)

	g.logger.Info("task dispatched",
		logging.String("task_id", task.ID),
		logging.String(logging.FieldQueue, queueName),
		logging.Int64(logging.FieldTrackID, payload.TrackID),
		logging.String("kind", payload.Kind),
	)
	return &Handle{ID: task.ID, Queue: queueName, NotBefore: task.NotBefore}, nil
}

// Stats returns per-queue statistics, cached with a short TTL to bound load
// on the backend. Broker failures return zeroed counts annotated with the
// error instead of failing the caller.
func (g *Gateway) Stats(ctx context.Context, queueName string) Stats {
	key := g.invalidator.QueueStatsKey(ctx, queueName)
	data, err := viewcache.Fetch(ctx, g.cache, g.logger, key, g.statsTTL, func(ctx context.Context) ([]byte, error) {
		counts, err := g.broker.Counts(ctx, queueName)
		if err != nil {
			return nil, err
		}
		return json.Marshal(Stats{
			Queue:    queueName,
			Pending:  counts.Pending,
			InFlight: counts.InFlight,
			Failed:   counts.Failed,
			Total:    counts.Total,
		})
	})
	if err != nil {
		g.logger.Warn("queue stats unavailable", logging.String(logging.FieldQueue, queueName), logging.Error(err))
		return Stats{Queue: queueName, Err: err.Error()}
	}

	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return Stats{Queue: queueName, Err: err.Error()}
	}
	return stats
}

// StatsAll returns statistics for every queue the broker knows about.
func (g *Gateway) StatsAll(ctx context.Context) ([]Stats, error) {
	queues, err := g.broker.Queues(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	all := make([]Stats, 0, len(queues))
	for _, queue := range queues {
		all = append(all, g.Stats(ctx, queue))
	}
	return all, nil
}

// Health evaluates every queue and grades the gateway with the worst finding:
// failure ratio above 20% is critical and above 10% degraded, a backlog past
// the configured thresholds degrades with a remediation hint, and any stale
// claim is at least degraded. Empty queues are healthy.
func (g *Gateway) Health(ctx context.Context) Health {
	health := Health{Status: HealthHealthy, Issues: []string{}}

	queues, err := g.broker.Queues(ctx)
	if err != nil {
		health.Status = HealthCritical
		health.Issues = append(health.Issues, fmt.Sprintf("queue backend unavailable: %v", err))
		return health
	}

	cutoff := time.Now().Add(-g.staleClaimAge)
	for _, queue := range queues {
		counts, err := g.broker.Counts(ctx, queue)
		if err != nil {
			health.Status = worseOf(health.Status, HealthDegraded)
			health.Issues = append(health.Issues, fmt.Sprintf("stats unavailable for queue %s: %v", queue, err))
			continue
		}
		if counts.Total == 0 {
			continue
		}

		failureRate := float64(counts.Failed) / float64(counts.Total)
		switch {
		case failureRate > 0.20:
			health.Status = worseOf(health.Status, HealthCritical)
			health.Issues = append(health.Issues, fmt.Sprintf("queue %s failure rate %.0f%% exceeds 20%%", queue, failureRate*100))
		case failureRate > 0.10:
			health.Status = worseOf(health.Status, HealthDegraded)
			health.Issues = append(health.Issues, fmt.Sprintf("queue %s failure rate %.0f%% exceeds 10%%", queue, failureRate*100))
		}

		switch {
		case counts.Pending > g.backlogCritical:
			health.Status = worseOf(health.Status, HealthCritical)
			health.Issues = append(health.Issues, fmt.Sprintf("queue %s backlog %d: scale workers for queue %s", queue, counts.Pending, queue))
		case counts.Pending > g.backlogWarning:
			health.Status = worseOf(health.Status, HealthDegraded)
			health.Issues = append(health.Issues, fmt.Sprintf("queue %s backlog %d: scale workers for queue %s", queue, counts.Pending, queue))
		}

		stale, err := g.broker.StaleClaims(ctx, queue, cutoff)
		if err != nil {
			health.Status = worseOf(health.Status, HealthDegraded)
			health.Issues = append(health.Issues, fmt.Sprintf("stale check failed for queue %s: %v", queue, err))
			continue
		}
		if stale > 0 {
			health.Status = worseOf(health.Status, HealthDegraded)
			health.Issues = append(health.Issues, fmt.Sprintf("queue %s has %d task(s) claimed longer than %s", queue, stale, g.staleClaimAge))
		}
	}
	return health
}

// RetryFailed re-enqueues dead-letter tasks with attempt counts reset. With
// no ids every dead task is retried. Per-item failures are logged and
// excluded from the returned count without aborting the batch.
func (g *Gateway) RetryFailed(ctx context.Context, ids ...string) (int, error) {
	ids, err := g.resolveDeadIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, id := range ids {
		if err := g.broker.RetryDead(ctx, id); err != nil {
			g.logger.Warn("retry dead task failed", logging.String("task_id", id), logging.Error(err))
			continue
		}
		retried++
	}
	g.invalidator.InvalidateQueueStats(ctx)
	return retried, nil
}

// ClearFailed permanently discards dead-letter tasks. With no ids every dead
// task is cleared. Per-item failures are logged and excluded from the count.
func (g *Gateway) ClearFailed(ctx context.Context, ids ...string) (int, error) {
	ids, err := g.resolveDeadIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, id := range ids {
		if err := g.broker.ClearDead(ctx, id); err != nil {
			g.logger.Warn("clear dead task failed", logging.String("task_id", id), logging.Error(err))
			continue
		}
		cleared++
	}
	g.invalidator.InvalidateQueueStats(ctx)
	return cleared, nil
}

// ListDead exposes the dead-letter set for inspection.
func (g *Gateway) ListDead(ctx context.Context, queue string) ([]*Task, error) {
	return g.broker.ListDead(ctx, queue)
}

// ReclaimStale returns stale claimed tasks to pending. The daemon runs this
// on a schedule so work lost to crashed workers is eventually retried.
func (g *Gateway) ReclaimStale(ctx context.Context) (int64, error) {
	reclaimed, err := g.broker.ReclaimStale(ctx, time.Now().Add(-g.staleClaimAge))
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		g.invalidator.InvalidateQueueStats(ctx)
		g.logger.Info("reclaimed stale tasks", logging.Int64("count", reclaimed))
	}
	return reclaimed, nil
}

func (g *Gateway) resolveDeadIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) > 0 {
		return ids, nil
	}
	dead, err := g.broker.ListDead(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list dead tasks: %w", err)
	}
	resolved := make([]string, 0, len(dead))
	for _, task := range dead {
		resolved = append(resolved, task.ID)
	}
	return resolved, nil
}
