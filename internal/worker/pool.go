package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cadence/internal/config"
	"cadence/internal/lifecycle"
	"cadence/internal/logging"
	"cadence/internal/taskqueue"
	"cadence/internal/track"
	"cadence/internal/upload"
)

// Pool runs the daemon's workers. Each worker claims tasks from the process
// and upload queues, heartbeats while working, and re-validates track status
// before doing real work so at-least-once delivery stays idempotent.
type Pool struct {
	store        *track.Store
	manager      *lifecycle.Manager
	gateway      *taskqueue.Gateway
	orchestrator *upload.Orchestrator
	executor     Executor
	analytics    AnalyticsFetcher
	logger       *slog.Logger

	workers           int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

// NewPool wires the worker pool to its collaborators. The analytics fetcher
// may be nil; analytics tasks are then acknowledged with a log entry.
func NewPool(cfg *config.Config, store *track.Store, manager *lifecycle.Manager, gateway *taskqueue.Gateway, orchestrator *upload.Orchestrator, executor Executor, analytics AnalyticsFetcher, logger *slog.Logger) *Pool {
	return &Pool{
		store:             store,
		manager:           manager,
		gateway:           gateway,
		orchestrator:      orchestrator,
		executor:          executor,
		analytics:         analytics,
		logger:            logging.WithComponent(logger, "worker"),
		workers:           cfg.Workflow.Workers,
		pollInterval:      time.Duration(cfg.Workflow.PollInterval) * time.Second,
		heartbeatInterval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has drained its current task.
func (p *Pool) Run(ctx context.Context) {
	count := p.workers
	if count < 1 {
		count = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	logger := p.logger.With(slog.Int("worker", id))
	queues := []string{taskqueue.QueueProcess, taskqueue.QueueUpload}

	for {
		if ctx.Err() != nil {
			return
		}

		claimed := false
		for _, queue := range queues {
			task, err := p.gateway.Broker().Claim(ctx, queue)
			if errors.Is(err, taskqueue.ErrNoTask) {
				continue
			}
			if err != nil {
				logger.Warn("claim failed", logging.String(logging.FieldQueue, queue), logging.Error(err))
				continue
			}
			claimed = true
			p.execute(ctx, logger, task)
		}

		if !claimed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
		}
	}
}

// execute runs one claimed task to a broker outcome: Ack on success or
// permanent skip, Fail on a retryable error.
func (p *Pool) execute(ctx context.Context, logger *slog.Logger, task *taskqueue.Task) {
	stopHeartbeat := p.startHeartbeat(ctx, task.ID)
	defer stopHeartbeat()

	payload, err := taskqueue.DecodePayload(task.Payload)
	if err != nil {
		logger.Error("undecodable task payload", logging.String("task_id", task.ID), logging.Error(err))
		p.fail(ctx, logger, task.ID, err)
		return
	}

	logger = logger.With(
		logging.String("task_id", task.ID),
		logging.Int64(logging.FieldTrackID, payload.TrackID),
		logging.String("kind", payload.Kind),
	)

	switch payload.Kind {
	case taskqueue.KindProcess:
		err = p.handleProcess(ctx, logger, payload)
	case taskqueue.KindUpload:
		err = p.orchestrator.ExecuteTask(ctx, payload)
	case taskqueue.KindAnalytics:
		err = p.handleAnalytics(ctx, logger, payload)
	default:
		logger.Warn("unknown task kind")
		err = nil
	}

	if err != nil {
		logger.Warn("task failed", logging.Error(err))
		p.fail(ctx, logger, task.ID, err)
		return
	}
	if err := p.gateway.Broker().Ack(ctx, task.ID); err != nil {
		logger.Warn("ack failed", logging.Error(err))
	}
}

// handleProcess executes the media pipeline for one track. The pending →
// processing claim doubles as the idempotency check: a redelivered task
// whose track is no longer pending acknowledges without work.
func (p *Pool) handleProcess(ctx context.Context, logger *slog.Logger, payload taskqueue.Payload) error {
	claimed, err := p.store.MarkProcessing(ctx, payload.TrackID)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Info("track no longer pending, skipping")
		return nil
	}
	p.manager.Invalidator().InvalidateTrack(ctx, payload.TrackID)

	t, err := p.store.GetByID(ctx, payload.TrackID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("track %d disappeared after claim", payload.TrackID)
	}

	stopped := false
	progress := func(percent int) bool {
		updated, err := p.store.SetProgress(ctx, t.ID, percent)
		if err != nil {
			logger.Warn("progress update failed", logging.Error(err))
			return true
		}
		if !updated {
			// Status left processing underneath us: cooperative stop.
			stopped = true
			return false
		}
		return true
	}

	artifacts, err := p.executor.Execute(ctx, t, progress)
	if stopped {
		logger.Info("track stopped mid-processing")
		p.manager.Invalidator().InvalidateTrack(ctx, t.ID)
		return nil
	}
	if err != nil {
		if _, markErr := p.store.MarkFailed(ctx, t.ID, err.Error()); markErr != nil {
			logger.Warn("mark failed errored", logging.Error(markErr))
		}
		p.manager.Invalidator().InvalidateTrack(ctx, t.ID)
		return err
	}

	completed, err := p.store.MarkCompleted(ctx, t.ID, artifacts.AudioFile, artifacts.ImageFile, artifacts.VideoFile)
	if err != nil {
		return err
	}
	if !completed {
		logger.Info("completion superseded by another transition")
	}
	p.manager.Invalidator().InvalidateTrack(ctx, t.ID)
	return nil
}

func (p *Pool) handleAnalytics(ctx context.Context, logger *slog.Logger, payload taskqueue.Payload) error {
	if p.analytics == nil {
		logger.Info("no analytics fetcher configured, acknowledging")
		return nil
	}
	t, err := p.store.GetByID(ctx, payload.TrackID)
	if err != nil {
		return err
	}
	if t == nil || t.VideoID == "" {
		logger.Info("analytics task no longer applicable")
		return nil
	}
	return p.analytics.Fetch(ctx, t)
}

func (p *Pool) fail(ctx context.Context, logger *slog.Logger, taskID string, cause error) {
	if err := p.gateway.Broker().Fail(ctx, taskID, cause.Error()); err != nil {
		logger.Warn("broker fail errored", logging.Error(err))
	}
}

// startHeartbeat keeps a claimed task alive until the returned stop function
// runs.
func (p *Pool) startHeartbeat(ctx context.Context, taskID string) func() {
	interval := p.heartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.gateway.Broker().Heartbeat(ctx, taskID); err != nil {
					p.logger.Warn("heartbeat failed", logging.String("task_id", taskID), logging.Error(err))
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}
