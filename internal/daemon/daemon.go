package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"cadence/internal/config"
	"cadence/internal/lifecycle"
	"cadence/internal/logging"
	"cadence/internal/taskqueue"
	"cadence/internal/track"
	"cadence/internal/upload"
	"cadence/internal/webhook"
	"cadence/internal/worker"
)

// Daemon coordinates the worker pool, the stale-task reclaim loop, and the
// management API, and enforces single-instance execution via a file lock.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *track.Store
	manager      *lifecycle.Manager
	gateway      *taskqueue.Gateway
	orchestrator *upload.Orchestrator
	pipeline     *webhook.Pipeline
	pool         *worker.Pool

	lockPath string
	lock     *flock.Flock

	apiServer *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *track.Store, manager *lifecycle.Manager, gateway *taskqueue.Gateway, orchestrator *upload.Orchestrator, pipeline *webhook.Pipeline, pool *worker.Pool, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil || gateway == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, lifecycle manager, gateway, and logger")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "cadenced.lock")
	d := &Daemon{
		cfg:          cfg,
		logger:       logging.WithComponent(logger, "daemon"),
		store:        store,
		manager:      manager,
		gateway:      gateway,
		orchestrator: orchestrator,
		pipeline:     pipeline,
		pool:         pool,
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}

	server, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.apiServer = server
	return d, nil
}

// Start acquires the daemon lock and launches background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cadence daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if d.pool != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.pool.Run(d.ctx)
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runReclaimLoop(d.ctx)
	}()

	if d.apiServer != nil {
		if err := d.apiServer.start(d.ctx); err != nil {
			d.cancel()
			d.wg.Wait()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("cadence daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.apiServer != nil {
		d.apiServer.stop()
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("cadence daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// runReclaimLoop periodically returns stale claimed tasks to pending so work
// lost to crashed workers is retried.
func (d *Daemon) runReclaimLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.Workflow.ReclaimInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.gateway.ReclaimStale(ctx); err != nil {
				d.logger.Warn("stale task reclaim failed", logging.Error(err))
			}
		}
	}
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LockFilePath returns the path of the single-instance lock file.
func (d *Daemon) LockFilePath() string {
	return d.lockPath
}

// TrackDBPath returns the path of the authoritative track database.
func (d *Daemon) TrackDBPath() string {
	return filepath.Join(d.cfg.Paths.LogDir, "tracks.db")
}
