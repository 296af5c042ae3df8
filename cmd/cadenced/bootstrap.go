package main

import (
	"context"
	"fmt"
	"log/slog"

	"cadence/internal/config"
	"cadence/internal/daemon"
	"cadence/internal/lifecycle"
	"cadence/internal/services"
	"cadence/internal/taskqueue"
	"cadence/internal/track"
	"cadence/internal/upload"
	"cadence/internal/viewcache"
	"cadence/internal/webhook"
	"cadence/internal/worker"
)

// buildDaemon wires the full service graph: store, cache, broker, gateway,
// lifecycle manager, upload orchestrator, webhook pipeline, worker pool.
func buildDaemon(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := track.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open track store: %w", err)
	}

	broker, err := taskqueue.OpenBroker(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open task broker: %w", err)
	}

	cache := viewcache.NewStoreFromConfig(cfg)
	gateway := taskqueue.NewGateway(cfg, broker, cache, logger)
	manager := lifecycle.NewManager(store, gateway, cache, logger)
	orchestrator := upload.NewOrchestrator(cfg, store, manager, gateway, &unconfiguredUploader{}, logger)
	pipeline := webhook.NewPipeline(store, manager, gateway, cache, logger)
	pool := worker.NewPool(cfg, store, manager, gateway, orchestrator, &unconfiguredExecutor{}, nil, logger)

	return daemon.New(cfg, store, manager, gateway, orchestrator, pipeline, pool, logger)
}

// The media executor and video-platform client are deployment-specific
// collaborators. Until real implementations are plugged in, dispatched work
// fails into the dead-letter set instead of being silently dropped.

type unconfiguredExecutor struct{}

func (unconfiguredExecutor) Execute(context.Context, *track.Track, func(int) bool) (worker.Artifacts, error) {
	return worker.Artifacts{}, services.Wrap(services.ErrConfiguration, "executor", "execute", "no media executor configured", nil)
}

type unconfiguredUploader struct{}

func (unconfiguredUploader) Upload(context.Context, upload.Request) (string, error) {
	return "", services.Wrap(services.ErrConfiguration, "uploader", "upload", "no video platform client configured", nil)
}
