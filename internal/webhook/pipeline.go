package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cadence/internal/lifecycle"
	"cadence/internal/logging"
	"cadence/internal/taskqueue"
	"cadence/internal/track"
	"cadence/internal/viewcache"
)

// Result reports the outcome of one ingested event. Unknown event types are
// not errors: they come back with Processed=false.
type Result struct {
	Processed bool      `json:"processed"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
}

// Pipeline ingests verified provider events: it appends each event to the
// audit log before processing, routes by event type to an idempotent
// handler, and maintains per-provider counters.
type Pipeline struct {
	store   *track.Store
	manager *lifecycle.Manager
	gateway *taskqueue.Gateway
	cache   viewcache.Store
	logger  *slog.Logger
}

// NewPipeline wires the pipeline to its collaborators.
func NewPipeline(store *track.Store, manager *lifecycle.Manager, gateway *taskqueue.Gateway, cache viewcache.Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:   store,
		manager: manager,
		gateway: gateway,
		cache:   cache,
		logger:  logging.WithComponent(logger, "webhook"),
	}
}

// Ingest processes one event body for a provider. The raw body is appended
// to the event log before parsing so malformed payloads remain auditable.
// Parse failures return a validation error; unknown event types are logged
// and reported as unprocessed without error.
func (p *Pipeline) Ingest(ctx context.Context, provider string, rawBody []byte, sourceIP, userAgent string) (Result, error) {
	if _, err := p.store.AppendWebhookEvent(ctx, provider, rawBody, sourceIP, userAgent); err != nil {
		p.logger.Warn("event log append failed", logging.String(logging.FieldProvider, provider), logging.Error(err))
	}
	p.count(ctx, provider, "received")

	var (
		result Result
		err    error
	)
	switch provider {
	case ProviderYouTube:
		result, err = p.ingestYouTube(ctx, rawBody)
	case ProviderGenerator:
		result, err = p.ingestGenerator(ctx, rawBody)
	default:
		p.logger.Warn("unknown webhook provider", logging.String(logging.FieldProvider, provider))
		result = Result{Processed: false}
	}
	result.Timestamp = time.Now().UTC()

	switch {
	case err != nil:
		p.count(ctx, provider, "failed")
	case result.Processed:
		p.count(ctx, provider, "processed")
	default:
		p.count(ctx, provider, "failed")
	}
	return result, err
}

func (p *Pipeline) ingestYouTube(ctx context.Context, rawBody []byte) (Result, error) {
	payload, err := ParseYouTubePayload(rawBody)
	if err != nil {
		return Result{}, err
	}
	result := Result{EventType: payload.Event}

	switch payload.Event {
	case EventVideoPublished:
		result.Processed = p.handleVideoPublished(ctx, payload)
	case EventVideoUpdated:
		result.Processed = p.handleVideoUpdated(ctx, payload)
	case EventVideoDeleted:
		result.Processed = p.handleVideoDeleted(ctx, payload)
	case EventAnalyticsUpdate:
		result.Processed = p.handleAnalyticsUpdate(ctx, payload)
	default:
		p.logger.Warn("unknown youtube event type", logging.String(logging.FieldEventType, payload.Event))
	}
	return result, nil
}

func (p *Pipeline) ingestGenerator(ctx context.Context, rawBody []byte) (Result, error) {
	payload, err := ParseGeneratorPayload(rawBody)
	if err != nil {
		return Result{}, err
	}
	result := Result{EventType: payload.Event}

	switch payload.Event {
	case EventTrackGenerated:
		result.Processed = p.handleTrackGenerated(ctx, payload)
	case EventTrackUpdated:
		result.Processed = p.handleTrackProgress(ctx, payload)
	case EventTrackFailed:
		result.Processed = p.handleTrackFailed(ctx, payload)
	default:
		p.logger.Warn("unknown generator event type", logging.String(logging.FieldEventType, payload.Event))
	}
	return result, nil
}

// handleVideoPublished links the external video to its track. A replayed
// event finds the linkage already present and converges without change.
func (p *Pipeline) handleVideoPublished(ctx context.Context, payload YouTubePayload) bool {
	if existing, err := p.store.GetByVideoID(ctx, payload.VideoID); err == nil && existing != nil {
		return true
	}
	if payload.TrackID <= 0 {
		p.logger.Warn("published event has no track reference", logging.String("video_id", payload.VideoID))
		return false
	}
	outcome, err := p.manager.CompleteUpload(ctx, payload.TrackID, payload.VideoID)
	if err != nil {
		p.logger.Warn("published event handling failed",
			logging.Int64(logging.FieldTrackID, payload.TrackID),
			logging.Error(err),
		)
		return false
	}
	if outcome.Blocked {
		p.logger.Info("published event not applicable",
			logging.Int64(logging.FieldTrackID, payload.TrackID),
			logging.String("reason", outcome.Reason),
		)
	}
	return true
}

// handleVideoUpdated refreshes derived views for the linked track. There is
// no authoritative state to change, only caches to retire.
func (p *Pipeline) handleVideoUpdated(ctx context.Context, payload YouTubePayload) bool {
	t, err := p.store.GetByVideoID(ctx, payload.VideoID)
	if err != nil {
		p.logger.Warn("updated event lookup failed", logging.String("video_id", payload.VideoID), logging.Error(err))
		return false
	}
	if t == nil {
		p.logger.Info("updated event for unlinked video", logging.String("video_id", payload.VideoID))
		return true
	}
	p.manager.Invalidator().InvalidateTrack(ctx, t.ID)
	return true
}

// handleVideoDeleted clears the video linkage. The conditional update only
// matches while a linkage exists, so replays converge to the same end state.
func (p *Pipeline) handleVideoDeleted(ctx context.Context, payload YouTubePayload) bool {
	t, err := p.store.GetByVideoID(ctx, payload.VideoID)
	if err != nil {
		p.logger.Warn("deleted event lookup failed", logging.String("video_id", payload.VideoID), logging.Error(err))
		return false
	}
	if t == nil {
		return true
	}
	if _, err := p.store.ClearVideoLink(ctx, payload.VideoID); err != nil {
		p.logger.Warn("video unlink failed", logging.String("video_id", payload.VideoID), logging.Error(err))
		return false
	}
	p.manager.Invalidator().InvalidateTrack(ctx, t.ID)
	return true
}

// handleAnalyticsUpdate dispatches the analytics fetch as a task instead of
// doing the heavy work inline.
func (p *Pipeline) handleAnalyticsUpdate(ctx context.Context, payload YouTubePayload) bool {
	t, err := p.store.GetByVideoID(ctx, payload.VideoID)
	if err != nil || t == nil {
		if err != nil {
			p.logger.Warn("analytics event lookup failed", logging.String("video_id", payload.VideoID), logging.Error(err))
		}
		return err == nil
	}
	task := taskqueue.Payload{TrackID: t.ID, Kind: taskqueue.KindAnalytics}
	if _, err := p.gateway.Dispatch(ctx, taskqueue.QueueProcess, task, time.Time{}); err != nil {
		p.logger.Warn("analytics task dispatch failed", logging.Int64(logging.FieldTrackID, t.ID), logging.Error(err))
		return false
	}
	return true
}

// handleTrackGenerated completes a processing track with the produced
// artifacts. The guard only matches processing tracks, so replays and
// late-arriving events for stopped tracks are no-ops.
func (p *Pipeline) handleTrackGenerated(ctx context.Context, payload GeneratorPayload) bool {
	moved, err := p.store.MarkCompleted(ctx, payload.TrackID, payload.AudioFile, payload.ImageFile, payload.VideoFile)
	if err != nil {
		p.logger.Warn("generated event handling failed", logging.Int64(logging.FieldTrackID, payload.TrackID), logging.Error(err))
		return false
	}
	if moved {
		p.manager.Invalidator().InvalidateTrack(ctx, payload.TrackID)
	} else {
		p.logger.Info("generated event not applicable", logging.Int64(logging.FieldTrackID, payload.TrackID))
	}
	return true
}

// handleTrackProgress records a progress checkpoint for a processing track.
func (p *Pipeline) handleTrackProgress(ctx context.Context, payload GeneratorPayload) bool {
	updated, err := p.store.SetProgress(ctx, payload.TrackID, payload.Progress)
	if err != nil {
		p.logger.Warn("progress event handling failed", logging.Int64(logging.FieldTrackID, payload.TrackID), logging.Error(err))
		return false
	}
	if updated {
		p.manager.Invalidator().InvalidateTrack(ctx, payload.TrackID)
	}
	return true
}

// handleTrackFailed fails a processing track with the provider's message.
func (p *Pipeline) handleTrackFailed(ctx context.Context, payload GeneratorPayload) bool {
	message := payload.Error
	if message == "" {
		message = "generation failed"
	}
	moved, err := p.store.MarkFailed(ctx, payload.TrackID, message)
	if err != nil {
		p.logger.Warn("failed event handling failed", logging.Int64(logging.FieldTrackID, payload.TrackID), logging.Error(err))
		return false
	}
	if moved {
		p.manager.Invalidator().InvalidateTrack(ctx, payload.TrackID)
	}
	return true
}

// count bumps a fixed-window (hourly) per-provider counter. Counter failures
// are logged and never affect the ingest outcome.
func (p *Pipeline) count(ctx context.Context, provider, name string) {
	if p.cache == nil {
		return
	}
	key := fmt.Sprintf("webhooks:%s:%s:%s", provider, name, time.Now().UTC().Format("2006010215"))
	if _, err := p.cache.IncrementCounter(ctx, key); err != nil {
		p.logger.Warn("webhook counter bump failed", logging.String("key", key), logging.Error(err))
	}
}
