package webhook_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cadence/internal/lifecycle"
	"cadence/internal/logging"
	"cadence/internal/services"
	"cadence/internal/taskqueue"
	"cadence/internal/testsupport"
	"cadence/internal/track"
	"cadence/internal/viewcache"
	"cadence/internal/webhook"
)

type fixture struct {
	store    *track.Store
	broker   *taskqueue.MemoryBroker
	cache    viewcache.Store
	pipeline *webhook.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	broker := taskqueue.NewMemoryBroker()
	cache := viewcache.NewMemoryStore()
	gateway := taskqueue.NewGateway(cfg, broker, cache, logging.NewNop())
	manager := lifecycle.NewManager(store, gateway, cache, logging.NewNop())

	return &fixture{
		store:    store,
		broker:   broker,
		cache:    cache,
		pipeline: webhook.NewPipeline(store, manager, gateway, cache, logging.NewNop()),
	}
}

func ingest(t *testing.T, fx *fixture, provider, body string) webhook.Result {
	t.Helper()
	result, err := fx.pipeline.Ingest(context.Background(), provider, []byte(body), "203.0.113.9", "hookd/1.0")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return result
}

func TestIngestPublishedLinksTrackOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, fx.store, "Release", track.StatusCompleted)
	body := fmt.Sprintf(`{"event":"published","video_id":"vid-9","track_id":%d}`, seeded.ID)

	result := ingest(t, fx, webhook.ProviderYouTube, body)
	if !result.Processed || result.EventType != webhook.EventVideoPublished {
		t.Fatalf("unexpected result: %+v", result)
	}

	current, err := fx.store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != track.StatusUploaded || current.VideoID != "vid-9" {
		t.Fatalf("track not linked: %+v", current)
	}

	// Redelivery converges on the same linkage.
	result = ingest(t, fx, webhook.ProviderYouTube, body)
	if !result.Processed {
		t.Fatalf("replayed event not processed: %+v", result)
	}
	current, err = fx.store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.VideoID != "vid-9" {
		t.Fatalf("replay mutated linkage: %q", current.VideoID)
	}

	events, err := fx.store.ListWebhookEvents(ctx, webhook.ProviderYouTube, 10)
	if err != nil {
		t.Fatalf("ListWebhookEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("audit log has %d events, want 2", len(events))
	}
}

func TestIngestDeletedUnlinksIdempotently(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, fx.store, "Gone", track.StatusUploaded)
	body := fmt.Sprintf(`{"event":"deleted","video_id":"%s"}`, seeded.VideoID)

	for i := 0; i < 2; i++ {
		result := ingest(t, fx, webhook.ProviderYouTube, body)
		if !result.Processed {
			t.Fatalf("delivery %d not processed: %+v", i+1, result)
		}
	}

	current, err := fx.store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.VideoID != "" {
		t.Fatalf("video id = %q, want cleared", current.VideoID)
	}
	if current.Status != track.StatusCompleted {
		t.Fatalf("status = %s, want completed after unlink", current.Status)
	}
}

func TestIngestAnalyticsDispatchesFetchTask(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, fx.store, "Charting", track.StatusUploaded)
	body := fmt.Sprintf(`{"event":"analytics-update","video_id":"%s"}`, seeded.VideoID)

	result := ingest(t, fx, webhook.ProviderYouTube, body)
	if !result.Processed {
		t.Fatalf("analytics event not processed: %+v", result)
	}

	task, err := fx.broker.Claim(ctx, taskqueue.QueueProcess)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	payload, err := taskqueue.DecodePayload(task.Payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.TrackID != seeded.ID || payload.Kind != taskqueue.KindAnalytics {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestIngestGeneratorDrivesTrackLifecycle(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	working := testsupport.SeedTrack(t, fx.store, "Working", track.StatusProcessing)

	result := ingest(t, fx, webhook.ProviderGenerator,
		fmt.Sprintf(`{"event":"updated","track_id":%d,"progress":55}`, working.ID))
	if !result.Processed {
		t.Fatalf("progress event not processed: %+v", result)
	}
	current, err := fx.store.GetByID(ctx, working.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Progress != 55 {
		t.Fatalf("progress = %d, want 55", current.Progress)
	}

	result = ingest(t, fx, webhook.ProviderGenerator,
		fmt.Sprintf(`{"event":"generated","track_id":%d,"audio_file":"a.flac","image_file":"c.png","video_file":"v.mp4"}`, working.ID))
	if !result.Processed {
		t.Fatalf("generated event not processed: %+v", result)
	}
	current, err = fx.store.GetByID(ctx, working.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != track.StatusCompleted || current.VideoFile != "v.mp4" {
		t.Fatalf("track not completed: %+v", current)
	}

	failing := testsupport.SeedTrack(t, fx.store, "Failing", track.StatusProcessing)
	result = ingest(t, fx, webhook.ProviderGenerator,
		fmt.Sprintf(`{"event":"failed","track_id":%d,"error":"render crashed"}`, failing.ID))
	if !result.Processed {
		t.Fatalf("failed event not processed: %+v", result)
	}
	current, err = fx.store.GetByID(ctx, failing.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != track.StatusFailed || current.ErrorMessage != "render crashed" {
		t.Fatalf("track not failed: %+v", current)
	}
}

func TestIngestUnknownEventIsUnprocessedNotError(t *testing.T) {
	fx := newFixture(t)

	result := ingest(t, fx, webhook.ProviderYouTube, `{"event":"channel.renamed","video_id":"v1"}`)
	if result.Processed {
		t.Fatalf("unknown event marked processed")
	}
	if result.EventType != "channel.renamed" {
		t.Fatalf("event type = %q", result.EventType)
	}
}

func TestIngestMalformedPayloadStillAudited(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.pipeline.Ingest(ctx, webhook.ProviderYouTube, []byte("not even json"), "203.0.113.9", "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	events, err := fx.store.ListWebhookEvents(ctx, webhook.ProviderYouTube, 10)
	if err != nil {
		t.Fatalf("ListWebhookEvents: %v", err)
	}
	if len(events) != 1 || string(events[0].Payload) != "not even json" {
		t.Fatalf("malformed payload not audited: %+v", events)
	}
}

func TestIngestCountsPerProvider(t *testing.T) {
	fx := newFixture(t)

	seeded := testsupport.SeedTrack(t, fx.store, "Counted", track.StatusCompleted)
	ingest(t, fx, webhook.ProviderYouTube,
		fmt.Sprintf(`{"event":"published","video_id":"vid-c","track_id":%d}`, seeded.ID))

	for _, name := range []string{"received", "processed"} {
		if counterTotal(t, fx.cache, webhook.ProviderYouTube, name) != 1 {
			t.Fatalf("%s counter not bumped", name)
		}
	}
}

// counterTotal sums the current and previous hourly windows so the test does
// not flake across an hour boundary.
func counterTotal(t *testing.T, cache viewcache.Store, provider, name string) int {
	t.Helper()
	ctx := context.Background()

	total := 0
	now := time.Now().UTC()
	for _, window := range []time.Time{now, now.Add(-time.Hour)} {
		key := fmt.Sprintf("webhooks:%s:%s:%s", provider, name, window.Format("2006010215"))
		raw, ok, err := cache.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get %s: %v", key, err)
		}
		if !ok {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(string(raw), "%d", &n); err != nil {
			t.Fatalf("parse counter %q: %v", raw, err)
		}
		total += n
	}
	return total
}
