package daemon

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"cadence/internal/api"
	"cadence/internal/config"
	"cadence/internal/lifecycle"
	"cadence/internal/logging"
	"cadence/internal/taskqueue"
	"cadence/internal/testsupport"
	"cadence/internal/track"
	"cadence/internal/upload"
	"cadence/internal/viewcache"
	"cadence/internal/webhook"
)

const (
	testToken         = "test-api-token"
	testYouTubeSecret = "yt-shared-secret"
)

type acceptingUploader struct{}

func (acceptingUploader) Upload(context.Context, upload.Request) (string, error) {
	return "video-accepted", nil
}

type serverFixture struct {
	cfg    *config.Config
	store  *track.Store
	broker *taskqueue.MemoryBroker
	ts     *httptest.Server
	client *api.Client
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, func(cfg *config.Config) {
		cfg.Paths.APIToken = testToken
		cfg.Webhooks.YouTubeSecret = testYouTubeSecret
	})
	store := testsupport.MustOpenStore(t, cfg)
	broker := taskqueue.NewMemoryBroker()
	cache := viewcache.NewMemoryStore()
	gateway := taskqueue.NewGateway(cfg, broker, cache, logging.NewNop())
	manager := lifecycle.NewManager(store, gateway, cache, logging.NewNop())
	orchestrator := upload.NewOrchestrator(cfg, store, manager, gateway, acceptingUploader{}, logging.NewNop())
	pipeline := webhook.NewPipeline(store, manager, gateway, cache, logging.NewNop())

	d, err := New(cfg, store, manager, gateway, orchestrator, pipeline, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(d.apiServer.server.Handler)
	t.Cleanup(ts.Close)

	return &serverFixture{
		cfg:    cfg,
		store:  store,
		broker: broker,
		ts:     ts,
		client: api.NewClient(ts.URL, testToken),
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	fx := newServerFixture(t)

	resp, err := http.Get(fx.ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	wrong := api.NewClient(fx.ts.URL, "wrong-token")
	if _, err := wrong.Status(context.Background()); err == nil {
		t.Fatalf("wrong token accepted")
	}

	status, err := fx.client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.TrackDBPath == "" || status.LockFilePath == "" {
		t.Fatalf("incomplete status: %+v", status)
	}
	if status.Health.Status != taskqueue.HealthHealthy {
		t.Fatalf("health = %s, want healthy", status.Health.Status)
	}
}

func TestTrackEndpoints(t *testing.T) {
	fx := newServerFixture(t)
	ctx := context.Background()

	pending := testsupport.SeedTrack(t, fx.store, "Pending One", track.StatusPending)
	testsupport.SeedTrack(t, fx.store, "Done One", track.StatusCompleted)

	all, err := fx.client.ListTracks(ctx)
	if err != nil {
		t.Fatalf("ListTracks: %v", err)
	}
	if len(all.Items) != 2 {
		t.Fatalf("tracks = %d, want 2", len(all.Items))
	}

	filtered, err := fx.client.ListTracks(ctx, "pending")
	if err != nil {
		t.Fatalf("ListTracks filtered: %v", err)
	}
	if len(filtered.Items) != 1 || filtered.Items[0].ID != pending.ID {
		t.Fatalf("unexpected filter result: %+v", filtered.Items)
	}

	if _, err := fx.client.ListTracks(ctx, "bogus"); err == nil {
		t.Fatalf("unknown status filter accepted")
	}

	item, err := fx.client.GetTrack(ctx, pending.ID)
	if err != nil {
		t.Fatalf("GetTrack: %v", err)
	}
	if item.Item.Title != "Pending One" {
		t.Fatalf("title = %q", item.Item.Title)
	}

	if _, err := fx.client.GetTrack(ctx, 9999); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("missing track err = %v", err)
	}

	started, err := fx.client.StartTrack(ctx, pending.ID, false)
	if err != nil {
		t.Fatalf("StartTrack: %v", err)
	}
	if started.Blocked || started.TaskID == "" {
		t.Fatalf("unexpected start outcome: %+v", started)
	}

	// Pending again after start; stopping is allowed, re-starting is not
	// while a lifecycle verb races another. Stop the track, then retry it.
	stopped, err := fx.client.StopTrack(ctx, pending.ID)
	if err != nil {
		t.Fatalf("StopTrack: %v", err)
	}
	if stopped.Blocked {
		t.Fatalf("stop blocked: %s", stopped.Reason)
	}
	retried, err := fx.client.RetryTrack(ctx, pending.ID)
	if err != nil {
		t.Fatalf("RetryTrack: %v", err)
	}
	if retried.Blocked || retried.TaskID == "" {
		t.Fatalf("unexpected retry outcome: %+v", retried)
	}
}

func TestDeadLetterEndpoints(t *testing.T) {
	fx := newServerFixture(t)
	ctx := context.Background()

	if err := fx.broker.Enqueue(ctx, &taskqueue.Task{ID: "doomed", Queue: "process", Payload: []byte(`{}`), MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := fx.broker.Claim(ctx, "process")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := fx.broker.Fail(ctx, claimed.ID, "fatal"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	dead, err := fx.client.ListDead(ctx)
	if err != nil {
		t.Fatalf("ListDead: %v", err)
	}
	if len(dead.Items) != 1 || dead.Items[0].LastError != "fatal" {
		t.Fatalf("unexpected dead set: %+v", dead.Items)
	}

	count, err := fx.client.RetryDead(ctx, nil)
	if err != nil {
		t.Fatalf("RetryDead: %v", err)
	}
	if count.Count != 1 {
		t.Fatalf("retried = %d, want 1", count.Count)
	}

	dead, err = fx.client.ListDead(ctx)
	if err != nil {
		t.Fatalf("ListDead after retry: %v", err)
	}
	if len(dead.Items) != 0 {
		t.Fatalf("dead set not drained: %+v", dead.Items)
	}
}

func TestBatchEndpoints(t *testing.T) {
	fx := newServerFixture(t)
	ctx := context.Background()

	video := fx.cfg.Paths.ArtifactDir + "/batch-take.mp4"
	testsupport.WriteFile(t, video, 64)
	seeded, err := fx.store.NewTrack(ctx, "Batchable", "")
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	if moved, err := fx.store.MarkProcessing(ctx, seeded.ID); err != nil || !moved {
		t.Fatalf("MarkProcessing: moved=%v err=%v", moved, err)
	}
	if moved, err := fx.store.MarkCompleted(ctx, seeded.ID, "", "", video); err != nil || !moved {
		t.Fatalf("MarkCompleted: moved=%v err=%v", moved, err)
	}

	result, err := fx.client.QueueBatch(ctx, api.BatchRequest{TrackIDs: []int64{seeded.ID, 404}})
	if err != nil {
		t.Fatalf("QueueBatch: %v", err)
	}
	if result.Queued != 1 || result.Skipped != 1 || result.BatchID == "" {
		t.Fatalf("unexpected batch result: %+v", result)
	}

	runs, err := fx.client.ListBatches(ctx)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(runs.Items) != 1 || runs.Items[0].ID != result.BatchID {
		t.Fatalf("unexpected runs: %+v", runs.Items)
	}

	cancelled, err := fx.client.CancelBatch(ctx, result.BatchID)
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if !cancelled.Cancelled {
		t.Fatalf("cancel reported no change")
	}

	if _, err := fx.client.QueueBatch(ctx, api.BatchRequest{}); err == nil {
		t.Fatalf("empty batch request accepted")
	}
}

func TestWebhookSignatureEnforcement(t *testing.T) {
	fx := newServerFixture(t)
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, fx.store, "Hooked", track.StatusCompleted)
	body := []byte(`{"event":"published","video_id":"vid-hook","track_id":` + strconv.FormatInt(seeded.ID, 10) + `}`)

	post := func(signature string, payload []byte) *http.Response {
		req, err := http.NewRequest(http.MethodPost, fx.ts.URL+"/webhooks/youtube", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		if signature != "" {
			req.Header.Set("X-Signature", signature)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := post("", body); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned webhook status = %d, want 401", resp.StatusCode)
	}
	if resp := post(webhook.Sign(body, "other-secret"), body); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("mis-signed webhook status = %d, want 401", resp.StatusCode)
	}

	// A rejected signature must not have touched state.
	current, err := fx.store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != track.StatusCompleted {
		t.Fatalf("rejected webhook mutated track: %+v", current)
	}

	if resp := post(webhook.Sign(body, testYouTubeSecret), body); resp.StatusCode != http.StatusOK {
		t.Fatalf("signed webhook status = %d, want 200", resp.StatusCode)
	}
	current, err = fx.store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != track.StatusUploaded || current.VideoID != "vid-hook" {
		t.Fatalf("webhook did not link track: %+v", current)
	}

	malformed := []byte("not even json")
	if resp := post(webhook.Sign(malformed, testYouTubeSecret), malformed); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed webhook status = %d, want 400", resp.StatusCode)
	}

	resp, err := http.Post(fx.ts.URL+"/webhooks/unknown", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST unknown provider: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown provider status = %d, want 404", resp.StatusCode)
	}

	events, err := fx.client.ListEvents(ctx, "youtube", 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	// Only deliveries with valid signatures reach the audit log; the
	// malformed-but-signed body is still audited.
	if len(events.Items) != 2 {
		t.Fatalf("audit log has %d events, want 2", len(events.Items))
	}
}

