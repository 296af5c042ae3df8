package track_test

import (
	"context"
	"testing"
	"time"

	"cadence/internal/testsupport"
	"cadence/internal/track"
)

func TestNewTrackStartsPending(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	created, err := store.NewTrack(ctx, "First Track", "fp-1")
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	if created.Status != track.StatusPending {
		t.Fatalf("status = %s, want pending", created.Status)
	}
	if created.Progress != 0 {
		t.Fatalf("progress = %d, want 0", created.Progress)
	}
	if !created.UploadEnabled {
		t.Fatalf("upload enabled = false, want true")
	}
}

func TestTransitionEdges(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	seeded, err := store.NewTrack(ctx, "Edges", "")
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	id := seeded.ID

	moved, err := store.MarkProcessing(ctx, id)
	if err != nil || !moved {
		t.Fatalf("pending -> processing: moved=%v err=%v", moved, err)
	}

	// Claiming the same track twice must be blocked.
	moved, err = store.MarkProcessing(ctx, id)
	if err != nil {
		t.Fatalf("second MarkProcessing: %v", err)
	}
	if moved {
		t.Fatalf("processing -> processing succeeded, want blocked")
	}

	moved, err = store.MarkCompleted(ctx, id, "a.flac", "cover.png", "out.mp4")
	if err != nil || !moved {
		t.Fatalf("processing -> completed: moved=%v err=%v", moved, err)
	}

	current, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != track.StatusCompleted {
		t.Fatalf("status = %s, want completed", current.Status)
	}
	if current.Progress != 100 {
		t.Fatalf("progress = %d, want 100", current.Progress)
	}
	if current.VideoFile != "out.mp4" {
		t.Fatalf("video file = %q, want out.mp4", current.VideoFile)
	}

	// Completed tracks cannot fail or stop.
	if moved, _ := store.MarkFailed(ctx, id, "late failure"); moved {
		t.Fatalf("completed -> failed succeeded, want blocked")
	}
	if moved, _ := store.MarkStopped(ctx, id, track.StopReason); moved {
		t.Fatalf("completed -> stopped succeeded, want blocked")
	}
}

func TestMarkPendingResetsProgressAndError(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, store, "Reset", track.StatusFailed)
	if seeded.ErrorMessage == "" {
		t.Fatalf("seeded failed track has no error message")
	}

	moved, err := store.MarkPending(ctx, seeded.ID, track.StatusFailed, track.StatusStopped)
	if err != nil || !moved {
		t.Fatalf("failed -> pending: moved=%v err=%v", moved, err)
	}

	current, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != track.StatusPending {
		t.Fatalf("status = %s, want pending", current.Status)
	}
	if current.Progress != 0 {
		t.Fatalf("progress = %d, want 0", current.Progress)
	}
	if current.ErrorMessage != "" {
		t.Fatalf("error message = %q, want cleared", current.ErrorMessage)
	}
}

func TestMarkUploadedRequiresCompletedWithoutLink(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, store, "Upload Guard", track.StatusCompleted)

	moved, err := store.MarkUploaded(ctx, seeded.ID, "vid-123", time.Now())
	if err != nil || !moved {
		t.Fatalf("completed -> uploaded: moved=%v err=%v", moved, err)
	}

	// Replaying the upload must not overwrite the link.
	moved, err = store.MarkUploaded(ctx, seeded.ID, "vid-456", time.Now())
	if err != nil {
		t.Fatalf("second MarkUploaded: %v", err)
	}
	if moved {
		t.Fatalf("second upload succeeded, want blocked")
	}

	current, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.VideoID != "vid-123" {
		t.Fatalf("video id = %q, want vid-123", current.VideoID)
	}
	if current.UploadedAt == nil {
		t.Fatalf("uploaded at not recorded")
	}
}

func TestClearVideoLinkIsIdempotent(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, store, "Unlink", track.StatusUploaded)
	videoID := seeded.VideoID

	changed, err := store.ClearVideoLink(ctx, videoID)
	if err != nil || !changed {
		t.Fatalf("first ClearVideoLink: changed=%v err=%v", changed, err)
	}
	changed, err = store.ClearVideoLink(ctx, videoID)
	if err != nil {
		t.Fatalf("second ClearVideoLink: %v", err)
	}
	if changed {
		t.Fatalf("second ClearVideoLink changed a row, want no-op")
	}

	current, err := store.GetByID(ctx, seeded.ID)
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

func TestSetProgressStopsWhenNotProcessing(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	seeded := testsupport.SeedTrack(t, store, "Progress", track.StatusProcessing)

	updated, err := store.SetProgress(ctx, seeded.ID, 40)
	if err != nil || !updated {
		t.Fatalf("SetProgress while processing: updated=%v err=%v", updated, err)
	}

	if moved, _ := store.MarkStopped(ctx, seeded.ID, track.StopReason); !moved {
		t.Fatalf("stop failed")
	}

	// Workers treat this zero-row update as the cooperative stop signal.
	updated, err = store.SetProgress(ctx, seeded.ID, 60)
	if err != nil {
		t.Fatalf("SetProgress after stop: %v", err)
	}
	if updated {
		t.Fatalf("SetProgress after stop updated a row, want stop signal")
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	testsupport.SeedTrack(t, store, "P1", track.StatusPending)
	testsupport.SeedTrack(t, store, "P2", track.StatusPending)
	testsupport.SeedTrack(t, store, "C1", track.StatusCompleted)
	testsupport.SeedTrack(t, store, "F1", track.StatusFailed)

	summary, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if summary.Total != 4 || summary.Pending != 2 || summary.Completed != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestBatchRunLifecycle(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	run, err := store.CreateBatchRun(ctx, "run-1", 3)
	if err != nil {
		t.Fatalf("CreateBatchRun: %v", err)
	}
	if run.Total != 3 || run.Done() {
		t.Fatalf("fresh run should not be done: %+v", run)
	}

	for _, succeeded := range []bool{true, true, false} {
		if err := store.RecordBatchOutcome(ctx, "run-1", succeeded); err != nil {
			t.Fatalf("RecordBatchOutcome: %v", err)
		}
	}

	run, err = store.GetBatchRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetBatchRun: %v", err)
	}
	if run.Succeeded != 2 || run.Failed != 1 || !run.Done() {
		t.Fatalf("unexpected run state: %+v", run)
	}

	cancelled, err := store.CancelBatchRun(ctx, "run-1")
	if err != nil || !cancelled {
		t.Fatalf("CancelBatchRun: cancelled=%v err=%v", cancelled, err)
	}
	cancelled, err = store.CancelBatchRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("second CancelBatchRun: %v", err)
	}
	if cancelled {
		t.Fatalf("second cancel changed a row, want no-op")
	}

	flag, err := store.BatchCancelled(ctx, "run-1")
	if err != nil || !flag {
		t.Fatalf("BatchCancelled: flag=%v err=%v", flag, err)
	}
	if flag, _ := store.BatchCancelled(ctx, "unknown"); flag {
		t.Fatalf("unknown run reported cancelled")
	}
}

func TestWebhookEventLogAppendsAndLists(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.AppendWebhookEvent(ctx, "youtube", []byte(`{"event":"published"}`), "10.0.0.1", "hookd/1.0"); err != nil {
		t.Fatalf("AppendWebhookEvent: %v", err)
	}
	if _, err := store.AppendWebhookEvent(ctx, "generator", []byte(`not even json`), "10.0.0.2", ""); err != nil {
		t.Fatalf("AppendWebhookEvent malformed payload: %v", err)
	}

	events, err := store.ListWebhookEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListWebhookEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	// Newest first.
	if events[0].Provider != "generator" {
		t.Fatalf("first event provider = %s, want generator", events[0].Provider)
	}

	youtubeOnly, err := store.ListWebhookEvents(ctx, "youtube", 10)
	if err != nil {
		t.Fatalf("ListWebhookEvents youtube: %v", err)
	}
	if len(youtubeOnly) != 1 || youtubeOnly[0].SourceIP != "10.0.0.1" {
		t.Fatalf("unexpected youtube events: %+v", youtubeOnly)
	}
}
