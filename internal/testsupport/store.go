package testsupport

import (
	"context"
	"testing"

	"cadence/internal/config"
	"cadence/internal/track"
)

// MustOpenStore opens the track store for cfg and fails the test on error.
// The store is closed automatically when the test finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *track.Store {
	t.Helper()

	store, err := track.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

// SeedTrack inserts a track and moves it to the requested status through the
// store's transition guards.
func SeedTrack(t testing.TB, store *track.Store, title string, status track.Status) *track.Track {
	t.Helper()
	ctx := context.Background()

	seeded, err := store.NewTrack(ctx, title, "")
	if err != nil {
		t.Fatalf("seed track: %v", err)
	}

	switch status {
	case track.StatusPending:
	case track.StatusProcessing:
		moved, err := store.MarkProcessing(ctx, seeded.ID)
		mustTransition(t, moved, err)
	case track.StatusCompleted:
		moved, err := store.MarkProcessing(ctx, seeded.ID)
		mustTransition(t, moved, err)
		moved, err = store.MarkCompleted(ctx, seeded.ID, "", "", "")
		mustTransition(t, moved, err)
	case track.StatusFailed:
		moved, err := store.MarkProcessing(ctx, seeded.ID)
		mustTransition(t, moved, err)
		moved, err = store.MarkFailed(ctx, seeded.ID, "seeded failure")
		mustTransition(t, moved, err)
	case track.StatusStopped:
		moved, err := store.MarkStopped(ctx, seeded.ID, track.StopReason)
		mustTransition(t, moved, err)
	case track.StatusUploaded:
		moved, err := store.MarkProcessing(ctx, seeded.ID)
		mustTransition(t, moved, err)
		moved, err = store.MarkCompleted(ctx, seeded.ID, "", "", "")
		mustTransition(t, moved, err)
		moved, err = store.MarkUploaded(ctx, seeded.ID, "seed-video-"+title, seeded.CreatedAt)
		mustTransition(t, moved, err)
	default:
		t.Fatalf("unsupported seed status %q", status)
	}

	current, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("reload seeded track: %v", err)
	}
	return current
}

func mustTransition(t testing.TB, moved bool, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("seed transition: %v", err)
	}
	if !moved {
		t.Fatalf("seed transition blocked")
	}
}
