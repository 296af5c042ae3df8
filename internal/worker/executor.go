package worker

import (
	"context"

	"cadence/internal/track"
)

// Artifacts are the output file paths produced by one processing run.
type Artifacts struct {
	AudioFile string
	ImageFile string
	VideoFile string
}

// Executor is the media-processing collaborator invoked inside dispatched
// tasks. Implementations report progress through the callback; a false
// return means the track was stopped and the executor should exit at its
// next checkpoint.
type Executor interface {
	Execute(ctx context.Context, t *track.Track, progress func(percent int) bool) (Artifacts, error)
}

// AnalyticsFetcher refreshes external analytics for an uploaded track. The
// webhook pipeline dispatches this as a task rather than fetching inline.
type AnalyticsFetcher interface {
	Fetch(ctx context.Context, t *track.Track) error
}
