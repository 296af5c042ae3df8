package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cadence/internal/fileutil"
	"cadence/internal/logging"
	"cadence/internal/services"
	"cadence/internal/taskqueue"
	"cadence/internal/track"
	"cadence/internal/viewcache"
)

// Outcome reports the result of a lifecycle request. Blocked outcomes are
// expected business conditions, not errors: the transition guard did not
// hold and state is unchanged.
type Outcome struct {
	Blocked bool
	Reason  string
	Task    *taskqueue.Handle
}

// Manager owns the track state machine. All status mutations flow through it
// so every transition is a guarded conditional update followed by cache
// invalidation.
type Manager struct {
	store       *track.Store
	gateway     *taskqueue.Gateway
	invalidator *viewcache.Invalidator
	logger      *slog.Logger
}

// NewManager wires the lifecycle manager to its store, queue gateway, and
// cache invalidator.
func NewManager(store *track.Store, gateway *taskqueue.Gateway, cache viewcache.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:       store,
		gateway:     gateway,
		invalidator: viewcache.NewInvalidator(cache, logger),
		logger:      logging.WithComponent(logger, "lifecycle"),
	}
}

// Start moves a track to pending and dispatches a processing task. Start is
// blocked while the track is processing, or once it is completed or uploaded,
// unless forceRestart is set. A forced restart deletes existing artifacts
// first; deletion failures are logged and do not block the restart.
func (m *Manager) Start(ctx context.Context, id int64, forceRestart bool) (Outcome, error) {
	t, err := m.store.GetByID(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if t == nil {
		return Outcome{}, services.Wrap(services.ErrNotFound, "lifecycle", "start", fmt.Sprintf("track %d not found", id), nil)
	}

	if t.Status == track.StatusProcessing {
		return Outcome{Blocked: true, Reason: "track is already processing"}, nil
	}

	allowedFrom := []track.Status{track.StatusPending, track.StatusFailed, track.StatusStopped}
	if forceRestart {
		m.removeArtifacts(ctx, t)
		allowedFrom = append(allowedFrom, track.StatusCompleted, track.StatusUploaded)
	}

	moved, err := m.store.MarkPending(ctx, id, allowedFrom...)
	if err != nil {
		return Outcome{}, err
	}
	if !moved {
		return Outcome{Blocked: true, Reason: startBlockReason(t.Status, forceRestart)}, nil
	}

	handle, err := m.dispatchProcess(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	m.invalidator.InvalidateTrack(ctx, id)

	m.logger.Info("track started",
		logging.Int64(logging.FieldTrackID, id),
		logging.String("task_id", handle.ID),
		slog.Bool("force_restart", forceRestart),
	)
	return Outcome{Task: handle}, nil
}

// Stop marks a pending or processing track as stopped. In-flight work is not
// preempted: workers observe the status change at their next progress
// checkpoint and exit early.
func (m *Manager) Stop(ctx context.Context, id int64) (Outcome, error) {
	moved, err := m.store.MarkStopped(ctx, id, track.StopReason)
	if err != nil {
		return Outcome{}, err
	}
	if !moved {
		t, err := m.store.GetByID(ctx, id)
		if err != nil {
			return Outcome{}, err
		}
		if t == nil {
			return Outcome{}, services.Wrap(services.ErrNotFound, "lifecycle", "stop", fmt.Sprintf("track %d not found", id), nil)
		}
		return Outcome{Blocked: true, Reason: fmt.Sprintf("cannot stop a %s track", t.Status)}, nil
	}

	m.invalidator.InvalidateTrack(ctx, id)
	m.logger.Info("track stopped", logging.Int64(logging.FieldTrackID, id))
	return Outcome{}, nil
}

// Retry restarts a failed or stopped track. Unlike a forced Start it never
// deletes artifacts.
func (m *Manager) Retry(ctx context.Context, id int64) (Outcome, error) {
	moved, err := m.store.MarkPending(ctx, id, track.StatusFailed, track.StatusStopped)
	if err != nil {
		return Outcome{}, err
	}
	if !moved {
		t, err := m.store.GetByID(ctx, id)
		if err != nil {
			return Outcome{}, err
		}
		if t == nil {
			return Outcome{}, services.Wrap(services.ErrNotFound, "lifecycle", "retry", fmt.Sprintf("track %d not found", id), nil)
		}
		return Outcome{Blocked: true, Reason: fmt.Sprintf("cannot retry a %s track", t.Status)}, nil
	}

	handle, err := m.dispatchProcess(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	m.invalidator.InvalidateTrack(ctx, id)

	m.logger.Info("track retried", logging.Int64(logging.FieldTrackID, id), logging.String("task_id", handle.ID))
	return Outcome{Task: handle}, nil
}

// CompleteUpload links a completed track to its external video id. The guard
// requires the track to be completed with no existing linkage, so replayed
// completions are blocked rather than overwriting the link.
func (m *Manager) CompleteUpload(ctx context.Context, id int64, videoID string) (Outcome, error) {
	moved, err := m.store.MarkUploaded(ctx, id, videoID, time.Now().UTC())
	if err != nil {
		return Outcome{}, err
	}
	if !moved {
		return Outcome{Blocked: true, Reason: "track is not completed or already has a video linked"}, nil
	}

	m.invalidator.InvalidateTrack(ctx, id)
	m.logger.Info("track uploaded",
		logging.Int64(logging.FieldTrackID, id),
		logging.String("video_id", videoID),
	)
	return Outcome{}, nil
}

// Invalidator exposes the manager's cache invalidation path so collaborators
// that apply store updates directly (webhook handlers) share the same key
// families.
func (m *Manager) Invalidator() *viewcache.Invalidator {
	return m.invalidator
}

func (m *Manager) dispatchProcess(ctx context.Context, id int64) (*taskqueue.Handle, error) {
	payload := taskqueue.Payload{TrackID: id, Kind: taskqueue.KindProcess}
	handle, err := m.gateway.Dispatch(ctx, taskqueue.QueueProcess, payload, time.Time{})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "lifecycle", "dispatch", fmt.Sprintf("dispatch processing task for track %d", id), err)
	}
	return handle, nil
}

func (m *Manager) removeArtifacts(ctx context.Context, t *track.Track) {
	for _, path := range []string{t.AudioFile, t.ImageFile, t.VideoFile} {
		if path == "" {
			continue
		}
		if err := fileutil.RemoveIfExists(path); err != nil {
			m.logger.Warn("artifact cleanup failed",
				logging.Int64(logging.FieldTrackID, t.ID),
				logging.String("path", path),
				logging.Error(err),
			)
		}
	}
	if err := m.store.ClearArtifacts(ctx, t.ID); err != nil {
		m.logger.Warn("artifact reference clear failed", logging.Int64(logging.FieldTrackID, t.ID), logging.Error(err))
	}
}

func startBlockReason(status track.Status, forceRestart bool) string {
	switch status {
	case track.StatusProcessing:
		return "track is already processing"
	case track.StatusCompleted:
		if !forceRestart {
			return "track is already completed; use force restart to reprocess"
		}
	case track.StatusUploaded:
		if !forceRestart {
			return "track is already uploaded; use force restart to reprocess"
		}
	}
	return fmt.Sprintf("track status changed to %s by another request", status)
}
