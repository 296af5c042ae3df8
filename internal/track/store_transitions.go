package track

import (
	"context"
	"fmt"
	"time"
)

// Every status transition is a conditional UPDATE guarded by the allowed
// source statuses. Zero rows affected means another writer got there first
// (or the guard never held); callers treat that as a blocked transition
// rather than an error. This keeps concurrent workers consistent without a
// distributed lock.

// MarkPending moves a track into pending from any of the allowed source
// statuses, resetting progress to zero and clearing the error message.
func (s *Store) MarkPending(ctx context.Context, id int64, allowedFrom ...Status) (bool, error) {
	if len(allowedFrom) == 0 {
		return false, fmt.Errorf("mark pending: no source statuses given")
	}
	placeholders := makePlaceholders(len(allowedFrom))
	args := make([]any, 0, len(allowedFrom)+3)
	args = append(args, StatusPending, nowString(), id)
	for _, status := range allowedFrom {
		args = append(args, status)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tracks SET status = ?, progress = 0, error_message = NULL, updated_at = ?
         WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("mark pending: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkProcessing claims a pending track for work.
func (s *Store) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tracks SET status = ?, progress = 0, error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusProcessing,
		nowString(),
		id,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkStopped stops a pending or processing track with a human-readable reason.
func (s *Store) MarkStopped(ctx context.Context, id int64, reason string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tracks SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusStopped,
		reason,
		nowString(),
		id,
		StatusPending,
		StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("mark stopped: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkCompleted finishes a processing track, recording the produced artifacts.
func (s *Store) MarkCompleted(ctx context.Context, id int64, audioFile, imageFile, videoFile string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tracks SET status = ?, progress = 100, error_message = NULL,
             audio_file = ?, image_file = ?, video_file = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted,
		nullableString(audioFile),
		nullableString(imageFile),
		nullableString(videoFile),
		nowString(),
		id,
		StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkFailed fails a processing track with an error message.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tracks SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed,
		message,
		nowString(),
		id,
		StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkUploaded links a completed track to its external video and records the
// upload time. The guard requires no existing video linkage.
func (s *Store) MarkUploaded(ctx context.Context, id int64, videoID string, uploadedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tracks SET status = ?, video_id = ?, uploaded_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND video_id IS NULL`,
		StatusUploaded,
		videoID,
		uploadedAt.UTC().Format(sortableTimeFormat),
		nowString(),
		id,
		StatusCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("mark uploaded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetProgress updates the progress percentage of a processing track. Zero
// rows affected means the track is no longer processing; in-flight workers
// use that as their cooperative stop checkpoint.
func (s *Store) SetProgress(ctx context.Context, id int64, percent int) (bool, error) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tracks SET progress = ?, updated_at = ? WHERE id = ? AND status = ?`,
		percent,
		nowString(),
		id,
		StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("set progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearVideoLink removes the external video linkage for the given video id,
// returning uploaded tracks to completed. Replaying the same event is a no-op
// because the WHERE clause no longer matches.
func (s *Store) ClearVideoLink(ctx context.Context, videoID string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tracks SET video_id = NULL, uploaded_at = NULL,
             status = CASE status WHEN ? THEN ? ELSE status END,
             updated_at = ?
         WHERE video_id = ?`,
		StatusUploaded,
		StatusCompleted,
		nowString(),
		videoID,
	)
	if err != nil {
		return false, fmt.Errorf("clear video link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearArtifacts drops all artifact references for a track. Used by forced
// restarts after the files themselves have been removed.
func (s *Store) ClearArtifacts(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tracks SET audio_file = NULL, image_file = NULL, video_file = NULL, updated_at = ?
         WHERE id = ?`,
		nowString(),
		id,
	)
	if err != nil {
		return fmt.Errorf("clear artifacts: %w", err)
	}
	return nil
}
