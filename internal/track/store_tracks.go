package track

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// NewTrack inserts a pending track awaiting processing. Fingerprint is
// optional; when set it must be unique across the store.
func (s *Store) NewTrack(ctx context.Context, title, fingerprint string) (*Track, error) {
	timestamp := nowString()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tracks (title, fingerprint, status, progress, upload_enabled, created_at, updated_at)
         VALUES (?, ?, ?, 0, 1, ?, ?)`,
		title,
		nullableString(fingerprint),
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert track: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a track by identifier. A missing track returns (nil, nil).
func (s *Store) GetByID(ctx context.Context, id int64) (*Track, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id = ?`, id)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get track: %w", err)
	}
	return t, nil
}

// GetByVideoID fetches the track linked to an external video identifier.
func (s *Store) GetByVideoID(ctx context.Context, videoID string) (*Track, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM tracks WHERE video_id = ? LIMIT 1`, videoID)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get track by video id: %w", err)
	}
	return t, nil
}

// FindByFingerprint returns the track matching a content fingerprint.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*Track, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE fingerprint = ? LIMIT 1`,
		fingerprint,
	)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return t, nil
}

// List returns tracks filtered by status set (or all tracks when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Track, error) {
	baseQuery := `SELECT ` + trackColumns + ` FROM tracks`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// SetUploadEnabled toggles the upload-enabled flag for a track.
func (s *Store) SetUploadEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tracks SET upload_enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled),
		nowString(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set upload enabled: %w", err)
	}
	return nil
}

// Stats returns a count of tracks grouped by status.
func (s *Store) Stats(ctx context.Context) (StatsSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tracks GROUP BY status`)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("track stats: %w", err)
	}
	defer rows.Close()

	summary := StatsSummary{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return StatsSummary{}, err
		}
		summary.Total += count
		switch status {
		case StatusPending:
			summary.Pending += count
		case StatusProcessing:
			summary.Processing += count
		case StatusCompleted:
			summary.Completed += count
		case StatusFailed:
			summary.Failed += count
		case StatusStopped:
			summary.Stopped += count
		case StatusUploaded:
			summary.Uploaded += count
		}
	}
	return summary, rows.Err()
}

// Remove deletes a track by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete track: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
