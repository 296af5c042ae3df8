package track

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateBatchRun records a new batch run with the given member count.
func (s *Store) CreateBatchRun(ctx context.Context, id string, total int) (*BatchRun, error) {
	timestamp := nowString()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO batch_runs (id, total, succeeded, failed, cancelled, created_at, updated_at)
         VALUES (?, ?, 0, 0, 0, ?, ?)`,
		id,
		total,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch run: %w", err)
	}
	return s.GetBatchRun(ctx, id)
}

// GetBatchRun fetches a batch run by identifier. A missing run returns (nil, nil).
func (s *Store) GetBatchRun(ctx context.Context, id string) (*BatchRun, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, total, succeeded, failed, cancelled, created_at, updated_at FROM batch_runs WHERE id = ?`,
		id,
	)
	run, err := scanBatchRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch run: %w", err)
	}
	return run, nil
}

// ListBatchRuns returns batch runs newest first, bounded by limit.
func (s *Store) ListBatchRuns(ctx context.Context, limit int) ([]*BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, total, succeeded, failed, cancelled, created_at, updated_at
         FROM batch_runs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list batch runs: %w", err)
	}
	defer rows.Close()

	var runs []*BatchRun
	for rows.Next() {
		run, err := scanBatchRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordBatchOutcome increments the succeeded or failed counter of a run.
func (s *Store) RecordBatchOutcome(ctx context.Context, id string, succeeded bool) error {
	column := "failed"
	if succeeded {
		column = "succeeded"
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_runs SET `+column+` = `+column+` + 1, updated_at = ? WHERE id = ?`,
		nowString(),
		id,
	)
	if err != nil {
		return fmt.Errorf("record batch outcome: %w", err)
	}
	return nil
}

// CancelBatchRun marks a run cancelled. Members that have not started observe
// the flag and skip; already-dispatched work runs to completion.
func (s *Store) CancelBatchRun(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_runs SET cancelled = 1, updated_at = ? WHERE id = ? AND cancelled = 0`,
		nowString(),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("cancel batch run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// BatchCancelled reports whether a run has been cancelled. Unknown runs
// report false so orphaned tasks still complete.
func (s *Store) BatchCancelled(ctx context.Context, id string) (bool, error) {
	var cancelled int
	err := s.db.QueryRowContext(ctx, `SELECT cancelled FROM batch_runs WHERE id = ?`, id).Scan(&cancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("batch cancelled: %w", err)
	}
	return cancelled != 0, nil
}

func scanBatchRun(scanner interface{ Scan(dest ...any) error }) (*BatchRun, error) {
	var (
		id         string
		total      int
		succeeded  int
		failed     int
		cancelled  int
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &total, &succeeded, &failed, &cancelled, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	run := &BatchRun{
		ID:        id,
		Total:     total,
		Succeeded: succeeded,
		Failed:    failed,
		Cancelled: cancelled != 0,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		run.UpdatedAt = updated
	}
	return run, nil
}
