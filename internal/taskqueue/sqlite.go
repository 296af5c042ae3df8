package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cadence/internal/config"
)

const brokerSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    queue TEXT NOT NULL,
    payload BLOB NOT NULL,
    state TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    not_before TEXT,
    claimed_at TEXT,
    last_heartbeat TEXT,
    last_error TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_queue_state ON tasks(queue, state, created_at);
`

// SQLiteBroker is the durable task broker used in production.
type SQLiteBroker struct {
	db   *sql.DB
	path string
}

// OpenBroker initializes or connects to the task database.
func OpenBroker(cfg *config.Config) (*SQLiteBroker, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenBrokerPath(filepath.Join(cfg.Paths.LogDir, "tasks.db"))
}

// OpenBrokerPath opens the task database at an explicit location.
func OpenBrokerPath(dbPath string) (*SQLiteBroker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(brokerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create broker schema: %w", err)
	}
	return &SQLiteBroker{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (b *SQLiteBroker) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLiteBroker) Enqueue(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	timestamp := timeString(time.Now())
	_, err := b.db.ExecContext(
		ctx,
		`INSERT INTO tasks (id, queue, payload, state, attempts, max_attempts, not_before, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Queue,
		task.Payload,
		StatePending,
		task.Attempts,
		task.MaxAttempts,
		nullableTimePtr(task.NotBefore),
		timestamp,
		timestamp,
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Claim reserves the oldest eligible pending task in a transaction. The
// conditional UPDATE guards against a concurrent claimer taking the same row.
func (b *SQLiteBroker) Claim(ctx context.Context, queue string) (*Task, error) {
	now := time.Now().UTC()
	for attempt := 0; attempt < 3; attempt++ {
		row := b.db.QueryRowContext(
			ctx,
			`SELECT `+taskColumns+` FROM tasks
             WHERE queue = ? AND state = ? AND (not_before IS NULL OR not_before <= ?)
             ORDER BY created_at LIMIT 1`,
			queue,
			StatePending,
			timeString(now),
		)
		task, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTask
		}
		if err != nil {
			return nil, fmt.Errorf("select claim candidate: %w", err)
		}

		res, err := b.db.ExecContext(
			ctx,
			`UPDATE tasks SET state = ?, claimed_at = ?, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND state = ?`,
			StateClaimed,
			timeString(now),
			timeString(now),
			timeString(now),
			task.ID,
			StatePending,
		)
		if err != nil {
			return nil, fmt.Errorf("claim task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the race; try the next candidate.
			continue
		}
		task.State = StateClaimed
		claimed := now
		task.ClaimedAt = &claimed
		task.LastHeartbeat = &claimed
		return task, nil
	}
	return nil, ErrNoTask
}

func (b *SQLiteBroker) Heartbeat(ctx context.Context, id string) error {
	now := timeString(time.Now())
	_, err := b.db.ExecContext(
		ctx,
		`UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND state = ?`,
		now,
		now,
		id,
		StateClaimed,
	)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (b *SQLiteBroker) Ack(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

// Fail increments the attempt count and either re-pends the task or, when
// attempts are exhausted, moves it to the dead-letter set.
func (b *SQLiteBroker) Fail(ctx context.Context, id string, reason string) error {
	now := timeString(time.Now())
	_, err := b.db.ExecContext(
		ctx,
		`UPDATE tasks SET
             attempts = attempts + 1,
             state = CASE WHEN attempts + 1 >= max_attempts THEN ? ELSE ? END,
             claimed_at = NULL,
             last_heartbeat = NULL,
             last_error = ?,
             updated_at = ?
         WHERE id = ? AND state = ?`,
		StateDead,
		StatePending,
		reason,
		now,
		id,
		StateClaimed,
	)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

func (b *SQLiteBroker) Counts(ctx context.Context, queue string) (Counts, error) {
	rows, err := b.db.QueryContext(
		ctx,
		`SELECT state, COUNT(1) FROM tasks WHERE queue = ? GROUP BY state`,
		queue,
	)
	if err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	defer rows.Close()

	counts := Counts{}
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return Counts{}, err
		}
		switch state {
		case StatePending:
			counts.Pending = count
		case StateClaimed:
			counts.InFlight = count
		case StateDead:
			counts.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return Counts{}, err
	}
	counts.Total = counts.Pending + counts.InFlight + counts.Failed
	return counts, nil
}

func (b *SQLiteBroker) Queues(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT DISTINCT queue FROM tasks ORDER BY queue`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var queues []string
	for rows.Next() {
		var queue string
		if err := rows.Scan(&queue); err != nil {
			return nil, err
		}
		queues = append(queues, queue)
	}
	return queues, rows.Err()
}

func (b *SQLiteBroker) ListDead(ctx context.Context, queue string) ([]*Task, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if queue == "" {
		rows, err = b.db.QueryContext(
			ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE state = ? ORDER BY created_at`,
			StateDead,
		)
	} else {
		rows, err = b.db.QueryContext(
			ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE state = ? AND queue = ? ORDER BY created_at`,
			StateDead,
			queue,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list dead tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (b *SQLiteBroker) RetryDead(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(
		ctx,
		`UPDATE tasks SET state = ?, attempts = 0, last_error = NULL, not_before = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		StatePending,
		timeString(time.Now()),
		id,
		StateDead,
	)
	if err != nil {
		return fmt.Errorf("retry dead task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNoTask)
	}
	return nil
}

func (b *SQLiteBroker) ClearDead(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(
		ctx,
		`DELETE FROM tasks WHERE id = ? AND state = ?`,
		id,
		StateDead,
	)
	if err != nil {
		return fmt.Errorf("clear dead task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNoTask)
	}
	return nil
}

func (b *SQLiteBroker) StaleClaims(ctx context.Context, queue string, cutoff time.Time) (int, error) {
	var count int
	err := b.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM tasks
         WHERE queue = ? AND state = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		queue,
		StateClaimed,
		timeString(cutoff),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("stale claims: %w", err)
	}
	return count, nil
}

func (b *SQLiteBroker) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(
		ctx,
		`UPDATE tasks SET state = ?, claimed_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE state = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatePending,
		timeString(time.Now()),
		StateClaimed,
		timeString(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale tasks: %w", err)
	}
	return res.RowsAffected()
}

const taskColumns = "id, queue, payload, state, attempts, max_attempts, not_before, claimed_at, last_heartbeat, last_error, created_at, updated_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id           string
		queue        string
		payload      []byte
		stateStr     string
		attempts     int
		maxAttempts  int
		notBefore    sql.NullString
		claimedAt    sql.NullString
		heartbeatRaw sql.NullString
		lastError    sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&queue,
		&payload,
		&stateStr,
		&attempts,
		&maxAttempts,
		&notBefore,
		&claimedAt,
		&heartbeatRaw,
		&lastError,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:          id,
		Queue:       queue,
		Payload:     payload,
		State:       State(stateStr),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LastError:   lastError.String,
	}
	task.NotBefore = parseNullableTime(notBefore)
	task.ClaimedAt = parseNullableTime(claimedAt)
	task.LastHeartbeat = parseNullableTime(heartbeatRaw)
	if created, err := parseTime(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTime(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

// timeString uses a fixed-width fraction so stored timestamps compare
// correctly as strings in SQL.
func timeString(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeString(*t)
}
