package taskqueue

import (
	"context"
	"errors"
	"time"
)

// ErrNoTask is returned by Claim when no eligible task is available.
var ErrNoTask = errors.New("no eligible task")

// Broker is the queue backend contract: enqueue, claim/reserve, ack/fail,
// and dead-letter semantics. Delivery is at-least-once; handlers must be
// idempotent.
type Broker interface {
	// Enqueue stores a new pending task.
	Enqueue(ctx context.Context, task *Task) error
	// Claim reserves the oldest eligible pending task on a queue.
	// Returns ErrNoTask when nothing is eligible.
	Claim(ctx context.Context, queue string) (*Task, error)
	// Heartbeat refreshes the liveness timestamp of a claimed task.
	Heartbeat(ctx context.Context, id string) error
	// Ack removes a completed task.
	Ack(ctx context.Context, id string) error
	// Fail records a failed attempt: the task returns to pending until its
	// attempts are exhausted, then moves to the dead-letter set.
	Fail(ctx context.Context, id string, reason string) error
	// Counts returns the broker's bookkeeping for one queue.
	Counts(ctx context.Context, queue string) (Counts, error)
	// Queues lists every queue name the broker has seen.
	Queues(ctx context.Context) ([]string, error)
	// ListDead returns dead-letter tasks, optionally narrowed to a queue.
	ListDead(ctx context.Context, queue string) ([]*Task, error)
	// RetryDead re-enqueues one dead task with its attempt count reset.
	RetryDead(ctx context.Context, id string) error
	// ClearDead permanently discards one dead task.
	ClearDead(ctx context.Context, id string) error
	// StaleClaims counts claimed tasks whose heartbeat predates cutoff.
	StaleClaims(ctx context.Context, queue string, cutoff time.Time) (int, error)
	// ReclaimStale returns stale claimed tasks to pending and reports how
	// many were reclaimed.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}
