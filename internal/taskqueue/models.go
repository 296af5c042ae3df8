package taskqueue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Well-known queue names.
const (
	QueueProcess = "process"
	QueueUpload  = "upload"
)

// Payload operation kinds.
const (
	KindProcess   = "process"
	KindUpload    = "upload"
	KindAnalytics = "analytics"
)

// State tracks a task through the broker.
type State string

const (
	// StatePending means the task is enqueued and unclaimed.
	StatePending State = "pending"
	// StateClaimed means a worker has reserved the task.
	StateClaimed State = "claimed"
	// StateDead means the task exhausted its attempts and sits in the
	// dead-letter set awaiting manual retry or clear.
	StateDead State = "dead"
)

// Payload references a track and the operation a worker should perform.
type Payload struct {
	TrackID int64  `json:"track_id"`
	Kind    string `json:"kind"`
	BatchID string `json:"batch_id,omitempty"`
	Account string `json:"account,omitempty"`
}

// Encode marshals the payload for the broker.
func (p Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals a broker payload.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// Task is one dispatched, retryable unit of asynchronous work. Acked tasks
// are removed from the broker; only dead tasks outlive their attempts.
type Task struct {
	ID            string
	Queue         string
	Payload       []byte
	State         State
	Attempts      int
	MaxAttempts   int
	NotBefore     *time.Time
	ClaimedAt     *time.Time
	LastHeartbeat *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Eligible reports whether the task may be claimed at the given time.
func (t *Task) Eligible(now time.Time) bool {
	if t.State != StatePending {
		return false
	}
	return t.NotBefore == nil || !now.Before(*t.NotBefore)
}

// Handle identifies a dispatched task to the caller.
type Handle struct {
	ID        string     `json:"id"`
	Queue     string     `json:"queue"`
	NotBefore *time.Time `json:"not_before,omitempty"`
}

// Counts is the broker's bookkeeping for one queue.
type Counts struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// Stats is the gateway's cached per-queue statistics view. Err is set when
// the broker could not be reached and the counts are zeroed placeholders.
type Stats struct {
	Queue    string `json:"queue"`
	Pending  int    `json:"pending"`
	InFlight int    `json:"in_flight"`
	Failed   int    `json:"failed"`
	Total    int    `json:"total"`
	Err      string `json:"error,omitempty"`
}

// HealthStatus grades the gateway's condition.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// worseOf returns the more severe of two statuses.
func worseOf(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthHealthy: 0, HealthDegraded: 1, HealthCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Health is the aggregate gateway health report: the worst grade across all
// per-queue checks plus a human-readable issue per finding.
type Health struct {
	Status HealthStatus `json:"status"`
	Issues []string     `json:"issues"`
}
