package track

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a track.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusStopped    Status = "stopped"
	StatusUploaded   Status = "uploaded"
)

// StopReason is the error message set when a user explicitly stops a track.
const StopReason = "manually stopped"

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusStopped,
	StatusUploaded,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Track is the unit of media work carried through the lifecycle state machine.
// Status is owned exclusively by the lifecycle manager; other components read
// it and request transitions through the store's conditional updates.
type Track struct {
	ID            int64
	Title         string
	Fingerprint   string
	Status        Status
	Progress      int
	ErrorMessage  string
	AudioFile     string
	ImageFile     string
	VideoFile     string
	VideoID       string
	UploadedAt    *time.Time
	UploadEnabled bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsActive reports whether the track is queued or in flight.
func (t *Track) IsActive() bool {
	return t.Status == StatusPending || t.Status == StatusProcessing
}

// IsTerminal reports whether the status ends the current lifecycle pass.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped, StatusUploaded:
		return true
	default:
		return false
	}
}

// StatsSummary aggregates track counts per lifecycle state.
type StatsSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Stopped    int
	Uploaded   int
}

// BatchRun groups the upload tasks created by one orchestration call.
// It becomes immutable once every member is terminal or the run is cancelled.
type BatchRun struct {
	ID        string
	Total     int
	Succeeded int
	Failed    int
	Cancelled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Done reports whether every member of the run reached a terminal outcome.
func (b *BatchRun) Done() bool {
	return b.Succeeded+b.Failed >= b.Total
}

// WebhookEvent is an immutable append-only audit record of an inbound event.
type WebhookEvent struct {
	ID         int64
	Provider   string
	Payload    []byte
	SourceIP   string
	UserAgent  string
	ReceivedAt time.Time
}
