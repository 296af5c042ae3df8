package api

import (
	"time"

	"cadence/internal/taskqueue"
	"cadence/internal/track"
)

// DaemonStatus reports daemon runtime information.
type DaemonStatus struct {
	Running      bool              `json:"running"`
	PID          int               `json:"pid"`
	TrackDBPath  string            `json:"track_db_path"`
	LockFilePath string            `json:"lock_file_path"`
	Tracks       TrackStatsSummary `json:"tracks"`
	Queues       []taskqueue.Stats `json:"queues"`
	Health       taskqueue.Health  `json:"health"`
}

// TrackStatsSummary aggregates track counts per lifecycle state.
type TrackStatsSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Stopped    int `json:"stopped"`
	Uploaded   int `json:"uploaded"`
}

// TrackItem is the wire representation of one track.
type TrackItem struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	AudioFile     string     `json:"audio_file,omitempty"`
	ImageFile     string     `json:"image_file,omitempty"`
	VideoFile     string     `json:"video_file,omitempty"`
	VideoID       string     `json:"video_id,omitempty"`
	UploadedAt    *time.Time `json:"uploaded_at,omitempty"`
	UploadEnabled bool       `json:"upload_enabled"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TrackListResponse wraps a track listing.
type TrackListResponse struct {
	Items []TrackItem `json:"items"`
}

// TrackItemResponse wraps a single track.
type TrackItemResponse struct {
	Item TrackItem `json:"item"`
}

// LifecycleResponse reports a lifecycle request outcome.
type LifecycleResponse struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

// QueueStatsResponse wraps per-queue statistics.
type QueueStatsResponse struct {
	Queues []taskqueue.Stats `json:"queues"`
}

// DeadTaskItem is the wire representation of one dead-letter task.
type DeadTaskItem struct {
	ID        string    `json:"id"`
	Queue     string    `json:"queue"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DeadTaskListResponse wraps the dead-letter set.
type DeadTaskListResponse struct {
	Items []DeadTaskItem `json:"items"`
}

// DeadLetterRequest selects dead tasks to retry or clear. Empty IDs means
// every dead task.
type DeadLetterRequest struct {
	IDs []string `json:"ids,omitempty"`
}

// CountResponse reports how many items an operation affected.
type CountResponse struct {
	Count int `json:"count"`
}

// BatchRequest asks for an upload batch over the given tracks.
type BatchRequest struct {
	TrackIDs []int64 `json:"track_ids"`
	Account  string  `json:"account,omitempty"`
}

// BatchResponse reports asynchronous batch dispatch results.
type BatchResponse struct {
	BatchID string   `json:"batch_id,omitempty"`
	Queued  int      `json:"queued"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// BatchRunItem is the wire representation of one batch run.
type BatchRunItem struct {
	ID        string    `json:"id"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Cancelled bool      `json:"cancelled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchRunListResponse wraps a batch run listing.
type BatchRunListResponse struct {
	Items []BatchRunItem `json:"items"`
}

// CancelResponse reports whether a cancel request changed anything.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// WebhookResponse is returned by webhook endpoints on accepted events.
type WebhookResponse struct {
	Processed bool      `json:"processed"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookEventItem is one audit log entry.
type WebhookEventItem struct {
	ID         int64     `json:"id"`
	Provider   string    `json:"provider"`
	Payload    string    `json:"payload"`
	SourceIP   string    `json:"source_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// WebhookEventListResponse wraps the audit log listing.
type WebhookEventListResponse struct {
	Items []WebhookEventItem `json:"items"`
}

// FromTrack converts a store track into its wire form.
func FromTrack(t *track.Track) TrackItem {
	return TrackItem{
		ID:            t.ID,
		Title:         t.Title,
		Status:        string(t.Status),
		Progress:      t.Progress,
		ErrorMessage:  t.ErrorMessage,
		AudioFile:     t.AudioFile,
		ImageFile:     t.ImageFile,
		VideoFile:     t.VideoFile,
		VideoID:       t.VideoID,
		UploadedAt:    t.UploadedAt,
		UploadEnabled: t.UploadEnabled,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// FromStatsSummary converts store track statistics into wire form.
func FromStatsSummary(s track.StatsSummary) TrackStatsSummary {
	return TrackStatsSummary{
		Total:      s.Total,
		Pending:    s.Pending,
		Processing: s.Processing,
		Completed:  s.Completed,
		Failed:     s.Failed,
		Stopped:    s.Stopped,
		Uploaded:   s.Uploaded,
	}
}

// FromBatchRun converts a store batch run into wire form.
func FromBatchRun(run *track.BatchRun) BatchRunItem {
	return BatchRunItem{
		ID:        run.ID,
		Total:     run.Total,
		Succeeded: run.Succeeded,
		Failed:    run.Failed,
		Cancelled: run.Cancelled,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
}

// FromDeadTask converts a broker task into wire form.
func FromDeadTask(t *taskqueue.Task) DeadTaskItem {
	return DeadTaskItem{
		ID:        t.ID,
		Queue:     t.Queue,
		Attempts:  t.Attempts,
		LastError: t.LastError,
		CreatedAt: t.CreatedAt,
	}
}

// FromWebhookEvent converts an audit log entry into wire form.
func FromWebhookEvent(e *track.WebhookEvent) WebhookEventItem {
	return WebhookEventItem{
		ID:         e.ID,
		Provider:   e.Provider,
		Payload:    string(e.Payload),
		SourceIP:   e.SourceIP,
		UserAgent:  e.UserAgent,
		ReceivedAt: e.ReceivedAt,
	}
}
