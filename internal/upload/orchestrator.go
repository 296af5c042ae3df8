package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cadence/internal/config"
	"cadence/internal/fileutil"
	"cadence/internal/lifecycle"
	"cadence/internal/logging"
	"cadence/internal/taskqueue"
	"cadence/internal/track"
)

// BatchResult summarizes the asynchronous dispatch path.
type BatchResult struct {
	BatchID string   `json:"batch_id"`
	Queued  int      `json:"queued"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// TrackResult is one synchronous upload outcome.
type TrackResult struct {
	TrackID int64  `json:"track_id"`
	VideoID string `json:"video_id,omitempty"`
	Err     string `json:"error,omitempty"`
}

// SyncResult summarizes the synchronous path for small batches.
type SyncResult struct {
	BatchID   string        `json:"batch_id"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Results   []TrackResult `json:"results"`
	Errors    []string      `json:"errors"`
}

// Orchestrator schedules batched uploads: it gates eligibility per track,
// staggers asynchronous dispatch, and bounds per-track retries with linear
// backoff.
type Orchestrator struct {
	store    *track.Store
	manager  *lifecycle.Manager
	gateway  *taskqueue.Gateway
	uploader Uploader
	logger   *slog.Logger

	maxAttempts  int
	retryDelay   time.Duration
	delayBetween time.Duration
	pause        time.Duration
	privacy      string
	categoryID   string

	titleCaser cases.Caser
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(cfg *config.Config, store *track.Store, manager *lifecycle.Manager, gateway *taskqueue.Gateway, uploader Uploader, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:        store,
		manager:      manager,
		gateway:      gateway,
		uploader:     uploader,
		logger:       logging.WithComponent(logger, "upload"),
		maxAttempts:  cfg.Upload.MaxAttempts,
		retryDelay:   time.Duration(cfg.Upload.RetryDelay) * time.Second,
		delayBetween: time.Duration(cfg.Upload.StaggerSeconds) * time.Second,
		pause:        time.Duration(cfg.Upload.PauseSeconds) * time.Second,
		privacy:      cfg.Upload.Privacy,
		categoryID:   cfg.Upload.CategoryID,
		titleCaser:   cases.Title(language.English),
	}
}

// eligibility reasons are returned verbatim to callers, so they stay stable.
func eligibilityReason(t *track.Track) string {
	if t.Status != track.StatusCompleted {
		return fmt.Sprintf("track %d is %s, not completed", t.ID, t.Status)
	}
	if t.VideoID != "" {
		return fmt.Sprintf("track %d already uploaded to YouTube", t.ID)
	}
	if !t.UploadEnabled {
		return fmt.Sprintf("track %d has uploads disabled", t.ID)
	}
	if t.VideoFile == "" {
		return fmt.Sprintf("track %d has no video artifact recorded", t.ID)
	}
	if !fileutil.Exists(t.VideoFile) {
		return fmt.Sprintf("track %d video file missing on disk: %s", t.ID, t.VideoFile)
	}
	return ""
}

// QueueBatch dispatches upload tasks for the eligible tracks, staggering the
// i-th task's eligibility to base + i*delayBetween. Ineligible tracks are
// skipped with a per-track reason, never silently dropped.
func (o *Orchestrator) QueueBatch(ctx context.Context, ids []int64, account string) (BatchResult, error) {
	eligible, result := o.gate(ctx, ids)
	br := BatchResult{Queued: 0, Skipped: result.Skipped, Errors: result.Errors}
	if len(eligible) == 0 {
		return br, nil
	}

	run, err := o.store.CreateBatchRun(ctx, uuid.NewString(), len(eligible))
	if err != nil {
		return br, fmt.Errorf("create batch run: %w", err)
	}
	br.BatchID = run.ID

	base := time.Now().UTC()
	for i, t := range eligible {
		payload := taskqueue.Payload{
			TrackID: t.ID,
			Kind:    taskqueue.KindUpload,
			BatchID: run.ID,
			Account: account,
		}
		notBefore := base.Add(time.Duration(i) * o.delayBetween)
		if _, err := o.gateway.Dispatch(ctx, taskqueue.QueueUpload, payload, notBefore); err != nil {
			br.Errors = append(br.Errors, fmt.Sprintf("track %d: dispatch failed: %v", t.ID, err))
			br.Skipped++
			continue
		}
		br.Queued++
	}

	o.logger.Info("batch queued",
		logging.String(logging.FieldBatchID, run.ID),
		slog.Int("queued", br.Queued),
		slog.Int("skipped", br.Skipped),
	)
	return br, nil
}

// RunBatchSync uploads the eligible tracks in the calling goroutine with a
// fixed pause between uploads. Reserved for small batches.
func (o *Orchestrator) RunBatchSync(ctx context.Context, ids []int64, account string) (SyncResult, error) {
	eligible, gated := o.gate(ctx, ids)
	result := SyncResult{Skipped: gated.Skipped, Errors: gated.Errors}
	if len(eligible) == 0 {
		return result, nil
	}

	run, err := o.store.CreateBatchRun(ctx, uuid.NewString(), len(eligible))
	if err != nil {
		return result, fmt.Errorf("create batch run: %w", err)
	}
	result.BatchID = run.ID

	for i, t := range eligible {
		if i > 0 {
			if err := sleepCtx(ctx, o.pause); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("batch interrupted: %v", err))
				return result, nil
			}
		}
		if cancelled, err := o.store.BatchCancelled(ctx, run.ID); err == nil && cancelled {
			result.Errors = append(result.Errors, fmt.Sprintf("batch %s cancelled before track %d", run.ID, t.ID))
			return result, nil
		}

		videoID, err := o.UploadTrack(ctx, t, account)
		if err != nil {
			result.Failed++
			result.Results = append(result.Results, TrackResult{TrackID: t.ID, Err: err.Error()})
			result.Errors = append(result.Errors, fmt.Sprintf("track %d: %v", t.ID, err))
			o.recordOutcome(ctx, run.ID, false)
			continue
		}
		result.Succeeded++
		result.Results = append(result.Results, TrackResult{TrackID: t.ID, VideoID: videoID})
		o.recordOutcome(ctx, run.ID, true)
	}
	return result, nil
}

// UploadTrack performs the bounded retry loop for one track: up to
// maxAttempts attempts with retryDelay*attempt between them. The final
// attempt's failure is returned, not swallowed. On success the track is
// transitioned to uploaded through the lifecycle manager.
func (o *Orchestrator) UploadTrack(ctx context.Context, t *track.Track, account string) (string, error) {
	req := Request{
		FilePath:   t.VideoFile,
		Title:      o.titleCaser.String(t.Title),
		Privacy:    o.privacy,
		CategoryID: o.categoryID,
		Account:    account,
	}

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		videoID, err := o.uploader.Upload(ctx, req)
		if err == nil {
			outcome, err := o.manager.CompleteUpload(ctx, t.ID, videoID)
			if err != nil {
				return "", fmt.Errorf("record upload for track %d: %w", t.ID, err)
			}
			if outcome.Blocked {
				return "", fmt.Errorf("track %d: %s", t.ID, outcome.Reason)
			}
			return videoID, nil
		}

		lastErr = err
		o.logger.Warn("upload attempt failed",
			logging.Int64(logging.FieldTrackID, t.ID),
			slog.Int("attempt", attempt),
			logging.Error(err),
		)
		if attempt < o.maxAttempts {
			if err := sleepCtx(ctx, o.retryDelay*time.Duration(attempt)); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("upload failed after %d attempts: %w", o.maxAttempts, lastErr)
}

// ExecuteTask runs one dispatched upload task. Workers call this after
// claiming; the batch cancellation flag and full eligibility gate are
// re-checked here because dispatch-time state may be stale.
func (o *Orchestrator) ExecuteTask(ctx context.Context, payload taskqueue.Payload) error {
	if payload.BatchID != "" {
		cancelled, err := o.store.BatchCancelled(ctx, payload.BatchID)
		if err != nil {
			return err
		}
		if cancelled {
			o.logger.Info("skipping cancelled batch member",
				logging.String(logging.FieldBatchID, payload.BatchID),
				logging.Int64(logging.FieldTrackID, payload.TrackID),
			)
			return nil
		}
	}

	t, err := o.store.GetByID(ctx, payload.TrackID)
	if err != nil {
		return err
	}
	if t == nil {
		o.logger.Warn("upload task references missing track", logging.Int64(logging.FieldTrackID, payload.TrackID))
		return nil
	}
	if reason := eligibilityReason(t); reason != "" {
		o.logger.Info("upload task skipped", logging.Int64(logging.FieldTrackID, t.ID), logging.String("reason", reason))
		if payload.BatchID != "" {
			o.recordOutcome(ctx, payload.BatchID, false)
		}
		return nil
	}

	_, err = o.UploadTrack(ctx, t, payload.Account)
	if payload.BatchID != "" {
		o.recordOutcome(ctx, payload.BatchID, err == nil)
	}
	return err
}

// Cancel marks a batch run cancelled. Members that have not started observe
// the flag and skip; in-flight uploads run to completion.
func (o *Orchestrator) Cancel(ctx context.Context, batchID string) (bool, error) {
	cancelled, err := o.store.CancelBatchRun(ctx, batchID)
	if err != nil {
		return false, err
	}
	if cancelled {
		o.logger.Info("batch cancelled", logging.String(logging.FieldBatchID, batchID))
	}
	return cancelled, nil
}

func (o *Orchestrator) gate(ctx context.Context, ids []int64) ([]*track.Track, SyncResult) {
	var eligible []*track.Track
	result := SyncResult{}
	for _, id := range ids {
		t, err := o.store.GetByID(ctx, id)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("track %d: %v", id, err))
			continue
		}
		if t == nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("track %d not found", id))
			continue
		}
		if reason := eligibilityReason(t); reason != "" {
			result.Skipped++
			result.Errors = append(result.Errors, reason)
			continue
		}
		eligible = append(eligible, t)
	}
	return eligible, result
}

func (o *Orchestrator) recordOutcome(ctx context.Context, batchID string, succeeded bool) {
	if err := o.store.RecordBatchOutcome(ctx, batchID, succeeded); err != nil {
		o.logger.Warn("batch outcome record failed", logging.String(logging.FieldBatchID, batchID), logging.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
