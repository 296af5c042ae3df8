package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a thin HTTP client for the daemon's management API.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient builds a client for the daemon at addr (host:port or URL).
func NewClient(addr, token string) *Client {
	base := strings.TrimSpace(addr)
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// ListTracks fetches tracks, optionally filtered by status.
func (c *Client) ListTracks(ctx context.Context, statuses ...string) (TrackListResponse, error) {
	path := "/api/tracks"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var out TrackListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetTrack fetches one track.
func (c *Client) GetTrack(ctx context.Context, id int64) (TrackItemResponse, error) {
	var out TrackItemResponse
	err := c.do(ctx, http.MethodGet, "/api/tracks/"+strconv.FormatInt(id, 10), nil, &out)
	return out, err
}

// StartTrack requests a track start.
func (c *Client) StartTrack(ctx context.Context, id int64, force bool) (LifecycleResponse, error) {
	path := fmt.Sprintf("/api/tracks/%d/start", id)
	if force {
		path += "?force=1"
	}
	var out LifecycleResponse
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// StopTrack requests a track stop.
func (c *Client) StopTrack(ctx context.Context, id int64) (LifecycleResponse, error) {
	var out LifecycleResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tracks/%d/stop", id), nil, &out)
	return out, err
}

// RetryTrack requests a track retry.
func (c *Client) RetryTrack(ctx context.Context, id int64) (LifecycleResponse, error) {
	var out LifecycleResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tracks/%d/retry", id), nil, &out)
	return out, err
}

// QueueStats fetches per-queue statistics.
func (c *Client) QueueStats(ctx context.Context) (QueueStatsResponse, error) {
	var out QueueStatsResponse
	err := c.do(ctx, http.MethodGet, "/api/queues/stats", nil, &out)
	return out, err
}

// QueueHealth fetches the gateway health report.
func (c *Client) QueueHealth(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/api/queues/health", nil, &out)
	return out, err
}

// ListDead fetches the dead-letter set.
func (c *Client) ListDead(ctx context.Context) (DeadTaskListResponse, error) {
	var out DeadTaskListResponse
	err := c.do(ctx, http.MethodGet, "/api/queues/dead", nil, &out)
	return out, err
}

// RetryDead re-enqueues dead tasks (all when ids is empty).
func (c *Client) RetryDead(ctx context.Context, ids []string) (CountResponse, error) {
	var out CountResponse
	err := c.do(ctx, http.MethodPost, "/api/queues/retry", DeadLetterRequest{IDs: ids}, &out)
	return out, err
}

// ClearDead discards dead tasks (all when ids is empty).
func (c *Client) ClearDead(ctx context.Context, ids []string) (CountResponse, error) {
	var out CountResponse
	err := c.do(ctx, http.MethodPost, "/api/queues/clear", DeadLetterRequest{IDs: ids}, &out)
	return out, err
}

// QueueBatch dispatches an upload batch.
func (c *Client) QueueBatch(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	var out BatchResponse
	err := c.do(ctx, http.MethodPost, "/api/batches", req, &out)
	return out, err
}

// ListBatches fetches recent batch runs.
func (c *Client) ListBatches(ctx context.Context) (BatchRunListResponse, error) {
	var out BatchRunListResponse
	err := c.do(ctx, http.MethodGet, "/api/batches", nil, &out)
	return out, err
}

// CancelBatch cancels a batch run.
func (c *Client) CancelBatch(ctx context.Context, id string) (CancelResponse, error) {
	var out CancelResponse
	err := c.do(ctx, http.MethodPost, "/api/batches/"+url.PathEscape(id)+"/cancel", nil, &out)
	return out, err
}

// ListEvents fetches the webhook audit log.
func (c *Client) ListEvents(ctx context.Context, provider string, limit int) (WebhookEventListResponse, error) {
	values := url.Values{}
	if provider != "" {
		values.Set("provider", provider)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/events"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out WebhookEventListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("daemon address not configured")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
