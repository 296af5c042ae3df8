package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"cadence/internal/api"
	"cadence/internal/config"
	"cadence/internal/lifecycle"
	"cadence/internal/logging"
	"cadence/internal/services"
	"cadence/internal/track"
	"cadence/internal/webhook"
)

const maxWebhookBody = 1 << 20

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	youtubeSecret   string
	generatorSecret string

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:            bind,
		token:           cfg.Paths.APIToken,
		logger:          logger,
		daemon:          d,
		youtubeSecret:   cfg.Webhooks.YouTubeSecret,
		generatorSecret: cfg.Webhooks.GeneratorSecret,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(srv.token, srv.handleStatus))
	mux.HandleFunc("/api/tracks", authMiddleware(srv.token, srv.handleTracks))
	mux.HandleFunc("/api/tracks/", authMiddleware(srv.token, srv.handleTrackItem))
	mux.HandleFunc("/api/queues/stats", authMiddleware(srv.token, srv.handleQueueStats))
	mux.HandleFunc("/api/queues/health", authMiddleware(srv.token, srv.handleQueueHealth))
	mux.HandleFunc("/api/queues/dead", authMiddleware(srv.token, srv.handleDeadList))
	mux.HandleFunc("/api/queues/retry", authMiddleware(srv.token, srv.handleDeadRetry))
	mux.HandleFunc("/api/queues/clear", authMiddleware(srv.token, srv.handleDeadClear))
	mux.HandleFunc("/api/batches", authMiddleware(srv.token, srv.handleBatches))
	mux.HandleFunc("/api/batches/", authMiddleware(srv.token, srv.handleBatchItem))
	mux.HandleFunc("/api/events", authMiddleware(srv.token, srv.handleEvents))
	// Webhook endpoints authenticate through signatures, not bearer tokens.
	mux.HandleFunc("/webhooks/", srv.handleWebhook)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	summary, err := s.daemon.store.Stats(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.daemon.gateway.StatsAll(ctx)
	if err != nil {
		s.log().Warn("queue stats unavailable", logging.Error(err))
	}

	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      s.daemon.Running(),
		PID:          os.Getpid(),
		TrackDBPath:  s.daemon.TrackDBPath(),
		LockFilePath: s.daemon.LockFilePath(),
		Tracks:       api.FromStatsSummary(summary),
		Queues:       stats,
		Health:       s.daemon.gateway.Health(ctx),
	})
}

func (s *apiServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var statuses []track.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := track.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}

	tracks, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]api.TrackItem, 0, len(tracks))
	for _, t := range tracks {
		items = append(items, api.FromTrack(t))
	}
	s.writeJSON(w, http.StatusOK, api.TrackListResponse{Items: items})
}

// handleTrackItem serves /api/tracks/{id} and the lifecycle actions
// /api/tracks/{id}/{start|stop|retry}.
func (s *apiServer) handleTrackItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tracks/")
	idStr, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid track id")
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		t, err := s.daemon.store.GetByID(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if t == nil {
			s.writeError(w, http.StatusNotFound, "track not found")
			return
		}
		s.writeJSON(w, http.StatusOK, api.TrackItemResponse{Item: api.FromTrack(t)})
		return
	}

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleLifecycleAction(w, r, id, action)
}

func (s *apiServer) handleLifecycleAction(w http.ResponseWriter, r *http.Request, id int64, action string) {
	ctx := r.Context()
	manager := s.daemon.manager

	var (
		outcome lifecycle.Outcome
		err     error
	)
	switch action {
	case "start":
		force := r.URL.Query().Get("force") == "1" || strings.EqualFold(r.URL.Query().Get("force"), "true")
		outcome, err = manager.Start(ctx, id, force)
	case "stop":
		outcome, err = manager.Stop(ctx, id)
	case "retry":
		outcome, err = manager.Retry(ctx, id)
	default:
		s.writeError(w, http.StatusNotFound, "unknown track action")
		return
	}

	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "track not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response := api.LifecycleResponse{Blocked: outcome.Blocked, Reason: outcome.Reason}
	if outcome.Task != nil {
		response.TaskID = outcome.Task.ID
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *apiServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.daemon.gateway.StatsAll(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueStatsResponse{Queues: stats})
}

func (s *apiServer) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.gateway.Health(r.Context()))
}

func (s *apiServer) handleDeadList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	dead, err := s.daemon.gateway.ListDead(r.Context(), strings.TrimSpace(r.URL.Query().Get("queue")))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]api.DeadTaskItem, 0, len(dead))
	for _, task := range dead {
		items = append(items, api.FromDeadTask(task))
	}
	s.writeJSON(w, http.StatusOK, api.DeadTaskListResponse{Items: items})
}

func (s *apiServer) handleDeadRetry(w http.ResponseWriter, r *http.Request) {
	s.handleDeadAction(w, r, s.daemon.gateway.RetryFailed)
}

func (s *apiServer) handleDeadClear(w http.ResponseWriter, r *http.Request) {
	s.handleDeadAction(w, r, s.daemon.gateway.ClearFailed)
}

func (s *apiServer) handleDeadAction(w http.ResponseWriter, r *http.Request, action func(context.Context, ...string) (int, error)) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.DeadLetterRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count, err := action(r.Context(), req.IDs...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.CountResponse{Count: count})
}

func (s *apiServer) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		runs, err := s.daemon.store.ListBatchRuns(r.Context(), 50)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		items := make([]api.BatchRunItem, 0, len(runs))
		for _, run := range runs {
			items = append(items, api.FromBatchRun(run))
		}
		s.writeJSON(w, http.StatusOK, api.BatchRunListResponse{Items: items})
	case http.MethodPost:
		if s.daemon.orchestrator == nil {
			s.writeError(w, http.StatusServiceUnavailable, "upload orchestrator unavailable")
			return
		}
		var req api.BatchRequest
		if err := decodeJSONBody(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.TrackIDs) == 0 {
			s.writeError(w, http.StatusBadRequest, "track_ids is required")
			return
		}
		account := req.Account
		if account == "" {
			account = s.daemon.cfg.Upload.Account
		}
		result, err := s.daemon.orchestrator.QueueBatch(r.Context(), req.TrackIDs, account)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.BatchResponse{
			BatchID: result.BatchID,
			Queued:  result.Queued,
			Skipped: result.Skipped,
			Errors:  result.Errors,
		})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleBatchItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/batches/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "cancel" {
		s.writeError(w, http.StatusNotFound, "unknown batch action")
		return
	}
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemon.orchestrator == nil {
		s.writeError(w, http.StatusServiceUnavailable, "upload orchestrator unavailable")
		return
	}
	cancelled, err := s.daemon.orchestrator.Cancel(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.CancelResponse{Cancelled: cancelled})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.daemon.store.ListWebhookEvents(r.Context(), strings.TrimSpace(r.URL.Query().Get("provider")), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]api.WebhookEventItem, 0, len(events))
	for _, event := range events {
		items = append(items, api.FromWebhookEvent(event))
	}
	s.writeJSON(w, http.StatusOK, api.WebhookEventListResponse{Items: items})
}

// handleWebhook serves POST /webhooks/{provider}. The raw body is verified
// against the provider's shared secret before ingestion; a bad signature is
// rejected without touching any state.
func (s *apiServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemon.pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "webhook pipeline unavailable")
		return
	}

	provider := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhooks/"), "/")
	var secret string
	switch provider {
	case webhook.ProviderYouTube:
		secret = s.youtubeSecret
	case webhook.ProviderGenerator:
		secret = s.generatorSecret
	default:
		s.writeError(w, http.StatusNotFound, "unknown webhook provider")
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	if !webhook.Verify(rawBody, r.Header.Get("X-Signature"), secret) {
		s.log().Warn("webhook signature rejected", logging.String(logging.FieldProvider, provider))
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	sourceIP := r.RemoteAddr
	if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
		sourceIP = host
	}

	result, err := s.daemon.pipeline.Ingest(r.Context(), provider, rawBody, sourceIP, r.UserAgent())
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.WebhookResponse{
		Processed: result.Processed,
		EventType: result.EventType,
		Timestamp: result.Timestamp,
	})
}

func decodeJSONBody(r *http.Request, out any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody))
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	return logging.WithComponent(s.logger, "api-server")
}
