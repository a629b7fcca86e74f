package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-practice/internal/archive"
	"github.com/skypro1111/voice-practice/internal/audio"
	"github.com/skypro1111/voice-practice/internal/config"
	"github.com/skypro1111/voice-practice/internal/evaluation"
	"github.com/skypro1111/voice-practice/internal/failure"
	"github.com/skypro1111/voice-practice/internal/history"
	"github.com/skypro1111/voice-practice/internal/metrics"
	"github.com/skypro1111/voice-practice/internal/session"
)

const defaultHistoryLimit = 20

// Controller drives a practice session
type Controller interface {
	Start(ctx context.Context) (*session.Run, error)
	Stop(ctx context.Context) error
	Toggle(ctx context.Context) (*session.Run, error)
	Replay() (*session.Run, error)
	Cancel()
	LastRecording() *audio.RecordingSession
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
}

// EvaluationStats reports evaluation client counters
type EvaluationStats interface {
	GetStats() evaluation.ClientStats
}

// ArchiveStats reports archive upload counters
type ArchiveStats interface {
	GetStats() archive.Stats
}

// Deps holds what the HTTP server exposes. History, Archive and Metrics
// may be nil.
type Deps struct {
	Config     *config.Config
	Controller Controller
	Evaluation EvaluationStats
	History    history.Repository
	Archive    ArchiveStats
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// HTTPServer provides the control and monitoring API
type HTTPServer struct {
	server *http.Server
	deps   Deps
	logger *slog.Logger

	startTime time.Time
}

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error string       `json:"error"`
	Kind  failure.Kind `json:"kind,omitempty"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, deps Deps) *HTTPServer {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		deps:      deps,
		logger:    deps.Logger,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Routes returns the API router
func (h *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Metrics endpoint and the event stream are not instrumented
	r.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/session/events", h.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(h.withMetrics)

		r.Get("/", h.handleRoot)
		r.Get("/health", h.handleHealth)
		r.Get("/config", h.handleConfig)
		r.Get("/stats", h.handleStats)
		r.Get("/history", h.handleHistory)

		r.Get("/session", h.handleSnapshot)
		r.Post("/session/start", h.handleStart)
		r.Post("/session/stop", h.handleStop)
		r.Post("/session/toggle", h.handleToggle)
		r.Post("/session/replay", h.handleReplay)
		r.Get("/session/recording", h.handleLastRecording)
		r.Post("/session/cancel", h.handleCancel)
	})

	return r
}

// withMetrics records request counts and latency per route pattern
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		startTime := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(status), time.Since(startTime).Seconds())

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	})
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := h.deps.Controller.Snapshot()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voice-practice",
			"version": "1.0.0",
		},
		"session": map[string]interface{}{
			"state": snapshot.State,
			"busy":  snapshot.Busy(),
		},
	}

	writeJSON(w, http.StatusOK, health)
}

func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Config.Redacted())
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"session":   h.deps.Controller.Snapshot(),
	}

	if h.deps.Evaluation != nil {
		stats["evaluation"] = h.deps.Evaluation.GetStats()
	}

	if h.deps.Archive != nil {
		stats["archive"] = h.deps.Archive.GetStats()
	}

	if h.deps.History != nil {
		historyStats, err := h.deps.History.GetStats()
		if err != nil {
			h.writeError(w, fmt.Errorf("failed to load history stats: %w", err))
			return
		}
		stats["history"] = historyStats
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history is disabled"})
		return
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "since must be an RFC 3339 timestamp"})
			return
		}
		h.writeHistory(w, func() ([]history.AttemptRecord, error) {
			return h.deps.History.GetAttemptsSince(since)
		})
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	h.writeHistory(w, func() ([]history.AttemptRecord, error) {
		return h.deps.History.GetRecentAttempts(limit)
	})
}

// writeHistory writes the attempts returned by list with the overall stats
func (h *HTTPServer) writeHistory(w http.ResponseWriter, list func() ([]history.AttemptRecord, error)) {
	attempts, err := list()
	if err != nil {
		h.writeError(w, fmt.Errorf("failed to load attempts: %w", err))
		return
	}

	stats, err := h.deps.History.GetStats()
	if err != nil {
		h.writeError(w, fmt.Errorf("failed to load history stats: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attempts":   attempts,
		"best_score": stats.BestScore,
		"stats":      stats,
	})
}

func (h *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Controller.Snapshot())
}

func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if _, err := h.deps.Controller.Start(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.deps.Controller.Snapshot())
}

func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Controller.Stop(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.deps.Controller.Snapshot())
}

func (h *HTTPServer) handleToggle(w http.ResponseWriter, r *http.Request) {
	if _, err := h.deps.Controller.Toggle(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.deps.Controller.Snapshot())
}

func (h *HTTPServer) handleReplay(w http.ResponseWriter, r *http.Request) {
	if _, err := h.deps.Controller.Replay(); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.deps.Controller.Snapshot())
}

func (h *HTTPServer) handleLastRecording(w http.ResponseWriter, r *http.Request) {
	recording := h.deps.Controller.LastRecording()
	if recording == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no recording yet"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recording":        recording,
		"duration_seconds": recording.Duration().Seconds(),
	})
}

func (h *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.deps.Controller.Cancel()
	writeJSON(w, http.StatusOK, h.deps.Controller.Snapshot())
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Voice Practice Client",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                  "API documentation",
			"GET /health":            "Service health check",
			"GET /config":            "Configuration with secrets removed",
			"GET /stats":             "Evaluation, archive and history statistics",
			"GET /history":           "Recent attempts (?limit=N or ?since=RFC3339) and best score",
			"GET /session":           "Current session snapshot",
			"GET /session/events":    "Websocket stream of session snapshots",
			"POST /session/start":    "Start recording",
			"POST /session/stop":     "Stop recording and upload, or stop playback",
			"POST /session/toggle":   "Start when idle, stop otherwise",
			"POST /session/replay":   "Play the last response again",
			"GET /session/recording": "Last finished recording",
			"POST /session/cancel":   "Abandon the current attempt",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

// writeError maps err to a status code and writes it as JSON
func (h *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error("Request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: failure.KindOf(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNothingToReplay):
		return http.StatusNotFound
	}

	switch failure.KindOf(err) {
	case failure.KindConcurrentUploadRejected:
		return http.StatusConflict
	case failure.KindPermissionDenied:
		return http.StatusForbidden
	case failure.KindTransportError:
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
