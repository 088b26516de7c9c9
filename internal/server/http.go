package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/config"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/metrics"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/session"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/task"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/transcript"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/transcription"
)

// Version is reported by the API index and health endpoints.
var Version = "1.0.0"

// Scheduler is the part of the pipeline the API drives.
type Scheduler interface {
	Cancel(id string) bool
	Trigger()
	Active() (string, bool)
}

// StatsSource reports transcription client statistics.
type StatsSource interface {
	GetStats() transcription.ClientStats
}

// Deps are the components served by the API. Scheduler, Stats, Metrics and
// Gatherer may be nil.
type Deps struct {
	Config    *config.Config
	Queue     *task.Queue
	Session   *session.Store
	Scheduler Scheduler
	Stats     StatsSource
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

// HTTPServer provides the HTTP API
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	deps    Deps

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps Deps) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.GetReadTimeoutDuration(),
		WriteTimeout: cfg.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler.
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))

	// Session endpoints
	mux.HandleFunc("POST /session", h.withMetrics("/session", h.handleLogin))
	mux.HandleFunc("GET /session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("DELETE /session", h.withMetrics("/session", h.handleLogout))

	// Task endpoints
	mux.HandleFunc("POST /tasks", h.withMetrics("/tasks", h.handleUpload))
	mux.HandleFunc("GET /tasks", h.withMetrics("/tasks", h.handleListTasks))
	mux.HandleFunc("GET /tasks/selected", h.withMetrics("/tasks/selected", h.handleSelected))
	mux.HandleFunc("GET /tasks/{id}", h.withMetrics("/tasks/{id}", h.handleGetTask))
	mux.HandleFunc("DELETE /tasks/{id}", h.withMetrics("/tasks/{id}", h.handleDeleteTask))
	mux.HandleFunc("POST /tasks/{id}/select", h.withMetrics("/tasks/{id}/select", h.handleSelect))
	mux.HandleFunc("GET /tasks/{id}/transcript", h.withMetrics("/tasks/{id}/transcript", h.handleTranscript))

	// Event endpoints
	mux.HandleFunc("GET /events", h.withMetrics("/events", h.handleEvents))
	mux.HandleFunc("GET /events/ws", h.handleEventStream)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Metrics == nil {
			handler(w, r)
			return
		}

		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Audio Transcription Service",
		"version": Version,
		"endpoints": map[string]interface{}{
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /config":                "Get service configuration",
			"GET /stats":                 "Get queue and transcription statistics",
			"GET /metrics":               "Prometheus metrics",
			"POST /session":              "Sign in with {\"email\": ...}",
			"GET /session":               "Current session",
			"DELETE /session":            "Sign out",
			"POST /tasks":                "Upload audio files (multipart field \"files\")",
			"GET /tasks":                 "List tasks in submission order",
			"GET /tasks/{id}":            "Get one task",
			"DELETE /tasks/{id}":         "Cancel and remove a task",
			"POST /tasks/{id}/select":    "Select the task being viewed",
			"GET /tasks/selected":        "Get the task being viewed",
			"GET /tasks/{id}/transcript": "Download the transcript (?format=json for segments)",
			"GET /events?since={seq}":    "Queue events after a sequence number",
			"GET /events/ws?since={seq}": "WebSocket stream of queue events",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	activeID, busy := "", false
	if h.deps.Scheduler != nil {
		activeID, busy = h.deps.Scheduler.Active()
	}

	components := map[string]interface{}{
		"queue": map[string]interface{}{
			"status": "running",
			"tasks":  h.deps.Queue.Len(),
		},
		"scheduler": map[string]interface{}{
			"status":      schedulerStatus(h.deps.Scheduler),
			"busy":        busy,
			"active_task": activeID,
		},
		"session": map[string]interface{}{
			"authenticated": h.deps.Session != nil && h.deps.Session.Authenticated(),
		},
	}
	if h.deps.Stats != nil {
		stats := h.deps.Stats.GetStats()
		components["transcription"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "audio-transcriber",
			"version": Version,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

func schedulerStatus(s Scheduler) string {
	if s == nil {
		return "disabled"
	}
	return "running"
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config == nil {
		writeError(w, http.StatusNotFound, "configuration unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Config.Sanitized())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := h.deps.Queue.Counts()
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"tasks": map[string]interface{}{
			"total":     h.deps.Queue.Len(),
			"by_status": byStatus,
		},
		"events": map[string]interface{}{
			"last_seq": h.deps.Queue.Events().LastSeq(),
		},
	}
	if h.deps.Stats != nil {
		stats["transcription"] = h.deps.Stats.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// sessionResponse is the body of the session endpoints.
type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
}

func (h *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.deps.Session == nil {
		writeError(w, http.StatusNotFound, "sessions are disabled")
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := h.deps.Session.Login(req.Email)
	if errors.Is(err, session.ErrInvalidEmail) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Login failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, Email: user.Email})
}

func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Session == nil {
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true})
		return
	}
	user, ok := h.deps.Session.Current()
	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: ok, Email: user.Email})
}

func (h *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if h.deps.Session == nil {
		writeError(w, http.StatusNotFound, "sessions are disabled")
		return
	}
	if err := h.deps.Session.Logout(); err != nil {
		h.logger.Error("Logout failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpload streams the "files" parts of a multipart request into new
// tasks. Parts larger than the size limit are counted but not kept.
func (h *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config != nil && h.deps.Config.HTTP.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.deps.Config.HTTP.MaxUploadBytes)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}

	limit := h.deps.Queue.MaxFileSize()
	var files []task.File

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err))
			return
		}

		if part.FormName() != "files" || part.FileName() == "" {
			part.Close()
			continue
		}

		file, err := readPart(part, limit)
		part.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s: %v", part.FileName(), err))
			return
		}
		files = append(files, file)
	}

	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files in field \"files\"")
		return
	}

	created := h.deps.Queue.Submit(files...)
	for _, t := range created {
		if h.deps.Metrics != nil {
			h.deps.Metrics.RecordTaskSubmitted(t.File.Size, t.Status == task.StatusError)
		}
		h.logger.Info("Task submitted",
			slog.String("task_id", t.ID),
			slog.String("file", t.File.Name),
			slog.Int64("size", t.File.Size),
			slog.String("status", string(t.Status)))
	}
	if h.deps.Scheduler != nil {
		h.deps.Scheduler.Trigger()
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"tasks": created})
}

// readPart reads one uploaded file. Content beyond limit is discarded and
// only its size is kept, so the task is created in Error.
func readPart(part *multipart.Part, limit int64) (task.File, error) {
	name := part.FileName()
	mimeType := part.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil && mt != "application/octet-stream" {
		mimeType = mt
	} else {
		mimeType = task.MimeTypeFor(name)
	}

	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return task.File{}, err
	}
	if int64(len(data)) <= limit {
		return task.NewFileFromBytes(name, mimeType, data), nil
	}

	rest, err := io.Copy(io.Discard, part)
	if err != nil {
		return task.File{}, err
	}
	return task.File{Name: name, MimeType: mimeType, Size: int64(len(data)) + rest}, nil
}

func (h *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.deps.Queue.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": len(tasks),
		"tasks": tasks,
	})
}

func (h *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.deps.Queue.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var removed bool
	if h.deps.Scheduler != nil {
		removed = h.deps.Scheduler.Cancel(id)
	} else {
		removed = h.deps.Queue.Remove(id)
		if removed && h.deps.Metrics != nil {
			h.deps.Metrics.RecordTaskRemoved()
		}
	}
	if !removed {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	h.logger.Info("Task removed", slog.String("task_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.Queue.Select(id); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	t, _ := h.deps.Queue.Get(id)
	writeJSON(w, http.StatusOK, t)
}

func (h *HTTPServer) handleSelected(w http.ResponseWriter, r *http.Request) {
	t, ok := h.deps.Queue.Selected()
	if !ok {
		writeError(w, http.StatusNotFound, "no task selected")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// segmentView is a transcript segment annotated with its text direction.
type segmentView struct {
	transcript.Segment
	RTL bool `json:"rtl"`
}

func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	t, ok := h.deps.Queue.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if t.Status != task.StatusSuccess || t.Result == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("task is %s, transcript not available", t.Status))
		return
	}

	filename := transcript.ExportFilename(t.File.Name)

	if r.URL.Query().Get("format") == "json" {
		segments := make([]segmentView, len(t.Result.Segments))
		for i, seg := range t.Result.Segments {
			segments[i] = segmentView{Segment: seg, RTL: transcript.IsRTL(seg.Text)}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"filename":    filename,
			"summary":     t.Result.Summary,
			"summary_rtl": transcript.IsRTL(t.Result.Summary),
			"segments":    segments,
		})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, transcript.RenderText(t.Result))
}

func parseSince(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0, fmt.Errorf("invalid since parameter %q", raw)
	}
	return since, nil
}

func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bus := h.deps.Queue.Events()
	events := bus.Since(since)
	if events == nil {
		events = []task.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":   events,
		"last_seq": bus.LastSeq(),
	})
}
