package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/postmortem"
)

// MaxUploadBytes caps request bodies on ingestion routes.
const MaxUploadBytes = 32 << 20

// ArtifactStore opens rendered postmortem files for download.
type ArtifactStore interface {
	Open(name string) (*os.File, string, error)
}

// HTTPHandler serves the REST, SSE, and WebSocket surface.
type HTTPHandler struct {
	backend   Backend
	artifacts ArtifactStore
	logger    *slog.Logger
	keepAlive time.Duration
	now       func() time.Time
}

// NewHTTPHandler constructs the REST adapter.
func NewHTTPHandler(logger *slog.Logger, backend Backend, artifacts ArtifactStore, keepAlive time.Duration) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &HTTPHandler{
		backend:   backend,
		artifacts: artifacts,
		logger:    logger,
		keepAlive: keepAlive,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Router builds the mux router with every route registered under /api/v1.
func (h *HTTPHandler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	v1.HandleFunc("/ingest/metrics", h.ingestMetrics).Methods(http.MethodPost)
	v1.HandleFunc("/ingest/logs", h.ingestLogs).Methods(http.MethodPost)
	v1.HandleFunc("/ingest/logfile", h.ingestLogFile).Methods(http.MethodPost)

	v1.HandleFunc("/incidents/active", h.listActive).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/recent", h.listRecent).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/refresh", h.refresh).Methods(http.MethodPost)
	v1.HandleFunc("/incidents/{id:[0-9]+}", h.getIncident).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/{id:[0-9]+}/analysis", h.analyze).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/{id:[0-9]+}/timeline", h.timeline).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/{id:[0-9]+}/resolve", h.resolve).Methods(http.MethodPost)
	v1.HandleFunc("/incidents/{id:[0-9]+}/postmortem", h.composePostmortem).Methods(http.MethodPost)

	v1.HandleFunc("/postmortems/{filename}", h.downloadPostmortem).Methods(http.MethodGet)
	v1.HandleFunc("/services/summary", h.serviceSummary).Methods(http.MethodGet)

	v1.HandleFunc("/stream/events", h.streamSSE).Methods(http.MethodGet)
	v1.HandleFunc("/stream/ws", h.streamWebSocket).Methods(http.MethodGet)

	router.Use(h.loggingMiddleware)
	router.Use(h.recoveryMiddleware)
	return router
}

// Handler wraps the router with CORS for the given origins.
func (h *HTTPHandler) Handler(allowedOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(h.Router())
}

func (h *HTTPHandler) healthz(w http.ResponseWriter, r *http.Request) {
	state, err := h.backend.HealthCheck(r.Context())
	if err != nil {
		h.logger.Warn("health check failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": state})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": state})
}

type metricBatch struct {
	Metrics []models.MetricPoint `json:"metrics"`
}

type logBatch struct {
	Logs []models.LogEntry `json:"logs"`
}

func (h *HTTPHandler) ingestMetrics(w http.ResponseWriter, r *http.Request) {
	var batch metricBatch
	if !h.decode(w, r, &batch) {
		return
	}
	now := h.now()
	for i := range batch.Metrics {
		if batch.Metrics[i].Timestamp.IsZero() {
			batch.Metrics[i].Timestamp = now
		}
	}
	report, err := h.backend.IngestMetrics(r.Context(), batch.Metrics)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) ingestLogs(w http.ResponseWriter, r *http.Request) {
	var batch logBatch
	if !h.decode(w, r, &batch) {
		return
	}
	now := h.now()
	for i := range batch.Logs {
		if batch.Logs[i].Timestamp.IsZero() {
			batch.Logs[i].Timestamp = now
		}
	}
	report, err := h.backend.IngestLogs(r.Context(), batch.Logs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ingestLogFile accepts a multipart "file" field or a raw text body.
func (h *HTTPHandler) ingestLogFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid upload: %v", err))
			return
		}
		defer file.Close()
		body = file
	}

	report, err := h.backend.IngestLogFile(r.Context(), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) listActive(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.backend.ListOpen(r.Context(), queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemList(incidents))
}

func (h *HTTPHandler) listRecent(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.backend.ListRecent(r.Context(), queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemList(incidents))
}

func (h *HTTPHandler) refresh(w http.ResponseWriter, r *http.Request) {
	report, err := h.backend.Refresh(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(report.Incidents),
		"skipped":   report.Skipped,
		"incidents": nonNil(report.Incidents),
	})
}

func (h *HTTPHandler) getIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inc, err := h.backend.GetIncident(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *HTTPHandler) analyze(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	analysis, err := h.backend.Analyze(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h *HTTPHandler) timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	timeline, err := h.backend.Timeline(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

func (h *HTTPHandler) resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inc, err := h.backend.Resolve(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *HTTPHandler) composePostmortem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	artifacts, err := h.backend.ComposePostmortem(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id":   artifacts.IncidentID,
		"summary":       artifacts.Summary,
		"base_name":     artifacts.BaseName,
		"files":         artifacts.Files,
		"json_download": artifacts.Download(postmortem.FormatJSON),
		"pdf_download":  artifacts.Download(postmortem.FormatPDF),
	})
}

func (h *HTTPHandler) downloadPostmortem(w http.ResponseWriter, r *http.Request) {
	if h.artifacts == nil {
		writeError(w, http.StatusNotFound, "postmortem not found")
		return
	}
	f, contentType, err := h.artifacts.Open(mux.Vars(r)["filename"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *HTTPHandler) serviceSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.backend.ServiceSummaries(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []models.ServiceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": summaries})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, code, strings.ToLower(http.StatusText(code)))
		return
	}
	writeError(w, code, err.Error())
}

func (h *HTTPHandler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (h *HTTPHandler) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				h.logger.Error("panic serving request",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rv),
					slog.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "incident id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

func itemList(incidents []models.Incident) map[string]any {
	return map[string]any{"items": nonNil(incidents)}
}

func nonNil(incidents []models.Incident) []models.Incident {
	if incidents == nil {
		return []models.Incident{}
	}
	return incidents
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": status})
}
