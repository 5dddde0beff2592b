package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodeTease/wmcache/pkg/engine"
	"github.com/CodeTease/wmcache/pkg/metrics"
	"github.com/CodeTease/wmcache/pkg/ratelimit"
	"github.com/CodeTease/wmcache/pkg/regen"
	"github.com/CodeTease/wmcache/pkg/storage"
	"github.com/CodeTease/wmcache/pkg/telemetry"
	"github.com/CodeTease/wmcache/pkg/watermark"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

type Handler struct {
	Engine        *engine.Engine
	AdminToken    string
	EnableMetrics bool

	limiter ratelimit.Limiter
}

// NewHandler serves e. A nil limiter allows 5 admin requests per second per
// client in this process.
func NewHandler(e *engine.Engine, adminToken string, limiter ratelimit.Limiter, enableMetrics bool) *Handler {
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(5, 10000, time.Hour)
	}
	return &Handler{
		Engine:        e,
		AdminToken:    adminToken,
		EnableMetrics: enableMetrics,
		limiter:       limiter,
	}
}

// Routes returns the mux serving images and the admin API.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /images/{path...}", h.instrument("/images", h.handleImage))
	mux.HandleFunc("GET /admin/preview/{path...}", h.instrument("/admin/preview", h.admin(h.handlePreview)))
	mux.HandleFunc("GET /admin/settings", h.instrument("/admin/settings", h.admin(h.handleGetSettings)))
	mux.HandleFunc("PUT /admin/settings", h.instrument("/admin/settings", h.admin(h.handleUpdateSettings)))
	mux.HandleFunc("POST /admin/regenerate", h.instrument("/admin/regenerate", h.admin(h.handleRegenerate)))
	mux.HandleFunc("GET /admin/batches/{id}", h.instrument("/admin/batches", h.admin(h.handleBatchStatus)))
	mux.HandleFunc("GET /admin/cache/stats", h.instrument("/admin/cache/stats", h.admin(h.handleCacheStats)))
	mux.HandleFunc("POST /admin/cache/cleanup", h.instrument("/admin/cache/cleanup", h.admin(h.handleCacheCleanup)))
	return mux
}

// instrument wraps a handler with a server span and request metrics.
func (h *Handler) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := telemetry.Tracer().Start(ctx, route,
			trace.WithAttributes(
				semconv.HTTPMethodKey.String(r.Method),
				semconv.HTTPURLKey.String(r.URL.String()),
				semconv.UserAgentOriginalKey.String(r.UserAgent()),
				attribute.String("client.ip", clientIP(r)),
			),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		defer func() {
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(rec.statusCode))
			if h.EnableMetrics {
				status := strconv.Itoa(rec.statusCode)
				metrics.HTTPRequestsTotal.WithLabelValues(r.Method, status, route).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(r.Method, status, route).Observe(time.Since(start).Seconds())
			}
		}()

		next(rec, r)
	}
}

// admin checks the bearer token and the per-client rate limit.
func (h *Handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.AdminToken == "" {
			http.Error(w, "Admin API disabled", http.StatusForbidden)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !h.limiter.Allow(r.Context(), clientIP(r)) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Engine.Health(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		http.Error(w, "Unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("OK"))
}

func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	objectKey, ok := cleanKey(r.PathValue("path"))
	if !ok {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	outcome := h.Engine.Apply(r.Context(), objectKey)
	trace.SpanFromContext(r.Context()).AddEvent("watermark " + string(outcome.State))

	data, err := h.Engine.Store().Read(r.Context(), outcome.Path)
	if err != nil && outcome.Path != objectKey {
		// Derivative vanished between lookup and read.
		outcome = engine.Outcome{Path: objectKey, State: engine.StatePending}
		data, err = h.Engine.Store().Read(r.Context(), objectKey)
	}
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Image read failed", "path", outcome.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("X-Watermark", string(outcome.State))
	if outcome.State == engine.StatePending {
		// The watermarked copy will replace this response soon.
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=86400")
	}
	writeImage(w, outcome.Path, data)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	objectKey, ok := cleanKey(r.PathValue("path"))
	if !ok {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	result, err := h.Engine.GenerateWatermarkNow(r.Context(), objectKey)
	if err != nil {
		var notFound *watermark.SourceNotFoundError
		if errors.As(err, &notFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		slog.Error("Preview generation failed", "path", objectKey, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	data, err := h.Engine.Store().Read(r.Context(), result)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeImage(w, result, data)
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Settings(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&values); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON object of string values"})
		return
	}

	batchID, err := h.Engine.UpdateSettings(r.Context(), values)
	if err != nil {
		writeBatchError(w, batchID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":     batchID,
		"regenerating": batchID != "",
	})
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	batchID, err := h.Engine.RegenerateAll(r.Context())
	if err != nil {
		writeBatchError(w, batchID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

func (h *Handler) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.BatchStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if b == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.CacheStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be a non-negative integer"})
		return
	}
	deleted, err := h.Engine.CleanupOldCache(r.Context(), days)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func writeBatchError(w http.ResponseWriter, batchID string, err error) {
	var fatal *regen.BatchFatalError
	switch {
	case errors.Is(err, regen.ErrNoVisualChange):
		writeJSON(w, http.StatusOK, map[string]any{"batch_id": "", "regenerating": false})
	case errors.As(err, &fatal):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"batch_id": fatal.BatchID, "error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"batch_id": batchID, "error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func writeImage(w http.ResponseWriter, objectKey string, data []byte) {
	contentType := mime.TypeByExtension(strings.ToLower(path.Ext(objectKey)))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// cleanKey rejects empty keys and keys escaping the store root.
func cleanKey(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", false
		}
	}
	key := strings.TrimPrefix(path.Clean("/"+raw), "/")
	return key, key != ""
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
