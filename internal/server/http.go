package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nadhilrobomiracle/stt/internal/config"
	"github.com/nadhilrobomiracle/stt/internal/engine"
	"github.com/nadhilrobomiracle/stt/internal/metrics"
	"github.com/nadhilrobomiracle/stt/internal/stream"
)

const (
	serviceName    = "stt-gateway"
	serviceVersion = "1.0.0"
)

// HTTPServer serves the REST API, the websocket stream endpoint and the
// Prometheus metrics.
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	manager *stream.Manager
	engine  engine.Engine
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP server with all routes configured.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger,
	manager *stream.Manager, eng engine.Engine, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		manager:   manager,
		engine:    eng,
		metrics:   m,
		startTime: time.Now(),
	}

	streamHandler := NewStreamHandler(logger, manager)

	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/sessions", h.withMetrics("/sessions", h.handleSessions))
	r.Get("/sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Post("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))
	r.Get("/stream", streamHandler.Handle)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:     r,
		IdleTimeout: 60 * time.Second,
		// Read/write timeouts stay off the server itself: /stream holds
		// the connection open for the life of the session. Non-stream
		// handlers apply their own deadlines via request contexts.
	}

	return h
}

// Handler exposes the configured router, mainly for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// corsMiddleware allows browser and mobile clients from any origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
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

// Start starts the HTTP server.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// handleHealth implements the /health endpoint.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"engine":    h.engine.Describe(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"stream_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.manager.ActiveCount(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions endpoint.
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.GetAllSessions()
	infos := make([]stream.SessionInfo, 0, len(sessions))

	for _, session := range sessions {
		infos = append(infos, session.Info())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleSessionDetail implements the /sessions/{id} endpoint.
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, exists := h.manager.GetSession(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, session.Info())
}

// handleConfig implements the /config endpoint. Secrets are omitted.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	sanitized := map[string]interface{}{
		"http": map[string]interface{}{
			"address": h.config.HTTP.Address,
			"port":    h.config.HTTP.Port,
		},
		"streaming": map[string]interface{}{
			"dispatch_interval":  h.config.Streaming.DispatchInterval,
			"min_dispatch_bytes": h.config.Streaming.MinDispatchBytes,
			"keep_bytes":         h.config.Streaming.KeepBytes,
			"max_buffer_bytes":   h.config.Streaming.MaxBufferBytes,
			"dispatch_timeout":   h.config.Streaming.DispatchTimeout,
			"workers":            h.config.Streaming.GetWorkers(),
			"idle_timeout":       h.config.Streaming.IdleTimeout,
			"max_sessions":       h.config.Streaming.MaxSessions,
		},
		"engine": map[string]interface{}{
			"provider":   h.config.Engine.Provider,
			"endpoint":   h.config.Engine.Endpoint,
			"model":      h.config.Engine.Model,
			"timeout":    h.config.Engine.Timeout,
			"language":   h.config.Engine.Language,
			"beam_size":  h.config.Engine.BeamSize,
			"vad_filter": h.config.Engine.VADFilter,
			// API key intentionally omitted
		},
		"upload": map[string]interface{}{
			"min_size_bytes":   h.config.Upload.MinSizeBytes,
			"max_upload_bytes": h.config.Upload.MaxUploadBytes,
			"max_duration":     h.config.Upload.MaxDuration,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitized)
}

// handleStats implements the /stats endpoint.
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.manager.ActiveCount(),
		},
		"engine": h.engine.Describe(),
	}

	if c, ok := h.engine.(*engine.HTTPClient); ok {
		stats["engine_client"] = c.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation.
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":              "API documentation",
			"GET /health":        "Service health check",
			"GET /stream":        "Websocket streaming transcription",
			"POST /transcribe":   "Single-file transcription",
			"GET /sessions":      "List live streaming sessions",
			"GET /sessions/{id}": "Get detailed session information",
			"GET /config":        "Get service configuration",
			"GET /stats":         "Get service statistics",
			"GET /metrics":       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
