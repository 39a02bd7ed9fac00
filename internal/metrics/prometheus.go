// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the STT gateway
type Metrics struct {
	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Stream ingest metrics
	ChunksReceived     prometheus.Counter
	AudioBytesReceived prometheus.Counter

	// Dispatch metrics
	Dispatches       prometheus.Counter
	DispatchDuration prometheus.Histogram
	WindowBytes      prometheus.Histogram
	EngineFailures   prometheus.Counter
	NoSpeechWindows  prometheus.Counter

	// Emission metrics
	TranscriptsEmitted    prometheus.Counter
	TranscriptsSuppressed prometheus.Counter

	// Upload metrics
	Uploads        prometheus.Counter
	UploadDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stt_sessions_active",
			Help: "Current number of live streaming sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_created_total",
			Help: "Total number of streaming sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_closed_total",
			Help: "Total number of streaming sessions closed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_session_duration_seconds",
			Help:    "Lifetime of streaming sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_chunks_received_total",
			Help: "Total number of inbound audio chunks",
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_audio_bytes_received_total",
			Help: "Total bytes of inbound audio",
		}),

		Dispatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_dispatches_total",
			Help: "Total number of inference dispatches",
		}),
		DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_dispatch_duration_seconds",
			Help:    "Duration of inference calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		WindowBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_window_bytes",
			Help:    "Size of dispatched audio windows in bytes",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 8), // 4KB to ~512KB
		}),
		EngineFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_engine_failures_total",
			Help: "Total number of engine faults absorbed at the dispatcher",
		}),
		NoSpeechWindows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_no_speech_windows_total",
			Help: "Total number of windows the engine found no speech in",
		}),

		TranscriptsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_transcripts_emitted_total",
			Help: "Total number of transcripts sent to clients",
		}),
		TranscriptsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_transcripts_suppressed_total",
			Help: "Total number of empty or duplicate transcripts suppressed",
		}),

		Uploads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_uploads_total",
			Help: "Total number of single-file transcription requests",
		}),
		UploadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_upload_duration_seconds",
			Help:    "End-to-end duration of single-file transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the session counters
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionClosed decrements the active gauge and records duration
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.SessionsClosed.Inc()
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordChunk records one inbound audio chunk
func (m *Metrics) RecordChunk(sizeBytes int) {
	m.ChunksReceived.Inc()
	m.AudioBytesReceived.Add(float64(sizeBytes))
}

// RecordDispatch records one inference dispatch
func (m *Metrics) RecordDispatch(windowBytes int, durationSeconds float64) {
	m.Dispatches.Inc()
	m.WindowBytes.Observe(float64(windowBytes))
	m.DispatchDuration.Observe(durationSeconds)
}

// RecordEngineFailure increments the engine fault counter
func (m *Metrics) RecordEngineFailure() {
	m.EngineFailures.Inc()
}

// RecordNoSpeech increments the no-speech window counter
func (m *Metrics) RecordNoSpeech() {
	m.NoSpeechWindows.Inc()
}

// RecordEmission records whether a transcript was emitted or suppressed
func (m *Metrics) RecordEmission(emitted bool) {
	if emitted {
		m.TranscriptsEmitted.Inc()
	} else {
		m.TranscriptsSuppressed.Inc()
	}
}

// RecordUpload records one single-file transcription request
func (m *Metrics) RecordUpload(durationSeconds float64) {
	m.Uploads.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
