package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Task metrics
	TasksSubmitted *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksRemoved   prometheus.Counter
	TasksByStatus  *prometheus.GaugeVec
	ActiveTasks    prometheus.Gauge

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec

	// Audio metrics
	InputSize       prometheus.Histogram
	CompressedSize  prometheus.Histogram
	CompressedAudio prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec

	// Event stream metrics
	EventSubscribers prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Task metrics
		TasksSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		}, []string{"outcome"}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal status",
		}, []string{"status"}),
		TasksRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_tasks_removed_total",
			Help: "Total number of tasks removed from the queue",
		}),
		TasksByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "transcriber_tasks",
			Help: "Current number of tasks per status",
		}, []string{"status"}),
		ActiveTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_active_tasks",
			Help: "Number of tasks currently being processed (0 or 1)",
		}),

		// Stage metrics
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~5 minutes
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_stage_failures_total",
			Help: "Total number of pipeline stage failures",
		}, []string{"stage"}),

		// Audio metrics
		InputSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_input_size_bytes",
			Help:    "Size of submitted audio files in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 12), // 64KB to ~128MB
		}),
		CompressedSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_compressed_size_bytes",
			Help:    "Size of compressed WAV payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 12), // 16KB to ~32MB
		}),
		CompressedAudio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_compressed_duration_seconds",
			Help:    "Duration of compressed audio",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),

		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_event_subscribers",
			Help: "Current number of WebSocket event subscribers",
		}),
	}
}

// RecordTaskSubmitted counts a submitted task; rejected marks size-limit rejections.
func (m *Metrics) RecordTaskSubmitted(sizeBytes int64, rejected bool) {
	outcome := "accepted"
	if rejected {
		outcome = "rejected"
	}
	m.TasksSubmitted.WithLabelValues(outcome).Inc()
	m.InputSize.Observe(float64(sizeBytes))
}

// RecordTaskCompleted counts a task reaching status.
func (m *Metrics) RecordTaskCompleted(status string) {
	m.TasksCompleted.WithLabelValues(status).Inc()
}

// RecordTaskRemoved increments the removed counter
func (m *Metrics) RecordTaskRemoved() {
	m.TasksRemoved.Inc()
}

// SetTaskCounts replaces the per-status gauge values.
func (m *Metrics) SetTaskCounts(counts map[string]int) {
	m.TasksByStatus.Reset()
	for status, n := range counts {
		m.TasksByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// SetActiveTasks sets the number of tasks in progress
func (m *Metrics) SetActiveTasks(n int) {
	m.ActiveTasks.Set(float64(n))
}

// RecordStage records the duration of a finished stage and whether it failed.
func (m *Metrics) RecordStage(stage string, durationSeconds float64, failed bool) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if failed {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordCompression records the compressed payload size and audio duration.
func (m *Metrics) RecordCompression(sizeBytes int, durationSeconds float64) {
	m.CompressedSize.Observe(float64(sizeBytes))
	m.CompressedAudio.Observe(durationSeconds)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
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

// AddEventSubscriber adjusts the subscriber gauge by delta.
func (m *Metrics) AddEventSubscriber(delta int) {
	m.EventSubscribers.Add(float64(delta))
}
