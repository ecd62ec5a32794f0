package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the node agent
type Metrics struct {
	// Capture metrics
	BlocksCaptured prometheus.Counter
	ClipsRecorded  prometheus.Counter
	ClipDuration   prometheus.Histogram
	ClipSize       prometheus.Histogram
	AudioLevel     prometheus.Gauge

	// Upload metrics
	UploadAttempts  prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  prometheus.Counter
	UploadDuration  prometheus.Histogram
	PendingClips    prometheus.Gauge

	// Storage metrics
	ClipsReclaimed prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsEnded   prometheus.Counter

	// Heartbeat metrics
	Heartbeats        prometheus.Counter
	HeartbeatFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Capture metrics
		BlocksCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agent_audio_blocks_captured_total",
			Help: "Total number of audio blocks read from the capture source",
		}),
		ClipsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agent_clips_recorded_total",
			Help: "Total number of clips written to local storage",
		}),
		ClipDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_clip_duration_seconds",
			Help:    "Duration of recorded clips",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		ClipSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_clip_size_bytes",
			Help:    "Size of recorded clips in bytes",
			Buckets: prometheus.ExponentialBuckets(16384, 2, 10), // 16KB to ~16MB
		}),
		AudioLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agent_audio_level",
			Help: "Most recent audio level on the 0-100 scale",
		}),

		// Upload metrics
		UploadAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agent_upload_attempts_total",
			Help: "Total number of clip upload attempts",
		}),
		UploadSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agent_upload_successes_total",
			Help: "Total number of successful clip uploads",
		}),
		UploadFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agent_upload_failures_total",
			Help: "Total number of failed clip uploads",
		}),
		UploadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_upload_duration_seconds",
			Help:    "Duration of clip upload requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		PendingClips: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agent_pending_clips",
			Help: "Current number of clips awaiting upload",
		}),

		// Storage metrics
		ClipsReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agent_clips_reclaimed_total",
			Help: "Total number of uploaded clips removed from local storage",
		}),

		// Session metrics
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agent_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agent_sessions_ended_total",
			Help: "Total number of recording sessions ended",
		}),

		// Heartbeat metrics
		Heartbeats: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agent_heartbeats_total",
			Help: "Total number of heartbeats sent to the collector",
		}),
		HeartbeatFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agent_heartbeat_failures_total",
			Help: "Total number of failed heartbeats",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordBlockCaptured increments the captured blocks counter
func (m *Metrics) RecordBlockCaptured() {
	m.BlocksCaptured.Inc()
}

// RecordClipRecorded records a completed clip and its properties
func (m *Metrics) RecordClipRecorded(durationSeconds float64, sizeBytes int, level float64) {
	m.ClipsRecorded.Inc()
	m.ClipDuration.Observe(durationSeconds)
	m.ClipSize.Observe(float64(sizeBytes))
	m.AudioLevel.Set(level)
}

// RecordUploadSuccess records a successful upload
func (m *Metrics) RecordUploadSuccess(durationSeconds float64) {
	m.UploadAttempts.Inc()
	m.UploadSuccesses.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadFailure records a failed upload
func (m *Metrics) RecordUploadFailure(durationSeconds float64) {
	m.UploadAttempts.Inc()
	m.UploadFailures.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// SetPendingClips sets the current pending clip count
func (m *Metrics) SetPendingClips(count int) {
	m.PendingClips.Set(float64(count))
}

// RecordClipsReclaimed adds to the reclaimed clips counter
func (m *Metrics) RecordClipsReclaimed(count int) {
	m.ClipsReclaimed.Add(float64(count))
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionEnded increments the sessions ended counter
func (m *Metrics) RecordSessionEnded() {
	m.SessionsEnded.Inc()
}

// RecordHeartbeat records a heartbeat attempt
func (m *Metrics) RecordHeartbeat(ok bool) {
	m.Heartbeats.Inc()
	if !ok {
		m.HeartbeatFailures.Inc()
	}
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
