package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framereel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framereel_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upload Metrics
	FramesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framereel_frames_received_total",
			Help: "Total number of frames persisted into job workspaces",
		},
	)

	FramesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framereel_frames_rejected_total",
			Help: "Total number of uploaded files dropped before encoding",
		},
		[]string{"reason"},
	)

	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "framereel_upload_size_bytes",
			Help:    "Size of accepted frame uploads per chunk in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 14), // 64KB to 512MB
		},
	)

	// Job Metrics
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framereel_jobs_created_total",
			Help: "Total number of assembly jobs created",
		},
		[]string{"format"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framereel_jobs_completed_total",
			Help: "Total number of finished assembly jobs",
		},
		[]string{"status", "kind"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framereel_jobs_in_progress",
			Help: "Number of jobs holding a workspace",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framereel_job_duration_seconds",
			Help:    "Job duration from creation to completion in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms to ~8.5 minutes
		},
		[]string{"format"},
	)

	JobFrames = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "framereel_job_frames",
			Help:    "Number of frames encoded per job",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1 to 2048
		},
	)

	OutputSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framereel_output_size_bytes",
			Help:    "Size of produced videos in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 14),
		},
		[]string{"format"},
	)

	// Pipeline Metrics
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framereel_phase_duration_seconds",
			Help:    "Duration of each pipeline phase in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"phase"},
	)

	// Cleanup Metrics
	CleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framereel_cleanup_failures_total",
			Help: "Total number of workspace removals that failed",
		},
	)

	SweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framereel_swept_total",
			Help: "Total number of expired jobs, progress cells and stale directories removed by the janitor",
		},
	)

	// Cache Metrics
	CacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framereel_cache_errors_total",
			Help: "Total number of failed progress mirror writes",
		},
		[]string{"operation"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordJobCreated records a job creation
func RecordJobCreated(format string) {
	JobsCreatedTotal.WithLabelValues(format).Inc()
	JobsInProgress.Inc()
}

// RecordJobCompleted records a successful job
func RecordJobCompleted(format string, duration float64, frames int, outputBytes int64) {
	JobsCompletedTotal.WithLabelValues("completed", "").Inc()
	JobsInProgress.Dec()
	JobDuration.WithLabelValues(format).Observe(duration)
	JobFrames.Observe(float64(frames))
	OutputSizeBytes.WithLabelValues(format).Observe(float64(outputBytes))
}

// RecordJobFailed records a failed job by error kind
func RecordJobFailed(kind string) {
	JobsCompletedTotal.WithLabelValues("failed", kind).Inc()
	JobsInProgress.Dec()
}

// RecordChunk records frames persisted from one submission
func RecordChunk(frames int, bytes int64) {
	FramesReceivedTotal.Add(float64(frames))
	UploadSizeBytes.Observe(float64(bytes))
}

// RecordFrameRejected records a dropped upload
func RecordFrameRejected(reason string) {
	FramesRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordPhase records the duration of a pipeline phase
func RecordPhase(phase string, duration float64) {
	PhaseDuration.WithLabelValues(phase).Observe(duration)
}

// RecordCacheError records a failed cache write
func RecordCacheError(operation string) {
	CacheErrorsTotal.WithLabelValues(operation).Inc()
}
