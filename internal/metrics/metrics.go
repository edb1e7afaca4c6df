// Package metrics registers the Prometheus collectors exported on /metrics.
// Collectors are package-level and updated directly from the service layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelvault_http_requests_total",
			Help: "HTTP requests served, by route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelvault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Ingest metrics.
var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelvault_uploads_total",
			Help: "Upload requests by result (stored, existing, rejected, failed).",
		},
		[]string{"result"},
	)

	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelvault_upload_bytes_total",
		Help: "Bytes written to blob storage by completed uploads.",
	})

	UploadsThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelvault_uploads_throttled_total",
		Help: "Upload requests rejected by the per-client rate limit.",
	})
)

// Transcode metrics.
var (
	TranscodeQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelvault_transcode_queued",
		Help: "Jobs waiting for a transcode slot.",
	})

	TranscodeActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelvault_transcode_active",
		Help: "Jobs holding a transcode slot.",
	})

	TranscodeJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelvault_transcode_jobs_total",
			Help: "Finished transcode jobs by terminal status.",
		},
		[]string{"status"},
	)

	TranscodeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelvault_transcode_attempts_total",
			Help: "Encoder runs by encoder kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelvault_transcode_duration_seconds",
			Help:    "Encoder run duration in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600, 7200},
		},
		[]string{"kind"},
	)
)

// Lifecycle metrics.
var (
	FilesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelvault_files",
		Help: "File records currently held in the metadata store.",
	})

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelvault_sweep_runs_total",
		Help: "Expiry sweeps executed.",
	})

	FilesRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelvault_files_removed_total",
			Help: "File records removed, by cause (expired, deleted, purged, orphaned).",
		},
		[]string{"cause"},
	)

	BytesFreedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelvault_bytes_freed_total",
		Help: "Bytes released from blob and HLS storage by deletions and sweeps.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reelvault_sweep_duration_seconds",
		Help:    "Expiry sweep duration in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)
