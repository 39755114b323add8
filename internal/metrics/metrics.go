// Package metrics exposes Prometheus instrumentation for the orchestrator
// and its HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job metrics
var (
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipshrink_jobs_submitted_total",
			Help: "Total number of transcode jobs created",
		},
		[]string{"mode"}, // "single", "merge"
	)

	JobsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipshrink_jobs_rejected_total",
			Help: "Total number of batch entries rejected before a job was created",
		},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipshrink_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"status", "reason"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clipshrink_job_duration_seconds",
			Help:    "Wall time spent running the external engine per job",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipshrink_jobs_in_progress",
			Help: "Number of jobs currently running the external engine",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipshrink_queue_depth",
			Help: "Number of jobs waiting for a worker",
		},
	)

	OutputBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipshrink_output_bytes_total",
			Help: "Total bytes written by completed jobs",
		},
	)
)

// Supporting metrics
var (
	StagingCleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipshrink_staging_cleanup_failures_total",
			Help: "Manifest files that could not be removed",
		},
	)

	PersistRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipshrink_persist_retries_total",
			Help: "Terminal job updates that needed another attempt",
		},
		[]string{"outcome"}, // "recovered", "exhausted"
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipshrink_events_published_total",
			Help: "Notifications published on the event bus",
		},
		[]string{"type"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipshrink_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipshrink_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
