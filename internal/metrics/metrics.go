package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Diagnosis backend client metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdiag_api_requests_total",
			Help: "Total number of requests sent to the diagnosis backend",
		},
		[]string{"operation", "result"}, // ok/auth_error/api_error/transport_error
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsdiag_api_request_duration_seconds",
			Help:    "Diagnosis backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Status poller metrics
	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdiag_poll_ticks_total",
			Help: "Total number of status poller refreshes by outcome",
		},
		[]string{"outcome"}, // active/idle/failed/discarded
	)

	PollerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsdiag_poller_active",
			Help: "Whether the status poller currently holds an armed timer",
		},
	)

	// Feedback metrics
	FeedbackSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdiag_feedback_submissions_total",
			Help: "Total number of feedback submissions by type and result",
		},
		[]string{"feedback_type", "result"}, // ok/invalid/error
	)

	// Snapshot store metrics
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdiag_cache_requests_total",
			Help: "Total number of snapshot store requests",
		},
		[]string{"operation", "result"}, // get/set, hit/miss/error
	)

	// Dashboard stream subscribers
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsdiag_stream_subscribers",
			Help: "Number of connected diagnosis stream subscribers",
		},
	)
)
