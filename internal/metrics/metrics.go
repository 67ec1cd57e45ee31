/*
Package metrics holds the Prometheus instrumentation for the engine.

Collectors are registered on the default registry at init and exposed by the HTTP
transport on /metrics.
*/
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Signal Store
	SignalsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_signals_recorded_total",
			Help: "Total number of behavioral signals persisted",
		},
		[]string{"key"}, // "categoryBrowsing", "recentlyViewed", "searchQueries"
	)

	SignalsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_signals_dropped_total",
			Help: "Total number of behavioral signals dropped on storage failure",
		},
		[]string{"key"},
	)

	// Recommendations
	FeedsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_feeds_served_total",
			Help: "Total number of recommendation feeds served",
		},
		[]string{"feed", "source"},
	)

	FeedDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "personalize_feed_duration_seconds",
			Help:    "Duration of recommendation feed computation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"feed"},
	)

	Degradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_collaborator_degradations_total",
			Help: "Total number of requests served degraded because a collaborator failed",
		},
		[]string{"collaborator"}, // "catalog", "purchases", "generator", "definitions", "storage"
	)

	GeneratorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_generator_requests_total",
			Help: "Total number of remote recommendation generator calls",
		},
		[]string{"result"}, // "ok", "error", "rate_limited"
	)

	// Experiments
	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_assignments_total",
			Help: "Total number of experiment assignments returned",
		},
		[]string{"experiment", "variant", "outcome"}, // outcome: "new", "existing", "unpersisted"
	)

	Conversions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_conversions_total",
			Help: "Total number of experiment conversions recorded",
		},
		[]string{"experiment", "variant"},
	)

	DefinitionReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_definition_reloads_total",
			Help: "Total number of experiment definition reloads",
		},
		[]string{"result"},
	)

	// Tracker
	TrackerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_tracker_events_total",
			Help: "Total number of impression and conversion events handled by the tracker",
		},
		[]string{"kind", "result"}, // result: "written", "dropped", "failed"
	)

	TrackerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "personalize_tracker_queue_depth",
			Help: "Current number of events waiting in the tracker queue",
		},
	)

	TrackerFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "personalize_tracker_flush_duration_seconds",
			Help:    "Duration of tracker batch flushes in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	// Circuit breakers
	BreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_breaker_state_changes_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)
)

// RecordFeed records a served recommendation feed.
func RecordFeed(feed, source string, duration time.Duration) {
	FeedsServed.WithLabelValues(feed, source).Inc()
	FeedDuration.WithLabelValues(feed).Observe(duration.Seconds())
}

// RecordDegradation records a request served without a collaborator.
func RecordDegradation(collaborator string) {
	Degradations.WithLabelValues(collaborator).Inc()
}

// RecordTrackerFlush records a tracker batch flush.
func RecordTrackerFlush(duration time.Duration, depth int) {
	TrackerFlushDuration.Observe(duration.Seconds())
	TrackerQueueDepth.Set(float64(depth))
}
