// Package metrics expose les métriques Prometheus du service de ranking.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedRequests compte les pages servies par feed et par issue
	// (ok, empty, anonymous, store_unavailable, canceled, error).
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_feed_requests_total",
			Help: "Total number of feed pages requested",
		},
		[]string{"feed", "outcome"},
	)

	FeedDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ranking_feed_duration_seconds",
			Help:    "Time spent assembling one feed page",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"feed"},
	)

	FeedCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ranking_feed_candidates",
			Help:    "Size of the candidate set after filtering, per request",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 .. 16384
		},
		[]string{"feed"},
	)

	InvalidCursors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_invalid_cursors_total",
			Help: "Cursors rejected and treated as absent",
		},
		[]string{"feed"},
	)

	RecommendationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_recommendation_requests_total",
			Help: "Total number of recommendation requests",
		},
		[]string{"kind", "outcome"},
	)

	// BreakerState : 0 = closed, 1 = half-open, 2 = open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ranking_store_breaker_state",
			Help: "Circuit breaker state per store (0=closed, 1=half-open, 2=open)",
		},
		[]string{"store"},
	)

	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_store_breaker_rejections_total",
			Help: "Store calls rejected by an open circuit breaker",
		},
		[]string{"store"},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_events_processed_total",
			Help: "NATS events handled by the consumer",
		},
		[]string{"subject", "outcome"},
	)
)
