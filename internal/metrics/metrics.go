package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesSubmitted tracks submission outcomes by stable error code.
	BatchesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_batches_submitted_total",
			Help: "Total batch submissions by result code",
		},
		[]string{"result"},
	)

	// StatusQueries tracks status endpoint calls.
	StatusQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_status_queries_total",
			Help: "Total batch status queries",
		},
	)

	// ValidatorRequests tracks request/response calls to the validator.
	ValidatorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_validator_requests_total",
			Help: "Total validator requests",
		},
		[]string{"operation", "outcome"},
	)

	// ValidatorLatency tracks validator request latency.
	ValidatorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_validator_latency_seconds",
			Help:    "Validator request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// FeedCommitsReceived counts commits read off the validator stream.
	FeedCommitsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_feed_commits_received_total",
			Help: "Total block commits received on the validator stream",
		},
	)

	// FeedGaps counts height discontinuities observed on the feed.
	FeedGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_feed_gaps_total",
			Help: "Total missed-commit gaps detected on the feed",
		},
	)

	// FeedHeight is the latest block height observed by the gateway.
	FeedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_feed_height",
			Help: "Latest block height observed on the commit feed",
		},
	)

	// SubscribersConnected is the number of live event subscribers.
	SubscribersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_subscribers_connected",
			Help: "Currently connected event subscribers",
		},
	)

	// EventsDelivered counts events enqueued to subscriber buffers.
	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_events_delivered_total",
			Help: "Total events enqueued for delivery to subscribers",
		},
	)

	// EventsDropped counts events dropped on full subscriber buffers.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_events_dropped_total",
			Help: "Total events dropped due to subscriber backpressure",
		},
	)

	// SubscriberDisconnects counts forced disconnects by reason.
	SubscriberDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_subscriber_disconnects_total",
			Help: "Total forced subscriber disconnects",
		},
		[]string{"reason"},
	)

	// DBConnectionPoolUsage reports database pool saturation.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)

// ObserveValidatorRequest records one validator request outcome.
func ObserveValidatorRequest(operation string, ok bool, d time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	ValidatorRequests.WithLabelValues(operation, outcome).Inc()
	ValidatorLatency.WithLabelValues(operation).Observe(d.Seconds())
}
