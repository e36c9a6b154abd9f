// Package metrics exposes pipeline counters on a standalone Prometheus
// listener, kept off the webhook port so scrapes never compete with ingestion.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	EventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_accepted_total",
		Help: "The total number of events accepted and enqueued by the webhook receiver",
	})
	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_duplicate_total",
		Help: "The total number of duplicate submissions absorbed by the idempotency store",
	})
	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_rejected_total",
		Help: "The total number of submissions rejected for structural invalidity",
	})
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_processed_total",
		Help: "The total number of events processed successfully by the batch consumer",
	})
	EventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_failed_total",
		Help: "The total number of events that exhausted their retry budget",
	})
	EventsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_dead_lettered_total",
		Help: "The total number of events moved to the dead-letter queue",
	})
	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_batches_total",
		Help: "The total number of batches claimed by the consumer",
	})
	EventLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "consumer_event_latency_seconds",
		Help:    "Latency from ingestion (received_at) to processing completion",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})
)

// Serve starts the metrics listener on the given port. Runs until the
// process exits; listen failures are logged, not fatal.
func Serve(port string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("Metrics listener starting", zap.String("port", port))
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("Metrics listener stopped", zap.Error(err))
	}
}
