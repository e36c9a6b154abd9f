package consumer

import (
	"time"

	"go.uber.org/zap"
)

// Stats accumulates per-run processing statistics. Each consumer instance
// owns its own value, so multiple consumers in one process never interfere;
// the owning consumer reports it at shutdown.
type Stats struct {
	EventsProcessed  int
	EventsFailed     int
	BatchesProcessed int
	TotalLatency     time.Duration
}

// AverageLatency returns the mean ingestion-to-processing latency across
// successfully processed events
func (s *Stats) AverageLatency() time.Duration {
	if s.EventsProcessed == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.EventsProcessed)
}

// Fields renders the stats as structured log fields
func (s *Stats) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("batches_processed", s.BatchesProcessed),
		zap.Int("events_processed", s.EventsProcessed),
		zap.Int("events_failed", s.EventsFailed),
		zap.Float64("avg_latency_ms", float64(s.AverageLatency().Microseconds())/1000),
	}
}
