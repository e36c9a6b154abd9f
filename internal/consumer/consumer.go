// Package consumer drains the event queue in bounded batches, applies
// per-event business processing with a bounded retry budget, and routes each
// outcome to acknowledgment or the dead-letter queue. Errors are contained
// per event: one poisoned event never stalls its batch or the process.
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saaslytics/ingest-svc/internal/config"
	"github.com/saaslytics/ingest-svc/internal/dashboard"
	"github.com/saaslytics/ingest-svc/internal/metrics"
	"github.com/saaslytics/ingest-svc/internal/queue"
)

// Consumer is one polling worker instance. Multiple instances may run against
// the same queue; the queue's atomic claim guarantees no event is claimed
// twice.
type Consumer struct {
	cfg       *config.ConsumerConfig
	queue     queue.Queue
	dashboard *dashboard.Client
	logger    *zap.Logger
	stats     Stats
	tag       string
}

// NewConsumer creates a consumer instance with dependencies
func NewConsumer(cfg *config.ConsumerConfig, q queue.Queue, dash *dashboard.Client, logger *zap.Logger) *Consumer {
	tag := fmt.Sprintf("batch-consumer-%s", uuid.NewString()[:8])
	return &Consumer{
		cfg:       cfg,
		queue:     q,
		dashboard: dash,
		logger:    logger.With(zap.String("consumer_tag", tag)),
		tag:       tag,
	}
}

// Stats returns a snapshot of the instance's counters. Call after Run
// returns, or accept slightly stale values.
func (c *Consumer) Stats() Stats {
	return c.stats
}

// Run executes the claim/process/resolve loop until ctx is cancelled.
// Cancellation is honored between batches only: the in-progress batch always
// finishes its process and resolution phases, and no new claim starts after
// shutdown is requested.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("Batch consumer starting",
		zap.Int("batch_size", c.cfg.BatchSize),
		zap.Int("batch_timeout_seconds", c.cfg.BatchTimeoutSeconds),
		zap.Int("max_retries", c.cfg.MaxRetries),
		zap.String("retry_strategy", c.cfg.RetryStrategy),
		zap.Bool("dry_run", c.cfg.DryRun),
	)
	defer c.reportStats()

	// Resolution operations must survive cancellation so no claimed event is
	// abandoned mid-batch.
	workCtx := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		batch, err := c.queue.Claim(workCtx, c.cfg.BatchSize)
		if err != nil {
			c.logger.Error("Failed to claim batch, backing off", zap.Error(err))
			if !sleepCtx(ctx, c.cfg.BatchTimeout()) {
				break
			}
			continue
		}

		if len(batch) == 0 {
			if !sleepCtx(ctx, c.cfg.BatchTimeout()) {
				break
			}
			continue
		}

		c.logger.Info("Processing batch", zap.Int("events", len(batch)))
		success, failed := c.processBatch(workCtx, batch)

		c.stats.BatchesProcessed++
		metrics.BatchesProcessed.Inc()
		c.logger.Info("Batch complete",
			zap.Int("success", success),
			zap.Int("failed", failed),
		)
	}

	c.logger.Info("Batch consumer shutting down gracefully")
}

// processBatch handles each claimed event in claim order and resolves it.
// Returns the success and failure counts.
func (c *Consumer) processBatch(ctx context.Context, batch []queue.Delivery) (success, failed int) {
	for _, d := range batch {
		if c.resolveEvent(ctx, d) {
			success++
		} else {
			failed++
		}
	}
	return success, failed
}

// resolveEvent runs the retry budget for one claimed event and routes the
// outcome. Returns true when the event was acknowledged.
func (c *Consumer) resolveEvent(ctx context.Context, d queue.Delivery) bool {
	var err error
	if c.cfg.RetryStrategy == config.RetryRequeue {
		err = c.attemptOnce(ctx, d)
	} else {
		err = c.retryInPlace(ctx, d)
	}

	if err == nil {
		if ackErr := c.queue.Ack(ctx, d); ackErr != nil {
			c.logger.Error("Failed to ack event",
				zap.String("event_id", d.Event.EventID),
				zap.Error(ackErr),
			)
			// Left in the in-flight queue for recovery; idempotent handlers
			// make re-processing safe.
			return false
		}

		c.stats.EventsProcessed++
		metrics.EventsProcessed.Inc()
		if latency, ok := d.Event.IngestLatency(time.Now()); ok {
			c.stats.TotalLatency += latency
			metrics.EventLatency.Observe(latency.Seconds())
		}
		return true
	}

	if requeued := c.maybeRequeue(ctx, d); requeued {
		return false
	}

	c.deadLetter(ctx, d, err)
	return false
}

// retryInPlace runs up to MaxRetries attempts within the current claim,
// sleeping a linearly growing delay between attempts. Returns the last error
// once the budget is exhausted.
func (c *Consumer) retryInPlace(ctx context.Context, d queue.Delivery) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		lastErr = c.processEvent(ctx, d.Event)
		if lastErr == nil {
			return nil
		}

		c.logger.Error("Event processing attempt failed",
			zap.String("event_id", d.Event.EventID),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Error(lastErr),
		)

		if attempt < c.cfg.MaxRetries {
			time.Sleep(c.cfg.RetryDelay(attempt))
		}
	}
	return lastErr
}

// attemptOnce runs a single attempt for the requeue-on-retry strategy; the
// remaining budget travels with the event's wire attempt counter.
func (c *Consumer) attemptOnce(ctx context.Context, d queue.Delivery) error {
	err := c.processEvent(ctx, d.Event)
	if err != nil {
		c.logger.Error("Event processing attempt failed",
			zap.String("event_id", d.Event.EventID),
			zap.Int("attempt", d.Event.Attempts+1),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Error(err),
		)
	}
	return err
}

// maybeRequeue sends a failed event to the back of the pending queue when the
// requeue strategy still has budget left. Returns true when requeued.
func (c *Consumer) maybeRequeue(ctx context.Context, d queue.Delivery) bool {
	if c.cfg.RetryStrategy != config.RetryRequeue {
		return false
	}

	newAttempts := d.Event.Attempts + 1
	if newAttempts >= c.cfg.MaxRetries {
		return false
	}

	d.Event.Attempts = newAttempts
	if err := c.queue.Requeue(ctx, d); err != nil {
		c.logger.Error("Failed to requeue event",
			zap.String("event_id", d.Event.EventID),
			zap.Error(err),
		)
		return false
	}

	c.logger.Info("Event requeued for retry",
		zap.String("event_id", d.Event.EventID),
		zap.Int("attempts", newAttempts),
	)
	return true
}

// deadLetter moves an event that exhausted its retries to the dead-letter
// queue with its failure recorded
func (c *Consumer) deadLetter(ctx context.Context, d queue.Delivery, cause error) {
	d.Event.MarkFailed(fmt.Sprintf("max_retries_exceeded: %v", cause), time.Now())

	if err := c.queue.DeadLetter(ctx, d); err != nil {
		c.logger.Error("Failed to move event to dead-letter queue",
			zap.String("event_id", d.Event.EventID),
			zap.Error(err),
		)
		return
	}

	c.stats.EventsFailed++
	metrics.EventsFailed.Inc()
	metrics.EventsDeadLettered.Inc()
	c.logger.Error("Event moved to dead-letter queue",
		zap.String("event_id", d.Event.EventID),
		zap.String("failure_reason", d.Event.FailureReason),
	)
}

func (c *Consumer) reportStats() {
	c.logger.Info("Processing statistics", c.stats.Fields()...)
}

// sleepCtx waits for the duration or until ctx is cancelled.
// Returns false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
