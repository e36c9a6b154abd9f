package consumer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/saaslytics/ingest-svc/internal/dashboard"
	"github.com/saaslytics/ingest-svc/internal/models"
)

// processEvent applies the business handler for a single event.
// Unknown event types are logged and treated as a no-op success so a producer
// shipping a newer schema cannot poison the queue.
func (c *Consumer) processEvent(ctx context.Context, event *models.Event) error {
	eventType, err := models.ParseEventType(event.EventType)
	if err != nil {
		c.logger.Warn("Unknown event type, skipping",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.EventID),
		)
		return nil
	}

	if c.cfg.DryRun {
		c.logger.Info("[DRY RUN] Would process event",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.EventID),
		)
		return nil
	}

	switch eventType {
	case models.UserSignup:
		return c.processUserSignup(ctx, event)
	case models.SubscriptionCreated:
		return c.processSubscription(ctx, event)
	case models.UsageTracked:
		return c.processUsage(ctx, event)
	}

	return fmt.Errorf("unhandled event type: %s", eventType)
}

// processUserSignup tracks a new user and their acquisition source
func (c *Consumer) processUserSignup(ctx context.Context, event *models.Event) error {
	source := metaString(event.Metadata, "source", "unknown")

	c.logger.Info("User signup",
		zap.String("user_id", event.UserID),
		zap.String("source", source),
	)

	c.updateDashboard(ctx, dashboard.MetricUpdate{
		Metric: "user_count",
		Action: "increment",
		Fields: map[string]any{
			"user_id": event.UserID,
			"source":  source,
		},
	})
	return nil
}

// processSubscription adds a new subscription to MRR
func (c *Consumer) processSubscription(ctx context.Context, event *models.Event) error {
	plan := metaString(event.Metadata, "plan", "unknown")
	amount, err := metaNumber(event.Metadata, "amount", 0)
	if err != nil {
		return fmt.Errorf("subscription event %s: %w", event.EventID, err)
	}

	c.logger.Info("Subscription created",
		zap.String("user_id", event.UserID),
		zap.String("plan", plan),
		zap.Float64("amount", amount),
	)

	c.updateDashboard(ctx, dashboard.MetricUpdate{
		Metric: "mrr",
		Action: "add",
		Fields: map[string]any{
			"user_id": event.UserID,
			"plan":    plan,
			"amount":  amount,
		},
	})
	return nil
}

// processUsage updates per-feature usage metrics
func (c *Consumer) processUsage(ctx context.Context, event *models.Event) error {
	feature := metaString(event.Metadata, "feature", "unknown")
	quantity, err := metaNumber(event.Metadata, "quantity", 1)
	if err != nil {
		return fmt.Errorf("usage event %s: %w", event.EventID, err)
	}

	c.logger.Info("Usage tracked",
		zap.String("user_id", event.UserID),
		zap.String("feature", feature),
		zap.Float64("quantity", quantity),
	)

	c.updateDashboard(ctx, dashboard.MetricUpdate{
		Metric: "usage",
		Action: "increment",
		Fields: map[string]any{
			"user_id":  event.UserID,
			"feature":  feature,
			"quantity": quantity,
		},
	})
	return nil
}

// updateDashboard posts a metric delta to the best-effort sink. Failures are
// logged and never fail the event.
func (c *Consumer) updateDashboard(ctx context.Context, update dashboard.MetricUpdate) {
	if !c.dashboard.Enabled() {
		return
	}
	if err := c.dashboard.Update(ctx, update); err != nil {
		c.logger.Warn("Dashboard update failed",
			zap.String("metric", update.Metric),
			zap.Error(err),
		)
	}
}

// metaString reads an optional string metadata value
func metaString(metadata map[string]any, key, fallback string) string {
	if v, ok := metadata[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// metaNumber reads an optional numeric metadata value. Present-but-non-numeric
// values are a validation error, not a silent default.
func metaNumber(metadata map[string]any, key string, fallback float64) (float64, error) {
	v, ok := metadata[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("metadata field %q is not numeric (got %T)", key, v)
	}
}
