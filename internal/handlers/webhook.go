package handlers

import (
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/saaslytics/ingest-svc/internal/config"
	"github.com/saaslytics/ingest-svc/internal/idempotency"
	"github.com/saaslytics/ingest-svc/internal/metrics"
	"github.com/saaslytics/ingest-svc/internal/models"
	"github.com/saaslytics/ingest-svc/internal/queue"
	"github.com/saaslytics/ingest-svc/internal/signature"
)

// WebhookHandler accepts events over HTTP, validates, deduplicates and
// enqueues them. No business processing happens here, so ingestion latency
// stays independent of downstream processing speed.
type WebhookHandler struct {
	queue  queue.Queue
	store  idempotency.Store
	ttl    time.Duration
	secret string
	logger *zap.Logger
}

// NewWebhookHandler creates a new webhook handler with dependencies
func NewWebhookHandler(q queue.Queue, store idempotency.Store, cfg *config.Config, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		queue:  q,
		store:  store,
		ttl:    cfg.Idempotency.TTL(),
		secret: cfg.WebhookSecret,
		logger: logger,
	}
}

// AcceptedResponse is returned when a single event is enqueued
type AcceptedResponse struct {
	Status    string  `json:"status"`
	EventID   string  `json:"event_id"`
	QueuedAt  string  `json:"queued_at"`
	LatencyMs float64 `json:"latency_ms"`
}

// IgnoredResponse is returned for duplicate submissions
type IgnoredResponse struct {
	Status  string `json:"status"`
	Reason  string `json:"reason"`
	EventID string `json:"event_id"`
}

// BatchResults holds per-outcome counts for a batch submission
type BatchResults struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// BatchResponse is returned for batch submissions
type BatchResponse struct {
	Status      string       `json:"status"`
	Results     BatchResults `json:"results"`
	TotalEvents int          `json:"total_events"`
	LatencyMs   float64      `json:"latency_ms"`
}

// ReceiveEvent handles POST /webhook/events
func (h *WebhookHandler) ReceiveEvent(c *fiber.Ctx) error {
	startTime := time.Now()

	if !h.verifySignature(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid signature",
		})
	}

	var event models.Event
	if err := c.BodyParser(&event); err != nil {
		h.logger.Warn("Received malformed event payload", zap.Error(err))
		metrics.EventsRejected.Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "request body must be a JSON event object",
		})
	}

	if missing := event.Validate(); len(missing) > 0 {
		h.logger.Warn("Event missing required fields", zap.Strings("missing", missing))
		metrics.EventsRejected.Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Missing required fields",
			"missing": missing,
		})
	}

	inserted, err := h.store.MarkIfNew(c.UserContext(), event.EventID, h.ttl)
	if err != nil {
		h.logger.Error("Idempotency store unreachable",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "event could not be accepted",
		})
	}

	if !inserted {
		h.logger.Info("Duplicate event ignored", zap.String("event_id", event.EventID))
		metrics.EventsDuplicate.Inc()
		return c.Status(fiber.StatusOK).JSON(IgnoredResponse{
			Status:  "ignored",
			Reason:  "duplicate_event",
			EventID: event.EventID,
		})
	}

	event.MarkReceived(time.Now())

	if err := h.queue.Push(c.UserContext(), &event); err != nil {
		// Acceptance implies a durability promise; roll back the idempotency
		// mark so the producer's retry is not absorbed as a duplicate.
		h.logger.Error("Failed to enqueue event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		if forgetErr := h.store.Forget(c.UserContext(), event.EventID); forgetErr != nil {
			h.logger.Error("Failed to roll back idempotency mark",
				zap.String("event_id", event.EventID),
				zap.Error(forgetErr),
			)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "event could not be queued",
		})
	}

	latencyMs := roundMs(time.Since(startTime))
	metrics.EventsAccepted.Inc()

	h.logger.Info("Event received",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.Float64("latency_ms", latencyMs),
	)

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{
		Status:    "accepted",
		EventID:   event.EventID,
		QueuedAt:  event.ReceivedAt,
		LatencyMs: latencyMs,
	})
}

// ReceiveBatch handles POST /webhook/events/batch. Each event is validated
// and deduplicated independently; a bad event never blocks its batchmates.
func (h *WebhookHandler) ReceiveBatch(c *fiber.Ctx) error {
	startTime := time.Now()

	if !h.verifySignature(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid signature",
		})
	}

	var body struct {
		Events []models.Event `json:"events"`
	}
	if err := c.BodyParser(&body); err != nil {
		metrics.EventsRejected.Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "request body must be a JSON object with an events array",
		})
	}
	if len(body.Events) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "events array required",
		})
	}

	results := BatchResults{}
	for i := range body.Events {
		event := &body.Events[i]

		if missing := event.Validate(); len(missing) > 0 {
			results.Errors++
			metrics.EventsRejected.Inc()
			continue
		}

		inserted, err := h.store.MarkIfNew(c.UserContext(), event.EventID, h.ttl)
		if err != nil {
			h.logger.Error("Idempotency check failed for batch event",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			results.Errors++
			continue
		}
		if !inserted {
			results.Duplicates++
			metrics.EventsDuplicate.Inc()
			continue
		}

		event.MarkReceived(time.Now())
		if err := h.queue.Push(c.UserContext(), event); err != nil {
			h.logger.Error("Failed to enqueue batch event",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			if forgetErr := h.store.Forget(c.UserContext(), event.EventID); forgetErr != nil {
				h.logger.Error("Failed to roll back idempotency mark",
					zap.String("event_id", event.EventID),
					zap.Error(forgetErr),
				)
			}
			results.Errors++
			continue
		}

		results.Accepted++
		metrics.EventsAccepted.Inc()
	}

	latencyMs := roundMs(time.Since(startTime))

	h.logger.Info("Batch processed",
		zap.Int("accepted", results.Accepted),
		zap.Int("duplicates", results.Duplicates),
		zap.Int("errors", results.Errors),
		zap.Float64("latency_ms", latencyMs),
	)

	return c.Status(fiber.StatusAccepted).JSON(BatchResponse{
		Status:      "processed",
		Results:     results,
		TotalEvents: len(body.Events),
		LatencyMs:   latencyMs,
	})
}

// verifySignature checks the X-Signature header against the raw body when a
// webhook secret is configured. Always true when no secret is set.
func (h *WebhookHandler) verifySignature(c *fiber.Ctx) bool {
	if h.secret == "" {
		return true
	}
	return signature.Verify(c.Body(), h.secret, c.Get("X-Signature"))
}

// roundMs converts a duration to milliseconds with two decimal places
func roundMs(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
