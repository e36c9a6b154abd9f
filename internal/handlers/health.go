package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/saaslytics/ingest-svc/internal/idempotency"
	"github.com/saaslytics/ingest-svc/internal/queue"
)

// healthCheckTimeout bounds the dependency pings per health probe
const healthCheckTimeout = 5 * time.Second

// HealthHandler reports process liveness and queue depths
type HealthHandler struct {
	queue  queue.Queue
	store  idempotency.Store
	logger *zap.Logger
}

func NewHealthHandler(q queue.Queue, store idempotency.Store, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		queue:  q,
		store:  store,
		logger: logger,
	}
}

type HealthResponse struct {
	Status          string `json:"status"`
	QueueDepth      int64  `json:"queue_depth"`
	InFlightDepth   int64  `json:"in_flight_depth"`
	DeadLetterDepth int64  `json:"dead_letter_depth"`
	Timestamp       string `json:"timestamp"`
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)

	if err := h.store.Ping(ctx); err != nil {
		return h.unhealthy(c, "idempotency store unreachable", err, now)
	}
	if err := h.queue.Ping(ctx); err != nil {
		return h.unhealthy(c, "queue unreachable", err, now)
	}

	depths, err := h.queue.AllDepths(ctx)
	if err != nil {
		return h.unhealthy(c, "failed to read queue depths", err, now)
	}

	return c.JSON(HealthResponse{
		Status:          "healthy",
		QueueDepth:      depths.Pending,
		InFlightDepth:   depths.InFlight,
		DeadLetterDepth: depths.DeadLetter,
		Timestamp:       now,
	})
}

func (h *HealthHandler) unhealthy(c *fiber.Ctx, reason string, err error, now string) error {
	h.logger.Error("Health check failed", zap.String("reason", reason), zap.Error(err))
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"status":    "unhealthy",
		"error":     reason,
		"timestamp": now,
	})
}
