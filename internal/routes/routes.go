package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/saaslytics/ingest-svc/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, webhookHandler *handlers.WebhookHandler, healthHandler *handlers.HealthHandler) {
	// Health check endpoint
	app.Get("/health", healthHandler.HealthCheck)

	// Event ingestion endpoints
	webhook := app.Group("/webhook")
	{
		webhook.Post("/events", webhookHandler.ReceiveEvent)
		webhook.Post("/events/batch", webhookHandler.ReceiveBatch)
	}
}
