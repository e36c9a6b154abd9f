package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/saaslytics/ingest-svc/internal/config"
	"github.com/saaslytics/ingest-svc/internal/consumer"
	"github.com/saaslytics/ingest-svc/internal/dashboard"
	"github.com/saaslytics/ingest-svc/internal/handlers"
	"github.com/saaslytics/ingest-svc/internal/idempotency"
	"github.com/saaslytics/ingest-svc/internal/logger"
	"github.com/saaslytics/ingest-svc/internal/metrics"
	"github.com/saaslytics/ingest-svc/internal/queue"
	"github.com/saaslytics/ingest-svc/internal/routes"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	// Select the queue and idempotency backends
	ctx := context.Background()
	var q queue.Queue
	var store idempotency.Store

	switch cfg.QueueBackend {
	case config.BackendRedis:
		redisQueue, err := queue.NewRedisQueue(ctx, &cfg.Redis, log)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() {
			if err := redisQueue.Close(); err != nil {
				log.Error("Error closing Redis connection", zap.Error(err))
			}
		}()
		q = redisQueue
		store = idempotency.NewRedisStore(redisQueue.Client())
	case config.BackendMemory:
		log.Warn("Using in-memory queue backend, events will not survive restarts")
		q = queue.NewMemoryQueue()
		store = idempotency.NewMemoryStore()
	}

	// Metrics listener
	if cfg.Metrics.Enabled {
		go metrics.Serve(cfg.Metrics.Port, log)
	}

	// Start the batch consumer
	dashboardClient := dashboard.NewClient(&cfg.Dashboard, log)
	batchConsumer := consumer.NewConsumer(&cfg.Consumer, q, dashboardClient, log)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		batchConsumer.Run(consumerCtx)
	}()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:     "Event Ingest Service",
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	// Setup routes
	webhookHandler := handlers.NewWebhookHandler(q, store, cfg, log)
	healthHandler := handlers.NewHealthHandler(q, store, log)
	routes.SetupRoutes(app, webhookHandler, healthHandler)

	// Start server in a goroutine
	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Webhook receiver starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutdown signal received, finishing current batch")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	// Stop the consumer; it finishes the in-flight batch before exiting
	stopConsumer()
	<-consumerDone

	log.Info("Shutdown complete")
}
