// loadgen sends synthetic SaaS telemetry events at a running ingest service,
// covering the basic flow, duplicate absorption, batch submission and burst
// load scenarios.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saaslytics/ingest-svc/internal/logger"
	"github.com/saaslytics/ingest-svc/internal/models"
)

var (
	plans      = []string{"free", "basic", "premium", "enterprise"}
	planPrices = map[string]float64{"free": 0, "basic": 29.99, "premium": 99.99, "enterprise": 499.99}
	features   = []string{"api_call", "report_generation", "data_export", "user_invite", "dashboard_view"}
	sources    = []string{"organic", "paid_search", "referral", "direct", "social"}
	countries  = []string{"US", "UK", "CA", "AU", "DE"}
)

type generator struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the ingest service")
	scenario := flag.String("scenario", "all", "scenario to run: basic, duplicate, batch, burst, all")
	count := flag.Int("count", 50, "event count for the burst and batch scenarios")
	flag.Parse()

	log, err := logger.New("info")
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	g := &generator{
		baseURL: *baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}

	if !g.checkHealth() {
		g.log.Fatal("Ingest service not reachable, start the server first",
			zap.String("url", *baseURL),
		)
	}

	switch *scenario {
	case "basic":
		g.runBasic()
	case "duplicate":
		g.runDuplicate()
	case "batch":
		g.runBatch(*count)
	case "burst":
		g.runBurst(*count)
	case "all":
		g.runBasic()
		g.runDuplicate()
		g.runBatch(*count)
		g.runBurst(*count)
	default:
		g.log.Error("Unknown scenario", zap.String("scenario", *scenario))
		os.Exit(1)
	}

	g.checkHealth()
}

func (g *generator) runBasic() {
	g.log.Info("Scenario: basic event flow")
	for _, event := range []models.Event{newSignup(), newSubscription(), newUsage()} {
		g.sendEvent(event)
		time.Sleep(500 * time.Millisecond)
	}
}

func (g *generator) runDuplicate() {
	g.log.Info("Scenario: duplicate submissions, expecting 1 accepted and 2 ignored")
	event := newSignup()
	for i := 0; i < 3; i++ {
		g.sendEvent(event)
	}
}

func (g *generator) runBatch(count int) {
	g.log.Info("Scenario: batch submission", zap.Int("events", count))
	events := make([]models.Event, count)
	for i := range events {
		events[i] = randomEvent()
	}
	g.sendBatch(events)
}

func (g *generator) runBurst(count int) {
	g.log.Info("Scenario: burst load", zap.Int("events", count))
	accepted := 0
	for i := 0; i < count; i++ {
		if g.sendEvent(randomEvent()) {
			accepted++
		}
		time.Sleep(100 * time.Millisecond)
	}
	g.log.Info("Burst complete", zap.Int("accepted", accepted), zap.Int("sent", count))
}

func (g *generator) sendEvent(event models.Event) bool {
	status, body, err := g.post("/webhook/events", event)
	if err != nil {
		g.log.Error("Failed to send event", zap.Error(err))
		return false
	}

	switch status {
	case http.StatusAccepted:
		g.log.Info("Event accepted",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.EventID),
		)
		return true
	case http.StatusOK:
		g.log.Warn("Event ignored as duplicate", zap.String("event_id", event.EventID))
		return true
	default:
		g.log.Error("Event rejected",
			zap.Int("status", status),
			zap.String("body", body),
		)
		return false
	}
}

func (g *generator) sendBatch(events []models.Event) {
	status, body, err := g.post("/webhook/events/batch", map[string]any{"events": events})
	if err != nil {
		g.log.Error("Failed to send batch", zap.Error(err))
		return
	}
	if status != http.StatusAccepted {
		g.log.Error("Batch rejected", zap.Int("status", status), zap.String("body", body))
		return
	}
	g.log.Info("Batch accepted", zap.String("response", body))
}

func (g *generator) checkHealth() bool {
	resp, err := g.client.Get(g.baseURL + "/health")
	if err != nil {
		g.log.Error("Health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		g.log.Error("Service unhealthy", zap.Int("status", resp.StatusCode))
		return false
	}
	g.log.Info("Service healthy", zap.String("response", string(body)))
	return true
}

func (g *generator) post(path string, payload any) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}

	resp, err := g.client.Post(g.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), nil
}

func randomEvent() models.Event {
	switch rand.Intn(3) {
	case 0:
		return newSignup()
	case 1:
		return newSubscription()
	default:
		return newUsage()
	}
}

func newSignup() models.Event {
	userID := "user_" + uuid.NewString()[:8]
	return models.Event{
		EventID:   "evt_" + uuid.NewString(),
		EventType: string(models.UserSignup),
		UserID:    userID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata: map[string]any{
			"source":  pick(sources),
			"email":   userID + "@example.com",
			"company": fmt.Sprintf("Company %d", rand.Intn(100)+1),
			"country": pick(countries),
		},
	}
}

func newSubscription() models.Event {
	plan := pick(plans)
	return models.Event{
		EventID:   "evt_" + uuid.NewString(),
		EventType: string(models.SubscriptionCreated),
		UserID:    "user_" + uuid.NewString()[:8],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata: map[string]any{
			"plan":          plan,
			"amount":        planPrices[plan],
			"billing_cycle": pick([]string{"monthly", "annual"}),
			"trial":         plan == "free",
		},
	}
}

func newUsage() models.Event {
	return models.Event{
		EventID:   "evt_" + uuid.NewString(),
		EventType: string(models.UsageTracked),
		UserID:    "user_" + uuid.NewString()[:8],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata: map[string]any{
			"feature":     pick(features),
			"quantity":    rand.Intn(100) + 1,
			"duration_ms": rand.Intn(4900) + 100,
		},
	}
}

func pick(options []string) string {
	return options[rand.Intn(len(options))]
}
