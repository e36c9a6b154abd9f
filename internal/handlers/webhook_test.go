package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saaslytics/ingest-svc/internal/config"
	"github.com/saaslytics/ingest-svc/internal/idempotency"
	"github.com/saaslytics/ingest-svc/internal/queue"
	"github.com/saaslytics/ingest-svc/internal/signature"
)

type testEnv struct {
	app   *fiber.App
	queue *queue.MemoryQueue
	store *idempotency.MemoryStore
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()

	q := queue.NewMemoryQueue()
	store := idempotency.NewMemoryStore()
	cfg := &config.Config{
		Idempotency:   config.IdempotencyConfig{TTLHours: 24},
		WebhookSecret: secret,
	}

	app := fiber.New(fiber.Config{
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})

	logger := zap.NewNop()
	webhookHandler := NewWebhookHandler(q, store, cfg, logger)
	healthHandler := NewHealthHandler(q, store, logger)

	app.Get("/health", healthHandler.HealthCheck)
	app.Post("/webhook/events", webhookHandler.ReceiveEvent)
	app.Post("/webhook/events/batch", webhookHandler.ReceiveBatch)

	return &testEnv{app: app, queue: q, store: store}
}

func (e *testEnv) post(t *testing.T, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	decoded := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func (e *testEnv) depth(t *testing.T) int64 {
	t.Helper()
	depth, err := e.queue.Depth(context.Background())
	require.NoError(t, err)
	return depth
}

func validEventJSON(id string) string {
	return fmt.Sprintf(`{
		"event_id": %q,
		"event_type": "user_signup",
		"user_id": "user_1",
		"timestamp": "2025-01-01T00:00:00Z",
		"metadata": {"source": "organic"}
	}`, id)
}

func TestReceiveEventAccepted(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.post(t, "/webhook/events", validEventJSON("evt_1"), nil)

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "evt_1", body["event_id"])
	assert.NotEmpty(t, body["queued_at"])
	assert.Contains(t, body, "latency_ms")
	assert.EqualValues(t, 1, env.depth(t))
}

func TestReceiveEventDuplicates(t *testing.T) {
	env := newTestEnv(t, "")

	// Same event_id three times: one accepted, two ignored
	resp, body := env.post(t, "/webhook/events", validEventJSON("evt_1"), nil)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])

	for i := 0; i < 2; i++ {
		resp, body = env.post(t, "/webhook/events", validEventJSON("evt_1"), nil)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "ignored", body["status"])
		assert.Equal(t, "duplicate_event", body["reason"])
		assert.Equal(t, "evt_1", body["event_id"])
	}

	assert.EqualValues(t, 1, env.depth(t), "duplicates must not enqueue")
}

func TestReceiveEventMissingFields(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.post(t, "/webhook/events",
		`{"event_id": "evt_1", "event_type": "user_signup"}`, nil)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, []any{"timestamp"}, body["missing"])
	assert.Zero(t, env.depth(t), "rejected events must not enqueue")

	// A rejected event is not marked as seen either: resubmitting the full
	// event succeeds
	resp, _ = env.post(t, "/webhook/events", validEventJSON("evt_1"), nil)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestReceiveEventMalformedJSON(t *testing.T) {
	env := newTestEnv(t, "")

	resp, _ := env.post(t, "/webhook/events", `{"event_id": `, nil)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, env.depth(t))
}

func TestReceiveEventSignature(t *testing.T) {
	env := newTestEnv(t, "topsecret")
	payload := validEventJSON("evt_1")

	t.Run("missing signature rejected", func(t *testing.T) {
		resp, _ := env.post(t, "/webhook/events", payload, nil)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		resp, _ := env.post(t, "/webhook/events", payload, map[string]string{
			"X-Signature": "sha256=deadbeef",
		})
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid signature accepted", func(t *testing.T) {
		sig, err := signature.Sign([]byte(payload), "topsecret")
		require.NoError(t, err)

		resp, _ := env.post(t, "/webhook/events", payload, map[string]string{
			"X-Signature": sig,
		})
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	})
}

func TestReceiveBatch(t *testing.T) {
	env := newTestEnv(t, "")

	events := make([]string, 0, 6)
	for i := 0; i < 5; i++ {
		events = append(events, validEventJSON(fmt.Sprintf("evt_%d", i)))
	}
	// One event missing its event_id
	events = append(events, `{"event_type": "user_signup", "timestamp": "2025-01-01T00:00:00Z"}`)

	body := fmt.Sprintf(`{"events": [%s]}`, joinJSON(events))
	resp, decoded := env.post(t, "/webhook/events/batch", body, nil)

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "processed", decoded["status"])
	assert.EqualValues(t, 6, decoded["total_events"])

	results := decoded["results"].(map[string]any)
	assert.EqualValues(t, 5, results["accepted"])
	assert.EqualValues(t, 0, results["duplicates"])
	assert.EqualValues(t, 1, results["errors"])
	assert.EqualValues(t, 5, env.depth(t))
}

func TestReceiveBatchDuplicatesCounted(t *testing.T) {
	env := newTestEnv(t, "")

	body := fmt.Sprintf(`{"events": [%s, %s]}`,
		validEventJSON("evt_1"), validEventJSON("evt_1"))
	resp, decoded := env.post(t, "/webhook/events/batch", body, nil)

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	results := decoded["results"].(map[string]any)
	assert.EqualValues(t, 1, results["accepted"])
	assert.EqualValues(t, 1, results["duplicates"])
	assert.EqualValues(t, 1, env.depth(t))
}

func TestReceiveBatchMissingEvents(t *testing.T) {
	env := newTestEnv(t, "")

	resp, decoded := env.post(t, "/webhook/events/batch", `{}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decoded["error"], "events array")
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, "")
	env.post(t, "/webhook/events", validEventJSON("evt_1"), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "healthy", decoded["status"])
	assert.EqualValues(t, 1, decoded["queue_depth"])
	assert.NotEmpty(t, decoded["timestamp"])
}

func joinJSON(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
