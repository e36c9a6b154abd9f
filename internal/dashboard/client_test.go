package dashboard

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saaslytics/ingest-svc/internal/config"
	"github.com/saaslytics/ingest-svc/internal/signature"
)

func newTestClient(url, secret string) *Client {
	return NewClient(&config.DashboardConfig{
		Enabled:        true,
		APIURL:         url,
		Secret:         secret,
		TimeoutSeconds: 2,
	}, zap.NewNop())
}

func TestUpdateFlattensFields(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	err := client.Update(context.Background(), MetricUpdate{
		Metric: "mrr",
		Action: "add",
		Fields: map[string]any{"value": 99.99, "plan": "premium"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"metric": "mrr",
		"action": "add",
		"value":  99.99,
		"plan":   "premium",
	}, received)
}

func TestUpdateSignsPayload(t *testing.T) {
	const secret = "dash-secret"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		sig := r.Header.Get("X-Signature")
		require.NotEmpty(t, sig)
		assert.True(t, signature.Verify(body, secret, sig), "signature must match the exact payload bytes")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL, secret)
	err := client.Update(context.Background(), MetricUpdate{
		Metric: "user_count",
		Action: "increment",
	})
	require.NoError(t, err)
}

func TestUpdateNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	err := client.Update(context.Background(), MetricUpdate{Metric: "mrr", Action: "add"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestUpdateDisabledMakesNoRequest(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := NewClient(&config.DashboardConfig{
		Enabled:        false,
		APIURL:         server.URL,
		TimeoutSeconds: 2,
	}, zap.NewNop())

	assert.False(t, client.Enabled())
	require.NoError(t, client.Update(context.Background(), MetricUpdate{Metric: "mrr", Action: "add"}))
	assert.Zero(t, calls.Load())
}
