// Package dashboard posts derived metric deltas to the analytics dashboard.
// The dashboard is a best-effort sink: callers log failures and move on,
// and event processing outcomes never depend on its availability.
package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/saaslytics/ingest-svc/internal/config"
	"github.com/saaslytics/ingest-svc/internal/signature"
)

// maxResponseBytes bounds how much of a sink response is read for logging
const maxResponseBytes = 512

// MetricUpdate is a single metric delta. Fields are flattened into the
// outbound JSON object next to metric and action.
type MetricUpdate struct {
	Metric string
	Action string
	Fields map[string]any
}

// MarshalJSON flattens Fields into the top-level object:
// {"metric": ..., "action": ..., <fields...>}
func (u MetricUpdate) MarshalJSON() ([]byte, error) {
	payload := make(map[string]any, len(u.Fields)+2)
	for k, v := range u.Fields {
		payload[k] = v
	}
	payload["metric"] = u.Metric
	payload["action"] = u.Action
	return json.Marshal(payload)
}

// Client posts metric updates over HTTP with a bounded timeout and an
// optional HMAC signature header.
type Client struct {
	cfg    *config.DashboardConfig
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg *config.DashboardConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout()},
		logger: logger,
	}
}

// Enabled reports whether updates should be attempted at all
func (c *Client) Enabled() bool {
	return c.cfg.Enabled
}

// Update posts a metric delta to the dashboard API. A non-2xx response or
// transport error is returned as an error; callers treat it as non-fatal.
func (c *Client) Update(ctx context.Context, update MetricUpdate) error {
	if !c.cfg.Enabled {
		return nil
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal metric update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create dashboard request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.cfg.Secret != "" {
		sig, err := signature.Sign(payload, c.cfg.Secret)
		if err != nil {
			return fmt.Errorf("failed to sign dashboard payload: %w", err)
		}
		req.Header.Set("X-Signature", sig)
	}

	startTime := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dashboard request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dashboard returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("Dashboard updated",
		zap.String("metric", update.Metric),
		zap.String("action", update.Action),
		zap.Int64("latency_ms", time.Since(startTime).Milliseconds()),
	)
	return nil
}
