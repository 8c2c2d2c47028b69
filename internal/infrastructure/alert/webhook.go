// Package alert delivers guardrail threshold alerts to a webhook endpoint.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/eidolabs/forge/internal/app"
	"github.com/eidolabs/forge/internal/application/port/output"
)

// defaultCooldown suppresses repeat alerts of the same kind
const defaultCooldown = 15 * time.Minute

// WebhookNotifier posts JSON alerts to a configured URL. Alerts of the same
// kind within the cooldown window are dropped.
type WebhookNotifier struct {
	url        string
	cooldown   time.Duration
	httpClient *http.Client
	clock      func() time.Time

	mu        sync.Mutex
	lastFired map[string]time.Time
}

var _ output.AlertNotifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a notifier for the given webhook URL
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		cooldown:   defaultCooldown,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      time.Now,
		lastFired:  make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Used by tests.
func (n *WebhookNotifier) SetClock(clock func() time.Time) {
	n.clock = clock
}

// CostThresholdExceeded posts a cost alert unless one fired within the
// cooldown window. Delivery failures are logged, never propagated.
func (n *WebhookNotifier) CostThresholdExceeded(ctx context.Context, currentCost, threshold float64) {
	if !n.shouldFire("cost_threshold") {
		return
	}

	payload := map[string]interface{}{
		"alert":        "cost_threshold_exceeded",
		"current_cost": currentCost,
		"threshold":    threshold,
		"fired_at":     n.clock().UTC().Format(time.RFC3339),
	}
	if err := n.post(ctx, payload); err != nil {
		app.GetLogger().Warn("cost alert delivery failed: %v", err)
	}
}

func (n *WebhookNotifier) shouldFire(kind string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	if last, ok := n.lastFired[kind]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.lastFired[kind] = now
	return true
}

// retryPolicy doubles from 2s and caps at 10s
func retryPolicy() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     2 * time.Second,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         10 * time.Second,
	}
}

// post delivers the payload with exponential backoff, up to 3 attempts
func (n *WebhookNotifier) post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("webhook rejected alert: %d", resp.StatusCode))
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, op, backoff.WithBackOff(retryPolicy()), backoff.WithMaxTries(3))
	return err
}
