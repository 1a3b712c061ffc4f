// ABOUTME: Best-effort notification client used by short-lived processes
// ABOUTME: Posts change events to a running instance and swallows all failures

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/formbridge/internal/change"
)

// Client posts change notifications to a running formbridge instance.
//
// Delivery is strictly best effort: a mutation must never fail because the
// preview process is down or unreachable, so every failure is logged at
// debug level and dropped. A Client with an empty endpoint is a no-op.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a relay client for the given notify endpoint.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "relay"),
	}
}

// NotifyFormCreated relays a created notification.
func (c *Client) NotifyFormCreated(ctx context.Context, formID string, data any) {
	c.post(ctx, Payload{FormID: formID, ChangeType: string(change.TypeCreated), Timestamp: time.Now(), Data: data})
}

// NotifyFormUpdated relays an updated notification.
func (c *Client) NotifyFormUpdated(ctx context.Context, formID string, data any) {
	c.post(ctx, Payload{FormID: formID, ChangeType: string(change.TypeUpdated), Timestamp: time.Now(), Data: data})
}

// NotifyFormDeleted relays a deleted notification.
func (c *Client) NotifyFormDeleted(ctx context.Context, formID string) {
	c.post(ctx, Payload{FormID: formID, ChangeType: string(change.TypeDeleted), Timestamp: time.Now()})
}

func (c *Client) post(ctx context.Context, p Payload) {
	if c == nil || c.endpoint == "" {
		return
	}

	body, err := json.Marshal(p)
	if err != nil {
		c.logger.Debug("relay payload marshal failed", "form_id", p.FormID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		c.logger.Debug("relay request build failed", "form_id", p.FormID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("relay notify failed", "form_id", p.FormID, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("relay notify rejected",
			"form_id", p.FormID,
			"status", resp.StatusCode,
		)
	}
}
