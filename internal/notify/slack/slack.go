// Package slack posts the summary to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/freefinder/internal/notify"
)

// Config holds the webhook settings.
type Config struct {
	WebhookURL string
	Timeout    time.Duration
}

// Channel implements notify.Channel.
type Channel struct {
	webhookURL string
	client     *http.Client
}

// New builds a Slack channel. client may be nil.
func New(cfg Config, client *http.Client) (*Channel, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("notify.slack.webhook_url is required")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Channel{webhookURL: cfg.WebhookURL, client: client}, nil
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return "slack" }

// Deliver posts {"text": ...} to the webhook.
func (c *Channel) Deliver(ctx context.Context, summary notify.Summary) error {
	payload, err := json.Marshal(map[string]string{"text": summary.Text()})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
