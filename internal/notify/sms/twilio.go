// Package sms sends the summary as a text message through the Twilio
// Messages API.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/freefinder/internal/notify"
)

const (
	defaultAPIBase = "https://api.twilio.com"
	// maxBodyLength is Twilio's limit for a single message body.
	maxBodyLength = 1600
)

// Config holds the Twilio account and numbers.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
	APIBase    string
	Timeout    time.Duration
}

// Channel implements notify.Channel on Twilio.
type Channel struct {
	cfg    Config
	client *http.Client
}

// New validates cfg and returns a Channel. client may be nil.
func New(cfg Config, client *http.Client) (*Channel, error) {
	switch {
	case cfg.AccountSID == "" || cfg.AuthToken == "":
		return nil, errors.New("notify.sms.account_sid and notify.sms.auth_token are required")
	case cfg.From == "":
		return nil, errors.New("notify.sms.from is required")
	case len(cfg.To) == 0:
		return nil, errors.New("notify.sms.to is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Channel{cfg: cfg, client: client}, nil
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return "sms" }

// Deliver sends one message per recipient. The first failure is returned
// after every recipient has been attempted.
func (c *Channel) Deliver(ctx context.Context, summary notify.Summary) error {
	body := truncate(summary.Text(), maxBodyLength)
	var errs []error
	for _, to := range c.cfg.To {
		if err := c.send(ctx, to, body); err != nil {
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Channel) send(ctx context.Context, to, body string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(c.cfg.APIBase, "/"), url.PathEscape(c.cfg.AccountSID))
	form := url.Values{"From": {c.cfg.From}, "To": {to}, "Body": {body}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post twilio: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		return fmt.Errorf("twilio returned %d (code %d): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("twilio returned %d", resp.StatusCode)
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
