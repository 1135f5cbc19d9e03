// Package ntfy publishes the summary to an ntfy topic.
package ntfy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/freefinder/internal/notify"
)

const defaultServer = "https://ntfy.sh"

// Config holds the ntfy topic and optional auth.
type Config struct {
	Server   string
	Topic    string
	Token    string
	Username string
	Password string
	// Priority is 1 (min) to 5 (max); zero leaves the server default.
	Priority int
	// Click is opened when the notification is tapped.
	Click   string
	Timeout time.Duration
}

// Channel implements notify.Channel.
type Channel struct {
	cfg    Config
	client *http.Client
}

// New builds an ntfy channel. client may be nil.
func New(cfg Config, client *http.Client) (*Channel, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("notify.ntfy.topic is required")
	}
	if cfg.Priority < 0 || cfg.Priority > 5 {
		return nil, fmt.Errorf("notify.ntfy.priority must be between 1 and 5, got %d", cfg.Priority)
	}
	if cfg.Server == "" {
		cfg.Server = defaultServer
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
func (c *Channel) Name() string { return "ntfy" }

// Deliver posts the item lines as plain text.
func (c *Channel) Deliver(ctx context.Context, summary notify.Summary) error {
	endpoint := strings.TrimRight(c.cfg.Server, "/") + "/" + strings.Trim(c.cfg.Topic, "/")
	body := strings.Join(summary.Lines(), "\n")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("new ntfy request: %w", err)
	}
	req.Header.Set("Title", summary.Headline())
	if c.cfg.Priority > 0 {
		req.Header.Set("Priority", strconv.Itoa(c.cfg.Priority))
	}
	if c.cfg.Click != "" {
		req.Header.Set("Click", c.cfg.Click)
	}
	switch {
	case c.cfg.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	case c.cfg.Username != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post ntfy: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
