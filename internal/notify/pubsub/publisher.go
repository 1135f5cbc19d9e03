// Package pubsub publishes the summary as JSON to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/freefinder/internal/notify"
)

// messagePublisher is the slice of *pubsub.Publisher the channel uses.
type messagePublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
	Stop()
}

// Config names the target topic.
type Config struct {
	ProjectID string
	TopicID   string
}

// Channel implements notify.Channel on Pub/Sub.
type Channel struct {
	publisher messagePublisher
	client    *pubsub.Client
}

// New dials Pub/Sub and returns a channel publishing to cfg.TopicID.
func New(ctx context.Context, cfg Config) (*Channel, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("notify.pubsub.project_id and notify.pubsub.topic_id are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Channel{
		publisher: &topicPublisher{publisher: client.Publisher(cfg.TopicID)},
		client:    client,
	}, nil
}

func newWithPublisher(p messagePublisher) *Channel {
	return &Channel{publisher: p}
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return "pubsub" }

// Deliver publishes the summary and waits for the server ack.
func (c *Channel) Deliver(ctx context.Context, summary notify.Summary) error {
	if c.publisher == nil {
		return errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"count": strconv.Itoa(summary.Count)},
	}
	if _, err := c.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (c *Channel) Close() error {
	if c.publisher != nil {
		c.publisher.Stop()
	}
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

type topicPublisher struct {
	publisher *pubsub.Publisher
}

func (t *topicPublisher) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	id, err := t.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub result: %w", err)
	}
	return id, nil
}

func (t *topicPublisher) Stop() { t.publisher.Stop() }
