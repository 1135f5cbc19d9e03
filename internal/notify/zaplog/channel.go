// Package zaplog writes the summary to the structured log.
package zaplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/freefinder/internal/notify"
)

// Channel implements notify.Channel by logging each item.
type Channel struct {
	logger *zap.Logger
}

// New returns a Channel. A nil logger uses the global one.
func New(logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.L()
	}
	return &Channel{logger: logger.Named("notify")}
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return "log" }

// Deliver never fails.
func (c *Channel) Deliver(_ context.Context, summary notify.Summary) error {
	c.logger.Info(summary.Headline(), zap.Int("count", summary.Count))
	for _, item := range summary.Items {
		c.logger.Info("new free item", zap.String("title", item.Title), zap.String("url", item.URL))
	}
	return nil
}
