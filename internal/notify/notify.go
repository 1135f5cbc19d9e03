// Package notify builds the new-listing summary and fans it out to every
// registered notification channel.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/freefinder/internal/crawler"
	"github.com/JakeFAU/freefinder/internal/metrics"
)

// Item is one listing in a Summary.
type Item struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Summary is the payload every channel receives.
type Summary struct {
	Count int    `json:"count"`
	Items []Item `json:"items"`
}

// NewSummary builds a Summary from records in their given order.
func NewSummary(records []crawler.ListingRecord) Summary {
	items := make([]Item, 0, len(records))
	for _, rec := range records {
		items = append(items, Item{Title: rec.Title, URL: rec.URL})
	}
	return Summary{Count: len(items), Items: items}
}

// Headline is a one-line description suitable for a title or subject.
func (s Summary) Headline() string {
	if s.Count == 1 {
		return "FreeFinder: 1 new free item"
	}
	return fmt.Sprintf("FreeFinder: %d new free items", s.Count)
}

// Lines renders one "title - url" line per item.
func (s Summary) Lines() []string {
	lines := make([]string, 0, len(s.Items))
	for _, item := range s.Items {
		lines = append(lines, item.Title+" - "+item.URL)
	}
	return lines
}

// Text is the headline followed by one line per item.
func (s Summary) Text() string {
	return s.Headline() + "\n" + strings.Join(s.Lines(), "\n")
}

// Channel delivers a Summary to one destination.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, summary Summary) error
}

// Dispatcher fans a Summary out to its channels, one after another.
type Dispatcher struct {
	channels []Channel
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(logger *zap.Logger, channels ...Channel) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{channels: channels, logger: logger}
}

// Register adds a channel.
func (d *Dispatcher) Register(ch Channel) {
	d.channels = append(d.channels, ch)
}

// Channels returns the registered channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Dispatch implements crawler.Notifier. A failing channel never stops the
// others; its error is returned in the outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, records []crawler.ListingRecord) []crawler.DeliveryOutcome {
	if len(records) == 0 {
		return nil
	}
	summary := NewSummary(records)
	outcomes := make([]crawler.DeliveryOutcome, 0, len(d.channels))
	for _, ch := range d.channels {
		err := deliver(ctx, ch, summary)
		metrics.ObserveNotification(ch.Name(), err == nil)
		if err != nil {
			d.logger.Warn("notification failed", zap.String("channel", ch.Name()), zap.Error(err))
		} else {
			d.logger.Info("notification sent", zap.String("channel", ch.Name()), zap.Int("count", summary.Count))
		}
		outcomes = append(outcomes, crawler.DeliveryOutcome{Channel: ch.Name(), Err: err})
	}
	return outcomes
}

func deliver(ctx context.Context, ch Channel, summary Summary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", ch.Name(), r)
		}
	}()
	return ch.Deliver(ctx, summary)
}
