// Package memory records summaries in memory. Useful in tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/freefinder/internal/notify"
)

// Channel stores every delivered summary for inspection.
type Channel struct {
	mu        sync.RWMutex
	summaries []notify.Summary
	err       error
}

// New returns a memory Channel.
func New() *Channel {
	return &Channel{}
}

// FailWith makes subsequent deliveries return err.
func (c *Channel) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return "memory" }

// Deliver records the summary.
func (c *Channel) Deliver(_ context.Context, summary notify.Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.summaries = append(c.summaries, summary)
	return nil
}

// Summaries returns a copy of the recorded summaries.
func (c *Channel) Summaries() []notify.Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]notify.Summary, len(c.summaries))
	copy(out, c.summaries)
	return out
}
