// Package system provides clock implementations for the crawl controller.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a crawler.Clock frozen at one instant. Used by tests and by
// `freefinder purge --at`.
type Fixed struct {
	at time.Time
}

// NewFixed returns a clock that always reports at (converted to UTC).
func NewFixed(at time.Time) *Fixed {
	return &Fixed{at: at.UTC()}
}

// Now returns the frozen instant.
func (f *Fixed) Now() time.Time {
	return f.at
}

