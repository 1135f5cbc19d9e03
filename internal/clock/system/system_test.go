package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "expected %v between %v and %v", got, before, after)
}

func TestFixedClock(t *testing.T) {
	t.Parallel()

	chicago := time.FixedZone("CDT", -5*60*60)
	clk := NewFixed(time.Date(2025, 6, 15, 7, 0, 0, 0, chicago))
	assert.Equal(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), clk.Now())
	assert.Equal(t, clk.Now(), clk.Now())
}
