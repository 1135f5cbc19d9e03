package politeness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/freefinder/internal/crawler"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default range", Config{DetailMin: 750 * time.Millisecond, DetailMax: 1500 * time.Millisecond}, false},
		{"zero range", Config{}, false},
		{"negative min", Config{DetailMin: -time.Second, DetailMax: time.Second}, true},
		{"max below min", Config{DetailMin: 2 * time.Second, DetailMax: time.Second}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDetailDelayWithinBounds(t *testing.T) {
	t.Parallel()
	p, err := New(Config{DetailMin: 750 * time.Millisecond, DetailMax: 1500 * time.Millisecond}, nil)
	require.NoError(t, err)

	for range 200 {
		d := p.DetailDelay()
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestWaitSleepsOnlyBeforeDetail(t *testing.T) {
	t.Parallel()
	p, err := New(Config{DetailMin: time.Second, DetailMax: time.Second}, nil)
	require.NoError(t, err)
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, p.Wait(context.Background(), crawler.PageSearch))
	require.NoError(t, p.Wait(context.Background(), crawler.PageDetail))
	assert.Equal(t, []time.Duration{time.Second}, slept)
}

func TestWaitHonorsCancellation(t *testing.T) {
	t.Parallel()
	p, err := New(Config{DetailMin: time.Hour, DetailMax: time.Hour}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Wait(ctx, crawler.PageDetail)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRateCeiling(t *testing.T) {
	t.Parallel()
	p, err := New(Config{MaxRPS: 20}, nil)
	require.NoError(t, err)

	start := time.Now()
	for range 3 {
		require.NoError(t, p.Wait(context.Background(), crawler.PageSearch))
	}
	// Burst of one: the second and third requests each wait about 50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
