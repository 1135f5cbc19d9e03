// Package politeness paces requests: a global token bucket for every fetch
// plus a randomized pause before each listing detail page.
package politeness

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/freefinder/internal/crawler"
	"github.com/JakeFAU/freefinder/internal/metrics"
)

// Config holds the pacing knobs.
type Config struct {
	// DetailMin and DetailMax bound the pause before each detail fetch.
	DetailMin time.Duration
	DetailMax time.Duration
	// MaxRPS caps all requests; zero or negative means unlimited.
	MaxRPS float64
}

// Validate checks 0 <= DetailMin <= DetailMax.
func (c Config) Validate() error {
	if c.DetailMin < 0 {
		return fmt.Errorf("detail delay min must be >= 0, got %s", c.DetailMin)
	}
	if c.DetailMax < c.DetailMin {
		return fmt.Errorf("detail delay max %s is below min %s", c.DetailMax, c.DetailMin)
	}
	return nil
}

// Pacer applies the delays. It is not safe for concurrent use, which matches
// the single-threaded pipeline.
type Pacer struct {
	cfg     Config
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// New validates cfg and builds a Pacer.
func New(cfg Config, logger *zap.Logger) (*Pacer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.MaxRPS > 0 {
		limit = rate.Limit(cfg.MaxRPS)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pacer{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepContext,
		logger:  logger,
	}, nil
}

// Wait blocks before a fetch of the given kind.
func (p *Pacer) Wait(ctx context.Context, kind crawler.PageKind) error {
	if kind == crawler.PageDetail {
		delay := p.DetailDelay()
		metrics.ObservePolitenessDelay(delay)
		p.logger.Debug("politeness delay", zap.Duration("delay", delay))
		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("politeness delay: %w", err)
		}
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// DetailDelay draws a delay uniformly from [DetailMin, DetailMax].
func (p *Pacer) DetailDelay() time.Duration {
	return p.cfg.DetailMin + randomJitter(p.cfg.DetailMax-p.cfg.DetailMin)
}

// randomJitter returns a value in [0, limit].
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
