// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/freefinder/internal/crawler"
	"github.com/JakeFAU/freefinder/internal/metrics"
)

// Browser-like defaults sent with every request.
const (
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 " +
		"(KHTML, like Gecko) Version/17.0 Safari/605.1.15"
	defaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	defaultAcceptLanguage = "en-US,en;q=0.9"
	defaultTimeout        = 15 * time.Second
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Headers are added to the default browser header set.
	Headers http.Header
}

// Pacer delays a request before it is sent.
type Pacer interface {
	Wait(ctx context.Context, kind crawler.PageKind) error
}

// Fetcher implements crawler.Fetcher using one Colly collector whose
// transport, cookie jar and robots cache every request shares.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	pacer         Pacer
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. pacer may be nil.
func New(cfg Config, pacer Pacer, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.ParseHTTPErrorResponse = true
	c.WithTransport(&robotsAwareTransport{base: newHTTPTransport(), logger: logger})
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		pacer:         pacer,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET using Colly. 403 and 429 responses are
// returned alongside ErrBlocked; other statuses are left to the caller.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.pacer != nil {
		if err := f.pacer.Wait(ctx, request.Kind); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("pace %s fetch: %w", request.Kind, err)
		}
	}

	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		metrics.ObserveFetch(string(request.Kind), 0)
		return crawler.FetchResponse{}, classifyError(request.URL, err)
	}
	metrics.ObserveFetch(string(request.Kind), result.StatusCode)
	f.logger.Debug("fetched",
		zap.String("url", request.URL),
		zap.String("kind", string(request.Kind)),
		zap.Int("status_code", result.StatusCode),
		zap.Duration("duration", result.Duration))

	if isBlockStatus(result.StatusCode) {
		return result, fmt.Errorf("%w: GET %s returned %d", crawler.ErrBlocked, request.URL, result.StatusCode)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.setHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) setHeaders(r *colly.Request) {
	r.Headers.Set("Accept", defaultAccept)
	r.Headers.Set("Accept-Language", defaultAcceptLanguage)
	r.Headers.Set("Connection", "keep-alive")
	for key, values := range f.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func isBlockStatus(code int) bool {
	return code == http.StatusForbidden || code == http.StatusTooManyRequests
}

// classifyError maps a colly or transport error onto the crawler taxonomy.
func classifyError(url string, err error) error {
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return fmt.Errorf("%w: GET %s: %w", crawler.ErrPolicyViolation, url, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("GET %s: %w", url, err)
	case isTimeout(err):
		return fmt.Errorf("%w: GET %s: %w", crawler.ErrTimeout, url, err)
	default:
		return fmt.Errorf("%w: GET %s: %w", crawler.ErrNetwork, url, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
