// Package metrics exposes Prometheus collectors for freefinder runs and
// flushes them for batch scraping.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every freefinder collector. It is separate from the default
// registry so textfile and push output only carry crawl metrics.
var Registry = prometheus.NewRegistry()

var (
	listingsTotal          *prometheus.CounterVec
	fetchesTotal           *prometheus.CounterVec
	storeOutcomesTotal     *prometheus.CounterVec
	purgedTotal            prometheus.Counter
	notificationsTotal     *prometheus.CounterVec
	politenessDelaySeconds prometheus.Histogram
	runDurationSeconds     prometheus.Gauge
	runsTotal              *prometheus.CounterVec
	lastSuccessTimestamp   prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		factory := promauto.With(Registry)

		listingsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freefinder_listings_total",
				Help: "Listings evaluated, labeled by decision and drop reason.",
			},
			[]string{"decision", "reason"},
		)

		fetchesTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freefinder_fetches_total",
				Help: "HTTP fetches, labeled by page kind and status class.",
			},
			[]string{"kind", "status"},
		)

		storeOutcomesTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freefinder_store_upserts_total",
				Help: "Store upserts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		purgedTotal = factory.NewCounter(
			prometheus.CounterOpts{
				Name: "freefinder_purged_listings_total",
				Help: "Listings removed by the freshness purge.",
			},
		)

		notificationsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freefinder_notifications_total",
				Help: "Notification deliveries, labeled by channel and status.",
			},
			[]string{"channel", "status"},
		)

		politenessDelaySeconds = factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "freefinder_politeness_delay_seconds",
				Help:    "Randomized delays applied before detail-page fetches.",
				Buckets: []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 5},
			},
		)

		runDurationSeconds = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "freefinder_run_duration_seconds",
				Help: "Wall time of the most recent crawl run.",
			},
		)

		runsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freefinder_runs_total",
				Help: "Crawl runs, labeled by status.",
			},
			[]string{"status"},
		)

		lastSuccessTimestamp = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "freefinder_last_success_timestamp_seconds",
				Help: "Unix time of the last successful crawl run.",
			},
		)
	})
}

// StatusClass buckets an HTTP status code, "error" when no response arrived.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// ObserveListing counts one filter decision.
func ObserveListing(decision, reason string) {
	Init()
	if reason == "" {
		reason = "none"
	}
	listingsTotal.WithLabelValues(decision, reason).Inc()
}

// ObserveFetch counts one fetch by page kind and status code.
func ObserveFetch(kind string, statusCode int) {
	Init()
	fetchesTotal.WithLabelValues(kind, StatusClass(statusCode)).Inc()
}

// ObserveStore counts one upsert outcome.
func ObserveStore(outcome string) {
	Init()
	storeOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObservePurged adds purged rows.
func ObservePurged(n int64) {
	Init()
	if n > 0 {
		purgedTotal.Add(float64(n))
	}
}

// ObserveNotification counts one channel delivery.
func ObserveNotification(channel string, ok bool) {
	Init()
	status := "success"
	if !ok {
		status = "failure"
	}
	notificationsTotal.WithLabelValues(channel, status).Inc()
}

// ObservePolitenessDelay records a detail-page delay.
func ObservePolitenessDelay(d time.Duration) {
	Init()
	politenessDelaySeconds.Observe(d.Seconds())
}

// ObserveRun records the duration and status of a crawl run.
func ObserveRun(d time.Duration, ok bool) {
	Init()
	runDurationSeconds.Set(d.Seconds())
	if ok {
		runsTotal.WithLabelValues("success").Inc()
		lastSuccessTimestamp.SetToCurrentTime()
		return
	}
	runsTotal.WithLabelValues("failure").Inc()
}

// FlushConfig selects where Flush writes the registry.
type FlushConfig struct {
	// Textfile is a node-exporter textfile collector path.
	Textfile string
	// PushgatewayURL is a Prometheus Pushgateway base URL.
	PushgatewayURL string
	Job            string
}

// Flush exports the registry to the configured sinks. Empty targets are skipped.
func Flush(ctx context.Context, cfg FlushConfig) error {
	Init()
	if cfg.Textfile != "" {
		if err := prometheus.WriteToTextfile(cfg.Textfile, Registry); err != nil {
			return fmt.Errorf("write metrics textfile: %w", err)
		}
	}
	if cfg.PushgatewayURL != "" {
		job := cfg.Job
		if job == "" {
			job = "freefinder"
		}
		if err := push.New(cfg.PushgatewayURL, job).Gatherer(Registry).PushContext(ctx); err != nil {
			return fmt.Errorf("push metrics: %w", err)
		}
	}
	return nil
}
