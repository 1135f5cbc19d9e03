// Package app initializes and holds long-lived services for one freefinder
// invocation, acting as a small dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/freefinder/internal/clock/system"
	"github.com/JakeFAU/freefinder/internal/config"
	"github.com/JakeFAU/freefinder/internal/crawler"
	collyfetcher "github.com/JakeFAU/freefinder/internal/fetcher/colly"
	"github.com/JakeFAU/freefinder/internal/filter"
	"github.com/JakeFAU/freefinder/internal/hash/sha256"
	"github.com/JakeFAU/freefinder/internal/id/uuid"
	"github.com/JakeFAU/freefinder/internal/notify"
	"github.com/JakeFAU/freefinder/internal/notify/email"
	"github.com/JakeFAU/freefinder/internal/notify/ntfy"
	"github.com/JakeFAU/freefinder/internal/notify/pubsub"
	"github.com/JakeFAU/freefinder/internal/notify/slack"
	"github.com/JakeFAU/freefinder/internal/notify/sms"
	"github.com/JakeFAU/freefinder/internal/notify/zaplog"
	"github.com/JakeFAU/freefinder/internal/parser/craigslist"
	"github.com/JakeFAU/freefinder/internal/policy/politeness"
	"github.com/JakeFAU/freefinder/internal/storage/gcs"
	"github.com/JakeFAU/freefinder/internal/storage/local"
	"github.com/JakeFAU/freefinder/internal/storage/memory"
	"github.com/JakeFAU/freefinder/internal/storage/postgres"
	"github.com/JakeFAU/freefinder/internal/storage/sqlite"
)

// App holds the services one command needs. The store and archive are nil
// in a dry run.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      crawler.Store
	archive    crawler.BlobStore
	dispatcher *notify.Dispatcher
	clock      crawler.Clock
	closers    []io.Closer
}

// Option customizes NewApp.
type Option func(*App)

// WithClock replaces the system clock.
func WithClock(clock crawler.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// NewApp builds the store, archive and notification channels selected by cfg.
// It fails fast if any configured service cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.Crawler.DryRun {
		logger.Info("dry run: store, archive and notifications are disabled")
	} else {
		if err := a.openStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
		if err := a.openArchive(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.dispatcher = notify.NewDispatcher(logger)
	if err := a.registerChannels(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("store", a.storeName()),
		zap.String("archive", cfg.Archive.Provider),
		zap.Strings("channels", a.dispatcher.Channels()))
	return a, nil
}

// Config returns the configuration the services were built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the listing store, or nil in a dry run.
func (a *App) Store() crawler.Store { return a.store }

// Archive returns the raw page archive, or nil when disabled.
func (a *App) Archive() crawler.BlobStore { return a.archive }

// Dispatcher returns the notification dispatcher.
func (a *App) Dispatcher() *notify.Dispatcher { return a.dispatcher }

// Clock returns the clock used for runs and purges.
func (a *App) Clock() crawler.Clock { return a.clock }

// Controller wires a crawl controller from the loaded configuration.
func (a *App) Controller() (*crawler.Controller, error) {
	cfg := a.cfg
	pacer, err := politeness.New(politeness.Config{
		DetailMin: cfg.Crawler.DetailSleepMin,
		DetailMax: cfg.Crawler.DetailSleepMax,
		MaxRPS:    cfg.Crawler.MaxRPS,
	}, a.logger.Named("politeness"))
	if err != nil {
		return nil, fmt.Errorf("build pacer: %w", err)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.RequestTimeout,
	}, pacer, a.logger.Named("fetcher"))
	robots := collyfetcher.NewRobotsEnforcer(cfg.Crawler.RespectRobots, cfg.Crawler.UserAgent, nil, a.logger.Named("robots"))

	deps := crawler.Dependencies{
		Fetcher: fetcher,
		Robots:  robots,
		Parser:  craigslist.New(cfg.Search.Region),
		Filter:  filter.New(cfg.FilterOptions()),
		Store:   a.store,
		Archive: a.archive,
		Hasher:  sha256.New(),
		Clock:   a.clock,
		IDs:     uuid.New(),
	}
	if a.dispatcher != nil {
		deps.Notifier = a.dispatcher
	}
	opts := crawler.Options{
		Search: crawler.SearchQuery{
			Region:         cfg.Search.Region,
			Sort:           cfg.Search.Sort,
			Postal:         cfg.Search.Postal,
			SearchDistance: cfg.Search.SearchDistance,
			BaseURL:        cfg.Search.BaseURL,
		},
		MaxItems:        cfg.Crawler.MaxItems,
		MaxPages:        cfg.Crawler.MaxPages,
		AllowOutOfOrder: cfg.Crawler.AllowOutOfOrder,
		DryRun:          cfg.Crawler.DryRun,
	}
	controller, err := crawler.NewController(opts, deps, a.logger.Named("crawler"))
	if err != nil {
		return nil, fmt.Errorf("build controller: %w", err)
	}
	return controller, nil
}

// Close releases every service. Errors are logged.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing store", zap.Error(err))
		}
		a.store = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) storeName() string {
	if a.store == nil {
		return "none"
	}
	return a.cfg.Store.Provider
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.cfg.Store
	switch cfg.Provider {
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLitePath})
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.store = store
	case config.StorePostgres:
		store, err := postgres.NewListingStore(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		a.store = store
	case config.StoreMemory:
		a.logger.Warn("memory store selected; listings are not kept between runs")
		a.store = memory.NewListingStore()
	default:
		return fmt.Errorf("unknown store provider: %s", cfg.Provider)
	}
	return nil
}

func (a *App) openArchive(ctx context.Context) error {
	cfg := a.cfg.Archive
	switch cfg.Provider {
	case config.ArchiveNone, "":
		return nil
	case config.ArchiveLocal:
		archive, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return fmt.Errorf("open local archive: %w", err)
		}
		a.archive = archive
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		archive, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("open gcs archive: %w", err)
		}
		a.closers = append(a.closers, client)
		a.archive = archive
	default:
		return fmt.Errorf("unknown archive provider: %s", cfg.Provider)
	}
	return nil
}

// registerChannels builds every channel in notify.channels and registers it
// with the dispatcher.
func (a *App) registerChannels(ctx context.Context) error {
	var errs []error
	for _, name := range a.cfg.Notify.Channels {
		ch, err := a.buildChannel(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify channel %s: %w", name, err))
			continue
		}
		a.dispatcher.Register(ch)
	}
	return errors.Join(errs...)
}

func (a *App) buildChannel(ctx context.Context, name string) (notify.Channel, error) {
	cfg := a.cfg.Notify
	switch name {
	case config.ChannelLog:
		return zaplog.New(a.logger), nil
	case config.ChannelSlack:
		return slack.New(slack.Config{WebhookURL: cfg.Slack.WebhookURL, Timeout: cfg.Timeout}, nil)
	case config.ChannelNtfy:
		return ntfy.New(ntfy.Config{
			Server:   cfg.Ntfy.Server,
			Topic:    cfg.Ntfy.Topic,
			Token:    cfg.Ntfy.Token,
			Username: cfg.Ntfy.Username,
			Password: cfg.Ntfy.Password,
			Priority: cfg.Ntfy.Priority,
			Click:    cfg.Ntfy.Click,
			Timeout:  cfg.Timeout,
		}, nil)
	case config.ChannelEmail:
		return email.New(email.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
			Security: cfg.Email.Security,
			Timeout:  cfg.Timeout,
		})
	case config.ChannelSMS:
		return sms.New(sms.Config{
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			From:       cfg.SMS.From,
			To:         cfg.SMS.To,
			APIBase:    cfg.SMS.APIBase,
			Timeout:    cfg.Timeout,
		}, nil)
	case config.ChannelPubSub:
		ch, err := pubsub.New(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, TopicID: cfg.PubSub.TopicID})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ch)
		return ch, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", name)
	}
}
