package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/freefinder/internal/app"
	"github.com/JakeFAU/freefinder/internal/clock/system"
	"github.com/JakeFAU/freefinder/internal/config"
	"github.com/JakeFAU/freefinder/internal/storage/local"
	"github.com/JakeFAU/freefinder/internal/storage/memory"
	"github.com/JakeFAU/freefinder/internal/storage/sqlite"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Read(config.New(), "")
	require.NoError(t, err)
	cfg.Store.Provider = config.StoreMemory
	return cfg
}

func TestNewAppMemoryStore(t *testing.T) {
	cfg := baseConfig(t)
	a, err := app.NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memory.ListingStore{}, a.Store())
	assert.Nil(t, a.Archive())
	assert.Equal(t, []string{"log"}, a.Dispatcher().Channels())

	controller, err := a.Controller()
	require.NoError(t, err)
	assert.NotNil(t, controller)
}

func TestNewAppSQLiteAndLocalArchive(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t)
	cfg.Store.Provider = config.StoreSQLite
	cfg.Store.SQLitePath = filepath.Join(dir, "freefinder.db")
	cfg.Archive.Provider = config.ArchiveLocal
	cfg.Archive.LocalDir = filepath.Join(dir, "archive")
	cfg.Notify.Channels = []string{config.ChannelLog, config.ChannelSlack, config.ChannelNtfy}
	cfg.Notify.Slack.WebhookURL = "https://hooks.slack.test/x"
	cfg.Notify.Ntfy.Topic = "freefinder"

	a, err := app.NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &sqlite.ListingStore{}, a.Store())
	assert.IsType(t, &local.BlobStore{}, a.Archive())
	assert.Equal(t, []string{"log", "slack", "ntfy"}, a.Dispatcher().Channels())
}

func TestNewAppDryRunSkipsStore(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Crawler.DryRun = true
	cfg.Store.Provider = config.StorePostgres // never dialed in a dry run
	cfg.Archive.Provider = config.ArchiveGCS

	a, err := app.NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Store())
	assert.Nil(t, a.Archive())
	_, err = a.Controller()
	require.NoError(t, err)
}

func TestNewAppChannelConfigErrors(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Notify.Channels = []string{config.ChannelSlack, config.ChannelSMS}

	_, err := app.NewApp(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.slack.webhook_url")
	assert.Contains(t, err.Error(), "notify.sms.account_sid")
}

func TestNewAppUnknownStore(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Store.Provider = "mongo"
	_, err := app.NewApp(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown store provider")
}

func TestWithClock(t *testing.T) {
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	a, err := app.NewApp(context.Background(), baseConfig(t), zap.NewNop(), app.WithClock(system.NewFixed(at)))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, at, a.Clock().Now())
}
