// Package config loads and validates freefinder configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/freefinder/internal/filter"
)

// EnvPrefix is prepended to every environment override, e.g.
// FREEFINDER_SEARCH_POSTAL.
const EnvPrefix = "FREEFINDER"

// Config captures every knob of one freefinder invocation.
type Config struct {
	Search  SearchConfig  `mapstructure:"search"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Store   StoreConfig   `mapstructure:"store"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SearchConfig shapes the search-results URL.
type SearchConfig struct {
	Region         string `mapstructure:"region"`
	Sort           string `mapstructure:"sort"`
	Postal         string `mapstructure:"postal"`
	SearchDistance int    `mapstructure:"search_distance"`
	BaseURL        string `mapstructure:"base_url"`
}

// CrawlerConfig governs fetching and the walk over result pages.
type CrawlerConfig struct {
	MaxItems        int           `mapstructure:"max_items"`
	MaxPages        int           `mapstructure:"max_pages"`
	DetailSleepMin  time.Duration `mapstructure:"detail_sleep_min"`
	DetailSleepMax  time.Duration `mapstructure:"detail_sleep_max"`
	MaxRPS          float64       `mapstructure:"max_rps"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
	AllowOutOfOrder bool          `mapstructure:"allow_out_of_order"`
	DryRun          bool          `mapstructure:"dry_run"`
}

// FilterConfig holds the keyword lists.
type FilterConfig struct {
	Include           []string `mapstructure:"include"`
	Exclude           []string `mapstructure:"exclude"`
	MatchAllWhenEmpty bool     `mapstructure:"match_all_when_empty"`
}

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// StoreConfig selects and configures the listing store.
type StoreConfig struct {
	Provider   string         `mapstructure:"provider"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig configures the pgx pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// ArchiveConfig selects where raw detail pages are kept.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// Notification channel names accepted in notify.channels.
const (
	ChannelLog    = "log"
	ChannelSlack  = "slack"
	ChannelNtfy   = "ntfy"
	ChannelEmail  = "email"
	ChannelSMS    = "sms"
	ChannelPubSub = "pubsub"
)

var knownChannels = []string{ChannelLog, ChannelSlack, ChannelNtfy, ChannelEmail, ChannelSMS, ChannelPubSub}

// NotifyConfig lists the enabled channels and their settings.
type NotifyConfig struct {
	Channels []string      `mapstructure:"channels"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Slack    SlackConfig   `mapstructure:"slack"`
	Ntfy     NtfyConfig    `mapstructure:"ntfy"`
	Email    EmailConfig   `mapstructure:"email"`
	SMS      SMSConfig     `mapstructure:"sms"`
	PubSub   PubSubConfig  `mapstructure:"pubsub"`
}

// SlackConfig configures the Slack webhook channel.
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// NtfyConfig configures the ntfy channel.
type NtfyConfig struct {
	Server   string `mapstructure:"server"`
	Topic    string `mapstructure:"topic"`
	Token    string `mapstructure:"token"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Priority int    `mapstructure:"priority"`
	Click    string `mapstructure:"click"`
}

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	Security string   `mapstructure:"security"`
}

// SMSConfig configures the Twilio channel.
type SMSConfig struct {
	AccountSID string   `mapstructure:"account_sid"`
	AuthToken  string   `mapstructure:"auth_token"`
	From       string   `mapstructure:"from"`
	To         []string `mapstructure:"to"`
	APIBase    string   `mapstructure:"api_base"`
}

// PubSubConfig names the Pub/Sub topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// MetricsConfig controls where run metrics are flushed.
type MetricsConfig struct {
	Textfile       string `mapstructure:"textfile"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// New returns a Viper instance with env binding and defaults applied.
// Commands bind their flags onto it before calling Read.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Read loads the config file into v, then unmarshals and validates. With an
// empty path, freefinder.yaml is looked up in the working directory,
// $HOME/.freefinder and /etc/freefinder; a missing file is not an error.
func Read(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("freefinder")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.freefinder")
		v.AddConfigPath("/etc/freefinder")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.region", "sanantonio")
	v.SetDefault("search.sort", "date")
	v.SetDefault("search.postal", "")
	v.SetDefault("search.search_distance", 0)
	v.SetDefault("search.base_url", "")
	v.SetDefault("crawler.max_items", 120)
	v.SetDefault("crawler.max_pages", 5)
	v.SetDefault("crawler.detail_sleep_min", 750*time.Millisecond)
	v.SetDefault("crawler.detail_sleep_max", 1500*time.Millisecond)
	v.SetDefault("crawler.max_rps", 1.0)
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.allow_out_of_order", false)
	v.SetDefault("crawler.dry_run", false)
	v.SetDefault("filter.include", filter.DefaultInclude)
	v.SetDefault("filter.exclude", filter.DefaultExclude)
	v.SetDefault("filter.match_all_when_empty", false)
	v.SetDefault("store.provider", StoreSQLite)
	v.SetDefault("store.sqlite_path", "freefinder.db")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", "listings")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("notify.channels", []string{ChannelLog})
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.slack.webhook_url", "")
	v.SetDefault("notify.ntfy.server", "https://ntfy.sh")
	v.SetDefault("notify.ntfy.topic", "")
	v.SetDefault("notify.ntfy.token", "")
	v.SetDefault("notify.ntfy.username", "")
	v.SetDefault("notify.ntfy.password", "")
	v.SetDefault("notify.ntfy.priority", 0)
	v.SetDefault("notify.ntfy.click", "")
	v.SetDefault("notify.email.host", "")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.from", "")
	v.SetDefault("notify.email.to", []string{})
	v.SetDefault("notify.email.security", "starttls")
	v.SetDefault("notify.sms.account_sid", "")
	v.SetDefault("notify.sms.auth_token", "")
	v.SetDefault("notify.sms.from", "")
	v.SetDefault("notify.sms.to", []string{})
	v.SetDefault("notify.sms.api_base", "")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_id", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "freefinder")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// normalize trims and lowercases list entries that may have come from a
// comma-separated environment variable.
func (c *Config) normalize() {
	c.Search.Region = strings.ToLower(strings.TrimSpace(c.Search.Region))
	c.Store.Provider = strings.ToLower(strings.TrimSpace(c.Store.Provider))
	c.Archive.Provider = strings.ToLower(strings.TrimSpace(c.Archive.Provider))
	c.Notify.Channels = splitList(c.Notify.Channels, true)
	c.Notify.Email.To = splitList(c.Notify.Email.To, false)
	c.Notify.SMS.To = splitList(c.Notify.SMS.To, false)
}

// splitList flattens entries like "a,b" (as produced by env vars) into
// separate trimmed values.
func splitList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for part := range strings.SplitSeq(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if lower {
				part = strings.ToLower(part)
			}
			out = append(out, part)
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Search.Region == "" && c.Search.BaseURL == "" {
		errs = append(errs, errors.New("search.region must be set"))
	}
	if c.Search.SearchDistance < 0 {
		errs = append(errs, errors.New("search.search_distance must be >= 0"))
	}
	if c.Search.SearchDistance > 0 && c.Search.Postal == "" {
		errs = append(errs, errors.New("search.postal must be set when search.search_distance is set"))
	}
	if c.Crawler.MaxItems <= 0 {
		errs = append(errs, errors.New("crawler.max_items must be > 0"))
	}
	if c.Crawler.MaxPages <= 0 {
		errs = append(errs, errors.New("crawler.max_pages must be > 0"))
	}
	if c.Crawler.DetailSleepMin < 0 {
		errs = append(errs, errors.New("crawler.detail_sleep_min must be >= 0"))
	}
	if c.Crawler.DetailSleepMax < c.Crawler.DetailSleepMin {
		errs = append(errs, errors.New("crawler.detail_sleep_max must be >= crawler.detail_sleep_min"))
	}
	if c.Crawler.RequestTimeout <= 0 {
		errs = append(errs, errors.New("crawler.request_timeout must be > 0"))
	}
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateArchive()...)
	errs = append(errs, c.validateNotify()...)
	return errors.Join(errs...)
}

func (c Config) validateStore() []error {
	switch c.Store.Provider {
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return []error{errors.New("store.sqlite_path must be set for the sqlite store")}
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return []error{errors.New("store.postgres.dsn must be set for the postgres store")}
		}
	case StoreMemory:
	default:
		return []error{fmt.Errorf("store.provider %q is not one of sqlite, postgres, memory", c.Store.Provider)}
	}
	return nil
}

func (c Config) validateArchive() []error {
	switch c.Archive.Provider {
	case ArchiveNone, "":
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return []error{errors.New("archive.local_dir must be set for the local archive")}
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return []error{errors.New("archive.bucket must be set for the gcs archive")}
		}
	default:
		return []error{fmt.Errorf("archive.provider %q is not one of none, local, gcs", c.Archive.Provider)}
	}
	return nil
}

func (c Config) validateNotify() []error {
	var errs []error
	for _, ch := range c.Notify.Channels {
		if !slices.Contains(knownChannels, ch) {
			errs = append(errs, fmt.Errorf("notify.channels: unknown channel %q", ch))
		}
	}
	n := c.Notify
	need := func(channel, key, value string) {
		if n.Enabled(channel) && value == "" {
			errs = append(errs, fmt.Errorf("notify.%s.%s must be set when the %s channel is enabled", channel, key, channel))
		}
	}
	need(ChannelSlack, "webhook_url", n.Slack.WebhookURL)
	need(ChannelNtfy, "topic", n.Ntfy.Topic)
	need(ChannelEmail, "host", n.Email.Host)
	need(ChannelEmail, "from", n.Email.From)
	need(ChannelEmail, "to", strings.Join(n.Email.To, ","))
	need(ChannelSMS, "account_sid", n.SMS.AccountSID)
	need(ChannelSMS, "auth_token", n.SMS.AuthToken)
	need(ChannelSMS, "from", n.SMS.From)
	need(ChannelSMS, "to", strings.Join(n.SMS.To, ","))
	need(ChannelPubSub, "project_id", n.PubSub.ProjectID)
	need(ChannelPubSub, "topic_id", n.PubSub.TopicID)
	return errs
}

// Enabled reports whether channel is listed in notify.channels.
func (n NotifyConfig) Enabled(channel string) bool {
	return slices.Contains(n.Channels, channel)
}

// FilterOptions converts the filter section into filter.Config.
func (c Config) FilterOptions() filter.Config {
	return filter.Config{
		Include:           c.Filter.Include,
		Exclude:           c.Filter.Exclude,
		MatchAllWhenEmpty: c.Filter.MatchAllWhenEmpty,
	}
}
