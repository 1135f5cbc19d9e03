// Package cmd defines and implements the CLI commands for the freefinder
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/freefinder/internal/app"
	"github.com/JakeFAU/freefinder/internal/config"
	"github.com/JakeFAU/freefinder/internal/crawler"
	"github.com/JakeFAU/freefinder/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of *app.App the commands use, so tests can inject a fake.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Store() crawler.Store
	Clock() crawler.Clock
	Controller() (*crawler.Controller, error)
	Close()
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

// Flag annotations naming the viper key(s) a flag overrides.
const (
	keyAnnotation   = "freefinder/key"
	rangeAnnotation = "freefinder/range"
)

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "freefinder",
		Short: "Finds fresh free-stuff listings and tells you about new ones.",
		Long: `freefinder crawls the Craigslist free section for a region, keeps the
listings that are fresh and match the configured keywords, stores them and
notifies the configured channels about listings it has not seen before.

Run it from cron; each invocation is one pass.`,
		SilenceUsage: true,

		// Loads .env, config and logging, then builds the services and puts
		// them in the command context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			v := config.New()
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			cfg, err := config.Read(v, cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is freefinder.yaml in ., $HOME/.freefinder or /etc/freefinder)")

	cmd.AddCommand(newCrawlCmd(), newPurgeCmd(), newVersionCmd())
	return cmd
}

// bindFlags copies every changed, annotated flag onto its viper key.
// Unchanged flags fall through to env, config file and defaults.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var errs []error
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		if keys := flag.Annotations[keyAnnotation]; len(keys) == 1 {
			if err := v.BindPFlag(keys[0], flag); err != nil {
				errs = append(errs, fmt.Errorf("bind --%s: %w", flag.Name, err))
			}
		}
		if keys := flag.Annotations[rangeAnnotation]; len(keys) == 2 {
			lo, hi, err := parseDurationRange(flag.Value.String())
			if err != nil {
				errs = append(errs, fmt.Errorf("--%s: %w", flag.Name, err))
				return
			}
			v.Set(keys[0], lo)
			v.Set(keys[1], hi)
		}
	})
	return errors.Join(errs...)
}

// bindKey annotates flag so bindFlags maps it onto key.
func bindKey(cmd *cobra.Command, flag, key string) {
	_ = cmd.Flags().SetAnnotation(flag, keyAnnotation, []string{key})
}

// parseDurationRange parses "min,max". Bare numbers are seconds.
func parseDurationRange(raw string) (time.Duration, time.Duration, error) {
	minRaw, maxRaw, found := strings.Cut(raw, ",")
	if !found {
		return 0, 0, fmt.Errorf("expected min,max, got %q", raw)
	}
	lo, err := parseSeconds(minRaw)
	if err != nil {
		return 0, 0, err
	}
	hi, err := parseSeconds(maxRaw)
	if err != nil {
		return 0, 0, err
	}
	if lo < 0 || hi < lo {
		return 0, 0, fmt.Errorf("invalid range %s,%s", lo, hi)
	}
	return lo, hi, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return d, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the App for run and closes it afterwards. cobra skips
// PersistentPostRun when RunE fails, so closing happens here.
func withApp(run func(cmd *cobra.Command, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			appInstance.Close()
			_ = appInstance.Logger().Sync()
		}()
		return run(cmd, appInstance)
	}
}

// Execute runs the CLI with a context canceled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		_ = zap.L().Sync()
		os.Exit(1)
	}
}
