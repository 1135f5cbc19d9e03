package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/freefinder/internal/clock/system"
	"github.com/JakeFAU/freefinder/internal/metrics"
)

// newPurgeCmd creates the 'purge' subcommand, which only expires old rows.
func newPurgeCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete stored listings past the freshness window",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			store := appInstance.Store()
			if store == nil {
				return errors.New("purge needs a store; unset crawler.dry_run")
			}

			clock := appInstance.Clock()
			if at != "" {
				ref, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
				clock = system.NewFixed(ref)
			}
			now := clock.Now()
			purged, err := store.PurgeStale(cmd.Context(), now)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			metrics.ObservePurged(purged)
			flushMetrics(cmd.Context(), appInstance)
			appInstance.Logger().Info("purge finished", zap.Int64("purged", purged), zap.Time("reference", now))
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d listings\n", purged)
			return nil
		}),
	}
	cmd.Flags().StringVar(&at, "at", "", "reference time (RFC3339) instead of now")
	return cmd
}
