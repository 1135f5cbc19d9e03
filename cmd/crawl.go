package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/freefinder/internal/crawler"
	"github.com/JakeFAU/freefinder/internal/metrics"
)

// newCrawlCmd creates the 'crawl' subcommand: one crawl-filter-persist pass.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl pass",
		Long: `Fetches the free-stuff search results, evaluates each listing's detail
page against the freshness window and keyword lists, upserts the kept
listings, purges expired ones and notifies about listings that are new.

With --dry-run nothing is stored or sent; every evaluated listing is printed
with its verdict instead.`,
		Args: cobra.NoArgs,
		RunE: withApp(runCrawlCommand),
	}

	flags := cmd.Flags()
	flags.Bool("dry-run", false, "evaluate listings without storing or notifying")
	flags.Bool("allow-out-of-order", false, "keep walking after the first stale listing")
	flags.String("postal", "", "postal code to search around")
	flags.Int("search-distance", 0, "search radius in miles around --postal")
	flags.Int("max-items", 0, "maximum detail pages to fetch")
	flags.String("detail-sleep", "", "min,max delay before each detail fetch (seconds or durations)")
	flags.String("region", "", "Craigslist region subdomain, e.g. sanantonio")
	flags.String("sort", "", "search result ordering")
	flags.String("db-path", "", "SQLite database file")

	bindKey(cmd, "dry-run", "crawler.dry_run")
	bindKey(cmd, "allow-out-of-order", "crawler.allow_out_of_order")
	bindKey(cmd, "postal", "search.postal")
	bindKey(cmd, "search-distance", "search.search_distance")
	bindKey(cmd, "max-items", "crawler.max_items")
	bindKey(cmd, "region", "search.region")
	bindKey(cmd, "sort", "search.sort")
	bindKey(cmd, "db-path", "store.sqlite_path")
	_ = flags.SetAnnotation("detail-sleep", rangeAnnotation,
		[]string{"crawler.detail_sleep_min", "crawler.detail_sleep_max"})
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, appInstance App) error {
	logger := appInstance.Logger()

	controller, err := appInstance.Controller()
	if err != nil {
		return err
	}

	result, runErr := controller.Run(cmd.Context())
	printReport(cmd.OutOrStdout(), result)

	flushMetrics(cmd.Context(), appInstance)

	if errors.Is(runErr, context.Canceled) {
		logger.Warn("crawl interrupted; results are partial")
		return fmt.Errorf("crawl canceled: %w", runErr)
	}
	if runErr != nil {
		return fmt.Errorf("run crawl: %w", runErr)
	}
	logger.Info("crawl command finished")
	return nil
}

func flushMetrics(ctx context.Context, appInstance App) {
	cfg := appInstance.Config().Metrics
	// The run context may already be canceled; metrics still get a short window.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := metrics.Flush(flushCtx, metrics.FlushConfig{
		Textfile:       cfg.Textfile,
		PushgatewayURL: cfg.PushgatewayURL,
		Job:            cfg.Job,
	}); err != nil {
		appInstance.Logger().Warn("metrics flush failed", zap.Error(err))
	}
}

// printReport writes a human-readable summary of result. Dry runs list every
// evaluated listing with its verdict and filter trace.
func printReport(w io.Writer, result crawler.CrawlResult) {
	mode := "crawl"
	if result.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "%s %s: %s\n", mode, result.RunID, result.SearchURL)
	fmt.Fprintf(w, "  pages=%d seen=%d fetched=%d kept=%d stop=%s early=%t\n",
		result.Pages, result.Seen, result.Fetched, len(result.Kept), result.StopReason, result.EarlyTermination())

	if len(result.Drops) > 0 {
		reasons := make([]string, 0, len(result.Drops))
		for reason := range result.Drops {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		fmt.Fprint(w, "  dropped:")
		for _, reason := range reasons {
			fmt.Fprintf(w, " %s=%d", reason, result.Drops[crawler.DropReason(reason)])
		}
		fmt.Fprintln(w)
	}

	if result.DryRun {
		for _, ev := range result.Evaluations {
			fmt.Fprintf(w, "  [%s] %s\n", ev.Verdict, ev.Title)
			fmt.Fprintf(w, "      %s\n", ev.URL)
			if ev.Detail != "" {
				fmt.Fprintf(w, "      %s\n", ev.Detail)
			} else {
				fmt.Fprintf(w, "      %s\n", ev.Trace)
			}
		}
		return
	}

	fmt.Fprintf(w, "  inserted=%d updated=%d purged=%d\n", len(result.Inserted), len(result.Updated), result.Purged)
	for _, rec := range result.NewRecords() {
		fmt.Fprintf(w, "  new: %s - %s\n", rec.Title, rec.URL)
	}
	for _, n := range result.Notifications {
		status := "ok"
		if n.Err != nil {
			status = n.Err.Error()
		}
		fmt.Fprintf(w, "  notify %s: %s\n", n.Channel, status)
	}
}
