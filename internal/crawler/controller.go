package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/freefinder/internal/metrics"
)

const archiveContentType = "text/html; charset=utf-8"

// Options controls one crawl invocation.
type Options struct {
	Search          SearchQuery
	MaxItems        int
	MaxPages        int
	AllowOutOfOrder bool
	DryRun          bool
}

// Dependencies are the collaborators a Controller drives. Store, Archive,
// Notifier and Robots are optional; Store is never touched in a dry run.
type Dependencies struct {
	Fetcher  Fetcher
	Robots   RobotsPolicy
	Parser   SiteParser
	Filter   Filter
	Store    Store
	Archive  BlobStore
	Notifier Notifier
	Hasher   Hasher
	Clock    Clock
	IDs      IDGenerator
}

// Controller runs the crawl-filter-persist pipeline once per Run call.
type Controller struct {
	opts   Options
	deps   Dependencies
	logger *zap.Logger
}

// NewController validates the collaborators and builds a Controller.
func NewController(opts Options, deps Dependencies, logger *zap.Logger) (*Controller, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if deps.Parser == nil {
		return nil, errors.New("site parser is required")
	}
	if deps.Filter == nil {
		return nil, errors.New("filter is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if !opts.DryRun && deps.Store == nil {
		return nil, errors.New("store is required unless dry run is set")
	}
	if opts.MaxItems <= 0 {
		return nil, fmt.Errorf("max items must be positive, got %d", opts.MaxItems)
	}
	if opts.MaxPages <= 0 {
		return nil, fmt.Errorf("max pages must be positive, got %d", opts.MaxPages)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{opts: opts, deps: deps, logger: logger}, nil
}

// Run performs one crawl. The returned result is populated as far as the run
// got, even when an error is returned.
func (c *Controller) Run(ctx context.Context) (CrawlResult, error) {
	now := c.deps.Clock.Now()
	result := CrawlResult{
		StartedAt: now,
		DryRun:    c.opts.DryRun,
		Drops:     make(map[DropReason]int),
	}
	if c.deps.IDs != nil {
		id, err := c.deps.IDs.NewID()
		if err != nil {
			return result, fmt.Errorf("generate run id: %w", err)
		}
		result.RunID = id
	}
	logger := c.logger.With(zap.String("run_id", result.RunID))

	err := c.run(ctx, logger, now, &result)
	result.FinishedAt = c.deps.Clock.Now()
	metrics.ObserveRun(result.FinishedAt.Sub(result.StartedAt), err == nil)
	if err != nil {
		logger.Error("crawl failed", zap.Error(err), zap.String("stop_reason", string(result.StopReason)))
		return result, err
	}
	logger.Info("crawl finished",
		zap.Int("seen", result.Seen),
		zap.Int("fetched", result.Fetched),
		zap.Int("kept", len(result.Kept)),
		zap.Int("inserted", len(result.Inserted)),
		zap.Int64("purged", result.Purged),
		zap.String("stop_reason", string(result.StopReason)),
		zap.Bool("dry_run", result.DryRun),
	)
	return result, nil
}

func (c *Controller) run(ctx context.Context, logger *zap.Logger, now time.Time, result *CrawlResult) error {
	searchURL, err := c.deps.Parser.SearchURL(c.opts.Search)
	if err != nil {
		return fmt.Errorf("build search url: %w", err)
	}
	result.SearchURL = searchURL

	if c.deps.Robots != nil && !c.deps.Robots.Allowed(ctx, searchURL) {
		return fmt.Errorf("%w: robots.txt disallows %s", ErrPolicyViolation, searchURL)
	}

	if err := c.walk(ctx, logger, searchURL, now, result); err != nil {
		return err
	}
	if c.opts.DryRun {
		return nil
	}
	if err := c.persist(ctx, logger, now, result); err != nil {
		return err
	}
	c.notify(ctx, logger, result)
	return nil
}

// walk pages through search results until the source is exhausted, a limit
// is hit or the ordering heuristic fires.
func (c *Controller) walk(ctx context.Context, logger *zap.Logger, searchURL string, now time.Time, result *CrawlResult) error {
	seen := make(map[string]struct{})
	pageURL := searchURL
	for page := 0; ; page++ {
		summaries, ok, err := c.searchPage(ctx, logger, pageURL, page)
		if err != nil {
			return err
		}
		if !ok {
			result.StopReason = StopExhausted
			return nil
		}
		result.Pages++

		count := 0
		for summary := range summaries {
			count++
			if _, dup := seen[summary.ID]; dup {
				continue
			}
			seen[summary.ID] = struct{}{}
			result.Seen++
			halt, err := c.evaluate(ctx, logger, summary, now, result)
			if err != nil {
				return err
			}
			if halt {
				result.StopReason = StopStale
				return nil
			}
			if result.Fetched >= c.opts.MaxItems {
				logger.Info("max items reached", zap.Int("max_items", c.opts.MaxItems))
				result.StopReason = StopMaxItems
				return nil
			}
		}

		next, more := c.deps.Parser.NextPageURL(pageURL, count)
		if !more {
			result.StopReason = StopExhausted
			return nil
		}
		if page+1 >= c.opts.MaxPages {
			result.StopReason = StopMaxPages
			return nil
		}
		pageURL = next
	}
}

// searchPage fetches and parses one results page. ok is false when a later
// page is unusable and pagination should end quietly.
func (c *Controller) searchPage(
	ctx context.Context,
	logger *zap.Logger,
	pageURL string,
	page int,
) (summaries iter.Seq[ListingSummary], ok bool, err error) {
	resp, err := c.deps.Fetcher.Fetch(ctx, FetchRequest{URL: pageURL, Kind: PageSearch})
	if err != nil {
		if page == 0 {
			return nil, false, fmt.Errorf("%w: %w", ErrFetchFailure, err)
		}
		return nil, false, fmt.Errorf("fetch search page %d: %w", page, err)
	}
	if !resp.OK() {
		if page == 0 {
			return nil, false, fmt.Errorf("%w: %s returned status %d", ErrFetchFailure, pageURL, resp.StatusCode)
		}
		logger.Warn("search page returned non-success status; stopping pagination",
			zap.String("url", pageURL), zap.Int("status_code", resp.StatusCode))
		return nil, false, nil
	}
	seq, err := c.deps.Parser.ParseSearchPage(resp.Body, pageURL)
	if err != nil {
		if page == 0 {
			return nil, false, fmt.Errorf("%w: %w", ErrFetchFailure, err)
		}
		logger.Warn("search page unparseable; stopping pagination", zap.String("url", pageURL), zap.Error(err))
		return nil, false, nil
	}
	return seq, true, nil
}

// evaluate fetches one detail page and runs it through the filter. halt is
// true when the ordering heuristic says the rest of the results are older.
func (c *Controller) evaluate(
	ctx context.Context,
	logger *zap.Logger,
	summary ListingSummary,
	now time.Time,
	result *CrawlResult,
) (halt bool, err error) {
	resp, err := c.deps.Fetcher.Fetch(ctx, FetchRequest{URL: summary.URL, Kind: PageDetail})
	if err != nil {
		return false, fmt.Errorf("fetch listing %s: %w", summary.ID, err)
	}
	result.Fetched++

	if !resp.OK() {
		c.dropUnparsed(logger, summary, fmt.Sprintf("detail page returned status %d", resp.StatusCode), result)
		return false, nil
	}
	fields, err := c.deps.Parser.ParseDetailPage(resp.Body)
	if err != nil {
		c.dropUnparsed(logger, summary, err.Error(), result)
		return false, nil
	}

	record := buildRecord(summary, fields, now)
	verdict := c.deps.Filter.Evaluate(record, now)
	result.Evaluations = append(result.Evaluations, Evaluation{
		ListingID:    record.ID,
		Title:        record.Title,
		URL:          record.URL,
		LastActivity: record.LastActivity,
		Verdict:      verdict,
		Trace:        c.deps.Filter.Explain(record, now),
	})
	metrics.ObserveListing(string(verdict.Decision), string(verdict.Reason))

	if verdict.Kept() {
		if !c.opts.DryRun {
			c.archive(ctx, logger, &record, resp.Body, now)
		}
		result.Kept = append(result.Kept, record)
		logger.Debug("listing kept", zap.String("listing_id", record.ID))
		return false, nil
	}

	result.Drops[verdict.Reason]++
	logger.Debug("listing dropped", zap.String("listing_id", record.ID), zap.String("reason", string(verdict.Reason)))
	if verdict.Reason == ReasonStale && record.HasActivity() && !c.opts.AllowOutOfOrder {
		logger.Info("stale listing reached; assuming the remaining results are older",
			zap.String("listing_id", record.ID),
			zap.Time("last_activity", record.LastActivity))
		return true, nil
	}
	return false, nil
}

func (c *Controller) dropUnparsed(logger *zap.Logger, summary ListingSummary, detail string, result *CrawlResult) {
	result.Drops[ReasonParseError]++
	result.Evaluations = append(result.Evaluations, Evaluation{
		ListingID: summary.ID,
		Title:     summary.Title,
		URL:       summary.URL,
		Verdict:   Drop(ReasonParseError),
		Detail:    detail,
	})
	metrics.ObserveListing(string(DecisionDrop), string(ReasonParseError))
	logger.Warn("listing detail unusable", zap.String("listing_id", summary.ID), zap.String("url", summary.URL),
		zap.String("detail", detail))
}

// archive stores the raw detail page. Failures are logged and otherwise ignored.
func (c *Controller) archive(ctx context.Context, logger *zap.Logger, record *ListingRecord, body []byte, now time.Time) {
	if c.deps.Archive == nil || c.deps.Hasher == nil {
		return
	}
	key := c.deps.Hasher.ArchiveKey(now, body)
	uri, err := c.deps.Archive.PutObject(ctx, key, archiveContentType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive detail page failed", zap.String("listing_id", record.ID), zap.Error(err))
		return
	}
	record.Raw[RawArchiveURI] = uri
	record.Raw[RawContentHash] = c.deps.Hasher.Hash(body)
}

func (c *Controller) persist(ctx context.Context, logger *zap.Logger, now time.Time, result *CrawlResult) error {
	for _, record := range result.Kept {
		outcome, err := c.deps.Store.Upsert(ctx, record)
		if err != nil {
			return fmt.Errorf("upsert listing %s: %w", record.ID, err)
		}
		metrics.ObserveStore(string(outcome))
		switch outcome {
		case UpsertInserted:
			result.Inserted = append(result.Inserted, record.ID)
		case UpsertUpdated:
			result.Updated = append(result.Updated, record.ID)
		}
	}

	// The run's start time is the reference so a record kept by the filter
	// cannot be purged in the same run.
	purged, err := c.deps.Store.PurgeStale(ctx, now)
	if err != nil {
		return fmt.Errorf("purge stale listings: %w", err)
	}
	result.Purged = purged
	metrics.ObservePurged(purged)
	logger.Info("store updated",
		zap.Int("inserted", len(result.Inserted)),
		zap.Int("updated", len(result.Updated)),
		zap.Int64("purged", purged))
	return nil
}

func (c *Controller) notify(ctx context.Context, logger *zap.Logger, result *CrawlResult) {
	fresh := result.NewRecords()
	if len(fresh) == 0 {
		logger.Info("no new listings; skipping notifications")
		return
	}
	if c.deps.Notifier == nil {
		logger.Info("no notifier configured", zap.Int("new_listings", len(fresh)))
		return
	}
	result.Notifications = c.deps.Notifier.Dispatch(ctx, fresh)
}

func buildRecord(summary ListingSummary, fields DetailFields, now time.Time) ListingRecord {
	title := fields.Title
	if title == "" {
		title = summary.Title
	}
	location := fields.Location
	if location == "" {
		location = summary.Location
	}
	raw := make(map[string]string, len(fields.Attributes)+1)
	for k, v := range fields.Attributes {
		raw[k] = v
	}
	if summary.PriceText != "" {
		raw[RawPriceText] = summary.PriceText
	}
	return ListingRecord{
		ID:           summary.ID,
		Title:        title,
		URL:          summary.URL,
		Description:  fields.Description,
		Location:     location,
		Price:        fields.Price,
		PostedAt:     fields.PostedAt,
		UpdatedAt:    fields.UpdatedAt,
		LastActivity: fields.LastActivity(),
		FirstSeen:    now,
		Raw:          raw,
	}
}
