// Package filter decides which listings are fresh and relevant enough to keep.
package filter

import (
	"strings"
	"time"

	"github.com/JakeFAU/freefinder/internal/crawler"
)

// DefaultInclude is the allow-list used when none is configured.
var DefaultInclude = []string{
	"electronics", "xbox series x", "series x", "xbox", "nintendo switch", "switch",
	"console", "playstation", "ps5", "tablet", "laptop", "computer", "tv",
	"television", "monitor", "printer",
	"mattress", "bed", "bunk bed", "crib", "bassinet", "sofa", "couch", "futon",
	"table", "chair", "dresser", "shelves", "twin bed", "queen bed",
	"garden", "gardening", "planter", "raised bed", "mulch", "compost bin", "plant",
	"plants", "seed", "seeds", "soil", "greenhouse", "irrigation", "hose", "shovel",
	"rake", "wheelbarrow",
}

// DefaultExclude is the block-list used when none is configured.
var DefaultExclude = []string{
	"moving boxes", "moving box", "free boxes", "cardboard boxes", "dirt", "fill dirt", "manure",
}

// Config controls the keyword lists. The freshness window is always
// crawler.FreshnessHorizon so the filter and the store purge agree.
type Config struct {
	Include []string
	Exclude []string
	// MatchAllWhenEmpty keeps every fresh, unblocked listing when Include is empty.
	MatchAllWhenEmpty bool
}

// KeywordFilter implements crawler.Filter.
type KeywordFilter struct {
	include  []string
	exclude  []string
	matchAll bool
}

// New normalizes the keyword lists and builds a KeywordFilter.
func New(cfg Config) *KeywordFilter {
	return &KeywordFilter{
		include:  normalize(cfg.Include),
		exclude:  normalize(cfg.Exclude),
		matchAll: cfg.MatchAllWhenEmpty,
	}
}

// Evaluate applies the freshness check, then the block-list, then the allow-list.
func (f *KeywordFilter) Evaluate(record crawler.ListingRecord, now time.Time) crawler.Verdict {
	if f.stale(record, now) {
		return crawler.Drop(crawler.ReasonStale)
	}
	text := searchableText(record)
	if len(matches(text, f.exclude)) > 0 {
		return crawler.Drop(crawler.ReasonBlockedKeyword)
	}
	if len(f.include) == 0 {
		if f.matchAll {
			return crawler.Keep()
		}
		return crawler.Drop(crawler.ReasonNoKeywordMatch)
	}
	if len(matches(text, f.include)) == 0 {
		return crawler.Drop(crawler.ReasonNoKeywordMatch)
	}
	return crawler.Keep()
}

// Explain computes every check independently of the others.
func (f *KeywordFilter) Explain(record crawler.ListingRecord, now time.Time) crawler.FilterTrace {
	text := searchableText(record)
	trace := crawler.FilterTrace{
		Stale:           f.stale(record, now),
		UnknownActivity: !record.HasActivity(),
		Allowed:         matches(text, f.include),
		Blocked:         matches(text, f.exclude),
	}
	if record.HasActivity() {
		trace.Age = now.Sub(record.LastActivity)
	}
	return trace
}

// IsStale reports whether lastActivity is unknown or older than the
// freshness horizon at now.
func IsStale(lastActivity, now time.Time) bool {
	if lastActivity.IsZero() {
		return true
	}
	return now.Sub(lastActivity) > crawler.FreshnessHorizon
}

func (f *KeywordFilter) stale(record crawler.ListingRecord, now time.Time) bool {
	return IsStale(record.LastActivity, now)
}

func searchableText(record crawler.ListingRecord) string {
	return strings.ToLower(record.Title + "\n" + record.Description)
}

func matches(text string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

func normalize(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}
