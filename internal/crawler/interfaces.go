package crawler

import (
	"context"
	"io"
	"iter"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RobotsPolicy answers whether a URL may be crawled.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// SiteParser turns one listing source's pages into summaries and records.
type SiteParser interface {
	SearchURL(query SearchQuery) (string, error)
	// ParseSearchPage returns a single-pass sequence in page order.
	ParseSearchPage(body []byte, pageURL string) (iter.Seq[ListingSummary], error)
	NextPageURL(pageURL string, seen int) (string, bool)
	ParseDetailPage(body []byte) (DetailFields, error)
}

// Filter decides whether a record is kept.
type Filter interface {
	Evaluate(record ListingRecord, now time.Time) Verdict
	Explain(record ListingRecord, now time.Time) FilterTrace
}

// Store persists listing records.
type Store interface {
	Upsert(ctx context.Context, record ListingRecord) (UpsertOutcome, error)
	PurgeStale(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Notifier delivers newly inserted records to the configured channels.
type Notifier interface {
	Dispatch(ctx context.Context, records []ListingRecord) []DeliveryOutcome
}

// Hasher computes content digests and archive keys.
type Hasher interface {
	Hash(data []byte) string
	ArchiveKey(at time.Time, data []byte) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
