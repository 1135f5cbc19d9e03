package crawler

import (
	"net/http"
	"time"
)

// FreshnessHorizon is how long a listing stays relevant after its last activity.
const FreshnessHorizon = 7 * 24 * time.Hour

// PageKind distinguishes search-result pages from listing detail pages.
type PageKind string

// Page kinds understood by the fetch client.
const (
	PageSearch PageKind = "search"
	PageDetail PageKind = "detail"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL  string
	Kind PageKind
}

// FetchResponse is the normalized result of a fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the response carried a 2xx status.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// SearchQuery holds the knobs that shape the search-results URL.
type SearchQuery struct {
	Region         string
	Sort           string
	Postal         string
	SearchDistance int
	// BaseURL overrides scheme and host, e.g. for a local test server.
	BaseURL string
}

// ListingSummary is one entry of a search-results page.
type ListingSummary struct {
	ID        string
	Title     string
	URL       string
	PriceText string
	Location  string
}

// DetailFields are the values extracted from a listing detail page.
// Zero timestamps mean the page did not carry a parseable value.
type DetailFields struct {
	Title       string
	Description string
	Location    string
	Price       *float64
	PostedAt    time.Time
	UpdatedAt   time.Time
	Attributes  map[string]string
}

// LastActivity returns the later of the posted and updated timestamps.
func (d DetailFields) LastActivity() time.Time {
	if d.UpdatedAt.After(d.PostedAt) {
		return d.UpdatedAt
	}
	return d.PostedAt
}

// ListingRecord is the persisted form of a listing.
type ListingRecord struct {
	ID           string
	Title        string
	URL          string
	Description  string
	Location     string
	Price        *float64
	PostedAt     time.Time
	UpdatedAt    time.Time
	LastActivity time.Time
	FirstSeen    time.Time
	Raw          map[string]string
}

// HasActivity reports whether the record carries a known last-activity time.
func (r ListingRecord) HasActivity() bool {
	return !r.LastActivity.IsZero()
}

// Raw metadata keys written by the controller.
const (
	RawArchiveURI  = "archive_uri"
	RawContentHash = "content_hash"
	RawPriceText   = "price_text"
)

// Decision is the filter outcome.
type Decision string

// Filter decisions.
const (
	DecisionKeep Decision = "keep"
	DecisionDrop Decision = "drop"
)

// DropReason explains a drop decision.
type DropReason string

// Drop reasons. ReasonParseError is assigned by the controller, never by a Filter.
const (
	ReasonNone           DropReason = ""
	ReasonStale          DropReason = "stale"
	ReasonNoKeywordMatch DropReason = "no-keyword-match"
	ReasonBlockedKeyword DropReason = "blocked-keyword"
	ReasonParseError     DropReason = "parse-error"
)

// Verdict is a keep or drop decision plus the drop reason.
type Verdict struct {
	Decision Decision
	Reason   DropReason
}

// Keep returns a keep verdict.
func Keep() Verdict {
	return Verdict{Decision: DecisionKeep}
}

// Drop returns a drop verdict with the given reason.
func Drop(reason DropReason) Verdict {
	return Verdict{Decision: DecisionDrop, Reason: reason}
}

// Kept reports whether the verdict keeps the listing.
func (v Verdict) Kept() bool {
	return v.Decision == DecisionKeep
}

func (v Verdict) String() string {
	if v.Kept() {
		return string(DecisionKeep)
	}
	return string(DecisionDrop) + "(" + string(v.Reason) + ")"
}

// UpsertOutcome tells whether an upsert created or overwrote a row.
type UpsertOutcome string

// Upsert outcomes.
const (
	UpsertInserted UpsertOutcome = "inserted"
	UpsertUpdated  UpsertOutcome = "updated"
)

// DeliveryOutcome records one notification channel's result.
type DeliveryOutcome struct {
	Channel string
	Err     error
}
