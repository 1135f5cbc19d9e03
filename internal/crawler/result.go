package crawler

import (
	"fmt"
	"strings"
	"time"
)

// StopReason records why the result-page walk ended.
type StopReason string

// Stop reasons.
const (
	StopExhausted StopReason = "exhausted"
	StopStale     StopReason = "stale"
	StopMaxItems  StopReason = "max-items"
	StopMaxPages  StopReason = "max-pages"
)

// FilterTrace is the explanation of a filter decision, shown in dry runs.
type FilterTrace struct {
	Stale           bool
	UnknownActivity bool
	Age             time.Duration
	Allowed         []string
	Blocked         []string
}

func (t FilterTrace) String() string {
	var b strings.Builder
	if t.UnknownActivity {
		b.WriteString("age=unknown")
	} else {
		fmt.Fprintf(&b, "age=%s", t.Age.Round(time.Minute))
	}
	fmt.Fprintf(&b, " stale=%t", t.Stale)
	if len(t.Allowed) > 0 {
		fmt.Fprintf(&b, " allow=[%s]", strings.Join(t.Allowed, ", "))
	}
	if len(t.Blocked) > 0 {
		fmt.Fprintf(&b, " block=[%s]", strings.Join(t.Blocked, ", "))
	}
	return b.String()
}

// Evaluation is one trace entry per evaluated listing.
type Evaluation struct {
	ListingID    string
	Title        string
	URL          string
	LastActivity time.Time
	Verdict      Verdict
	Trace        FilterTrace
	// Detail is set for parse-error drops.
	Detail string
}

// CrawlResult summarizes one crawl invocation.
type CrawlResult struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	SearchURL     string
	DryRun        bool
	Pages         int
	Seen          int
	Fetched       int
	Kept          []ListingRecord
	Drops         map[DropReason]int
	Inserted      []string
	Updated       []string
	Purged        int64
	StopReason    StopReason
	Evaluations   []Evaluation
	Notifications []DeliveryOutcome
}

// EarlyTermination reports whether the walk was cut short by the ordering
// heuristic or the max-items cap.
func (r CrawlResult) EarlyTermination() bool {
	return r.StopReason == StopStale || r.StopReason == StopMaxItems
}

// DropCount returns the number of drops for reason.
func (r CrawlResult) DropCount(reason DropReason) int {
	return r.Drops[reason]
}

// NewRecords returns the kept records that were inserted by this run.
func (r CrawlResult) NewRecords() []ListingRecord {
	if len(r.Inserted) == 0 {
		return nil
	}
	inserted := make(map[string]struct{}, len(r.Inserted))
	for _, id := range r.Inserted {
		inserted[id] = struct{}{}
	}
	records := make([]ListingRecord, 0, len(r.Inserted))
	for _, rec := range r.Kept {
		if _, ok := inserted[rec.ID]; ok {
			records = append(records, rec)
		}
	}
	return records
}
