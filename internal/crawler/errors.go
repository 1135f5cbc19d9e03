package crawler

import "errors"

// Error taxonomy for a crawl run. Components wrap these with fmt.Errorf so
// callers can classify failures with errors.Is.
var (
	// ErrPolicyViolation means robots.txt forbids the request.
	ErrPolicyViolation = errors.New("robots policy violation")
	// ErrBlocked means the site refused service (403 or 429).
	ErrBlocked = errors.New("request blocked by site")
	// ErrNetwork covers transport failures other than timeouts.
	ErrNetwork = errors.New("network error")
	// ErrTimeout means the request exceeded its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrFetchFailure means the first search page could not be used.
	ErrFetchFailure = errors.New("search page fetch failed")
	// ErrParse means a page did not have the expected structure.
	ErrParse = errors.New("parse error")
	// ErrStore wraps persistence failures.
	ErrStore = errors.New("store error")
)
