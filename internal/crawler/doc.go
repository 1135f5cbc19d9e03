// Package crawler defines the listing pipeline types and the crawl controller
// that drives fetch, parse, filter, store and notify for one freefinder run.
package crawler
