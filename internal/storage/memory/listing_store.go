package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/freefinder/internal/crawler"
)

// ListingStore provides an in-memory crawler.Store for development/testing.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[string]crawler.ListingRecord
}

// NewListingStore constructs a ListingStore.
func NewListingStore() *ListingStore {
	return &ListingStore{listings: make(map[string]crawler.ListingRecord)}
}

// Upsert stores record, keeping the first-seen time of an existing row.
func (s *ListingStore) Upsert(_ context.Context, record crawler.ListingRecord) (crawler.UpsertOutcome, error) {
	if record.ID == "" {
		return "", fmt.Errorf("%w: listing id is required", crawler.ErrStore)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Raw = copyRaw(record.Raw)
	if existing, ok := s.listings[record.ID]; ok {
		record.FirstSeen = existing.FirstSeen
		s.listings[record.ID] = record
		return crawler.UpsertUpdated, nil
	}
	s.listings[record.ID] = record
	return crawler.UpsertInserted, nil
}

// PurgeStale removes listings with unknown activity or activity older than
// the freshness horizon at now.
func (s *ListingStore) PurgeStale(_ context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-crawler.FreshnessHorizon)
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for id, rec := range s.listings {
		if !rec.HasActivity() || rec.LastActivity.Before(cutoff) {
			delete(s.listings, id)
			purged++
		}
	}
	return purged, nil
}

// Get returns the stored listing by id.
func (s *ListingStore) Get(id string) (crawler.ListingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.listings[id]
	if !ok {
		return crawler.ListingRecord{}, errors.New("listing not found")
	}
	rec.Raw = copyRaw(rec.Raw)
	return rec, nil
}

// List returns every stored listing ordered by id.
func (s *ListingStore) List() []crawler.ListingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.ListingRecord, 0, len(s.listings))
	for _, rec := range s.listings {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of stored listings.
func (s *ListingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listings)
}

// Close is a no-op.
func (s *ListingStore) Close() error {
	return nil
}

func copyRaw(raw map[string]string) map[string]string {
	if raw == nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
