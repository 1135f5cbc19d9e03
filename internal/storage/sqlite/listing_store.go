// Package sqlite persists listings in a single SQLite file using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/freefinder/internal/crawler"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	url           TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	price         REAL,
	posted_at     TEXT,
	updated_at    TEXT,
	last_activity TEXT,
	first_seen    TEXT NOT NULL,
	raw_metadata  TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_listings_last_activity ON listings(last_activity);
`

const upsertSQL = `
INSERT INTO listings (
	id, title, url, description, location, price,
	posted_at, updated_at, last_activity, first_seen, raw_metadata
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	url = excluded.url,
	description = excluded.description,
	location = excluded.location,
	price = excluded.price,
	posted_at = excluded.posted_at,
	updated_at = excluded.updated_at,
	last_activity = excluded.last_activity,
	raw_metadata = excluded.raw_metadata`

// Config controls the SQLite file.
type Config struct {
	Path string
}

// ListingStore implements crawler.Store on SQLite.
type ListingStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file and ensures the schema.
func Open(ctx context.Context, cfg Config) (*ListingStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("store.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// One writer process; a single connection keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return &ListingStore{db: db}, nil
}

// Upsert inserts or overwrites the listing in its own transaction.
func (s *ListingStore) Upsert(ctx context.Context, record crawler.ListingRecord) (crawler.UpsertOutcome, error) {
	if record.ID == "" {
		return "", fmt.Errorf("%w: listing id is required", crawler.ErrStore)
	}
	raw, err := marshalRaw(record.Raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", crawler.ErrStore, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin upsert: %w", crawler.ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM listings WHERE id = ?`, record.ID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return "", fmt.Errorf("%w: probe listing %s: %w", crawler.ErrStore, record.ID, err)
	}

	if _, err := tx.ExecContext(ctx, upsertSQL,
		record.ID,
		record.Title,
		record.URL,
		record.Description,
		record.Location,
		nullablePrice(record.Price),
		nullableTime(record.PostedAt),
		nullableTime(record.UpdatedAt),
		nullableTime(record.LastActivity),
		formatTime(record.FirstSeen),
		raw,
	); err != nil {
		return "", fmt.Errorf("%w: upsert listing %s: %w", crawler.ErrStore, record.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit upsert: %w", crawler.ErrStore, err)
	}
	if exists == 1 {
		return crawler.UpsertUpdated, nil
	}
	return crawler.UpsertInserted, nil
}

// PurgeStale deletes listings with unknown activity or activity older than
// the freshness horizon at now.
func (s *ListingStore) PurgeStale(ctx context.Context, now time.Time) (int64, error) {
	cutoff := formatTime(now.Add(-crawler.FreshnessHorizon))
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM listings WHERE last_activity IS NULL OR last_activity < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: purge stale listings: %w", crawler.ErrStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: purge rows affected: %w", crawler.ErrStore, err)
	}
	return n, nil
}

// Get loads one listing by id.
func (s *ListingStore) Get(ctx context.Context, id string) (crawler.ListingRecord, error) {
	var (
		rec                    crawler.ListingRecord
		price                  sql.NullFloat64
		posted, updated, last  sql.NullString
		firstSeen, rawMetadata string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, title, url, description, location, price,
	posted_at, updated_at, last_activity, first_seen, raw_metadata
FROM listings WHERE id = ?`, id).Scan(
		&rec.ID, &rec.Title, &rec.URL, &rec.Description, &rec.Location, &price,
		&posted, &updated, &last, &firstSeen, &rawMetadata,
	)
	if err != nil {
		return crawler.ListingRecord{}, fmt.Errorf("%w: get listing %s: %w", crawler.ErrStore, id, err)
	}
	if price.Valid {
		v := price.Float64
		rec.Price = &v
	}
	rec.PostedAt = parseNullableTime(posted)
	rec.UpdatedAt = parseNullableTime(updated)
	rec.LastActivity = parseNullableTime(last)
	rec.FirstSeen = parseNullableTime(sql.NullString{String: firstSeen, Valid: true})
	if err := json.Unmarshal([]byte(rawMetadata), &rec.Raw); err != nil {
		return crawler.ListingRecord{}, fmt.Errorf("%w: decode raw metadata: %w", crawler.ErrStore, err)
	}
	return rec, nil
}

// Count returns the number of stored listings.
func (s *ListingStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count listings: %w", crawler.ErrStore, err)
	}
	return n, nil
}

// Close closes the database.
func (s *ListingStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func marshalRaw(raw map[string]string) (string, error) {
	if raw == nil {
		raw = map[string]string{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("marshal raw metadata: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullablePrice(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func parseNullableTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
