// Package postgres provides a Postgres-backed listing store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/freefinder/internal/crawler"
)

const defaultTable = "listings"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for listing rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ListingStore implements crawler.Store on Postgres.
type ListingStore struct {
	pool  pool
	table string
}

// NewListingStore connects to Postgres and ensures the listings table exists.
func NewListingStore(ctx context.Context, cfg Config) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &ListingStore{pool: p, table: table}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewListingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewListingStoreWithPool(p pool, table string) (*ListingStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ListingStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the listings table and its purge index.
func (s *ListingStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	url           TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	price         DOUBLE PRECISION,
	posted_at     TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ,
	last_activity TIMESTAMPTZ,
	first_seen    TIMESTAMPTZ NOT NULL,
	raw_metadata  JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS %[1]s_last_activity_idx ON %[1]s (last_activity);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: ensure schema: %w", crawler.ErrStore, err)
	}
	return nil
}

// Upsert inserts or overwrites a listing. xmax is zero only for rows the
// statement inserted, which tells the two outcomes apart.
func (s *ListingStore) Upsert(ctx context.Context, record crawler.ListingRecord) (crawler.UpsertOutcome, error) {
	if record.ID == "" {
		return "", fmt.Errorf("%w: listing id is required", crawler.ErrStore)
	}
	raw := record.Raw
	if raw == nil {
		raw = map[string]string{}
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("%w: marshal raw metadata: %w", crawler.ErrStore, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	title,
	url,
	description,
	location,
	price,
	posted_at,
	updated_at,
	last_activity,
	first_seen,
	raw_metadata
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	url = EXCLUDED.url,
	description = EXCLUDED.description,
	location = EXCLUDED.location,
	price = EXCLUDED.price,
	posted_at = EXCLUDED.posted_at,
	updated_at = EXCLUDED.updated_at,
	last_activity = EXCLUDED.last_activity,
	raw_metadata = EXCLUDED.raw_metadata
RETURNING (xmax = 0) AS inserted`, s.table)

	args := []any{
		record.ID,
		record.Title,
		record.URL,
		record.Description,
		record.Location,
		record.Price,
		nullableTime(record.PostedAt),
		nullableTime(record.UpdatedAt),
		nullableTime(record.LastActivity),
		record.FirstSeen.UTC(),
		rawJSON,
	}
	var inserted bool
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&inserted); err != nil {
		return "", fmt.Errorf("%w: upsert listing %s: %w", crawler.ErrStore, record.ID, err)
	}
	if inserted {
		return crawler.UpsertInserted, nil
	}
	return crawler.UpsertUpdated, nil
}

// PurgeStale deletes listings with unknown activity or activity older than
// the freshness horizon at now.
func (s *ListingStore) PurgeStale(ctx context.Context, now time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE last_activity IS NULL OR last_activity < $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, now.Add(-crawler.FreshnessHorizon).UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: purge stale listings: %w", crawler.ErrStore, err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
