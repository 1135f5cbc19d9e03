package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/freefinder/internal/crawler"
)

func newMockStore(t *testing.T) (*ListingStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewListingStoreWithPool(mock, "listings")
	require.NoError(t, err)
	return store, mock
}

func testRecord() crawler.ListingRecord {
	posted := time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)
	return crawler.ListingRecord{
		ID:           "craigslist:sanantonio:7712345678",
		Title:        "Free crib",
		URL:          "https://sanantonio.craigslist.org/zip/d/free-crib/7712345678.html",
		Description:  "Sturdy wooden crib.",
		Location:     "Stone Oak",
		PostedAt:     posted,
		LastActivity: posted,
		FirstSeen:    time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		Raw:          map[string]string{"condition": "good"},
	}
}

func TestUpsertReportsInserted(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	rec := testRecord()

	mock.ExpectQuery("INSERT INTO listings").
		WithArgs(
			rec.ID,
			rec.Title,
			rec.URL,
			rec.Description,
			rec.Location,
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			rec.FirstSeen,
			[]byte(`{"condition":"good"}`),
		).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	outcome, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, crawler.UpsertInserted, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReportsUpdated(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("ON CONFLICT \\(id\\) DO UPDATE").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	outcome, err := store.Upsert(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, crawler.UpsertUpdated, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWrapsStoreError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO listings").WillReturnError(errors.New("connection reset"))

	_, err := store.Upsert(context.Background(), testRecord())
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrStore))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	t.Parallel()
	store, _ := newMockStore(t)
	_, err := store.Upsert(context.Background(), crawler.ListingRecord{})
	require.ErrorIs(t, err, crawler.ErrStore)
}

func TestPurgeStale(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM listings WHERE last_activity IS NULL OR last_activity <").
		WithArgs(now.Add(-crawler.FreshnessHorizon)).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	purged, err := store.PurgeStale(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), purged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS listings").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewListingStoreWithPool(mock, "listings; DROP TABLE x")
	require.Error(t, err)
	_, err = NewListingStoreWithPool(nil, "listings")
	require.Error(t, err)

	store, err := NewListingStoreWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "listings", store.table)
}

func TestNewListingStoreRequiresDSN(t *testing.T) {
	t.Parallel()
	_, err := NewListingStore(context.Background(), Config{})
	require.Error(t, err)
}
