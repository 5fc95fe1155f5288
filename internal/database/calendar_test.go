package database

import (
	"context"
	"testing"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestClaimAndReleaseDates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	nights := models.DatesBetween(date(2026, 3, 10), date(2026, 3, 13))
	require.NoError(t, db.ClaimDates(ctx, 1, nights, 42))

	entries, err := db.GetUnavailableDates(ctx, 1, date(2026, 3, 1), date(2026, 4, 1))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.False(t, e.Available)
		assert.Equal(t, int64(42), e.BookingID)
	}

	released, err := db.ReleaseDates(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, released)

	entries, err = db.GetUnavailableDates(ctx, 1, date(2026, 3, 1), date(2026, 4, 1))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReleaseDates_LeavesOtherBookingsAlone(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.ClaimDates(ctx, 1, []time.Time{date(2026, 3, 10)}, 42))
	require.NoError(t, db.ClaimDates(ctx, 1, []time.Time{date(2026, 3, 11)}, 43))

	released, err := db.ReleaseDates(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	entries, err := db.GetUnavailableDates(ctx, 1, date(2026, 3, 1), date(2026, 4, 1))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(43), entries[0].BookingID)
}

func TestReleaseDates_KeepsPriceOverrideRows(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	d := date(2026, 7, 1)
	require.NoError(t, db.UpsertPriceOverride(ctx, 1, d, 150))
	require.NoError(t, db.ClaimDates(ctx, 1, []time.Time{d}, 42))

	_, err := db.ReleaseDates(ctx, 1, 42)
	require.NoError(t, err)

	entries, err := db.GetCalendarRange(ctx, 1, d, d.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Available)
	assert.Zero(t, entries[0].BookingID)
	require.NotNil(t, entries[0].PriceOverride)
	assert.Equal(t, 150.0, *entries[0].PriceOverride)
}

func TestClaimDates_ReassignsAttribution(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	d := date(2026, 5, 5)
	require.NoError(t, db.ClaimDates(ctx, 1, []time.Time{d}, 42))
	require.NoError(t, db.ClaimDates(ctx, 1, []time.Time{d}, 43))

	entries, err := db.GetUnavailableDates(ctx, 1, d, d.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(43), entries[0].BookingID)
}

func TestPriceOverrides(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertPriceOverride(ctx, 1, date(2026, 8, 1), 120))
	require.NoError(t, db.UpsertPriceOverride(ctx, 1, date(2026, 8, 2), 125))
	require.NoError(t, db.UpsertPriceOverride(ctx, 1, date(2026, 8, 1), 130))
	require.NoError(t, db.UpsertPriceOverride(ctx, 2, date(2026, 8, 1), 99))

	overrides, err := db.GetPriceOverrides(ctx, 1, date(2026, 8, 1), date(2026, 9, 1))
	require.NoError(t, err)
	assert.Len(t, overrides, 2)
	assert.Equal(t, 130.0, overrides["2026-08-01"])
	assert.Equal(t, 125.0, overrides["2026-08-02"])
}

func TestGetCalendarRange_Bounds(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.ClaimDates(ctx, 1, []time.Time{date(2026, 3, 1), date(2026, 3, 31)}, 42))

	entries, err := db.GetCalendarRange(ctx, 1, date(2026, 3, 1), date(2026, 3, 31))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, date(2026, 3, 1), entries[0].Date)
}
