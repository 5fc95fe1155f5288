package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
)

// GetCalendarRange returns the stored entries for [from, to), oldest first.
// Dates with no row are implicitly available with no override.
func (db *DB) GetCalendarRange(ctx context.Context, listingID int64, from, to time.Time) ([]models.CalendarEntry, error) {
	query := `SELECT listing_id, date, available, price_override, booking_id, updated_at
	          FROM calendar_entries
	          WHERE listing_id = ? AND date >= ? AND date < ?
	          ORDER BY date ASC`
	rows, err := db.QueryContext(ctx, query, listingID, encodeDate(from), encodeDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}
	defer rows.Close()

	var entries []models.CalendarEntry
	for rows.Next() {
		entry, err := scanCalendarRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetUnavailableDates returns the unavailable entries in [from, to), the
// inputs to conflict classification.
func (db *DB) GetUnavailableDates(ctx context.Context, listingID int64, from, to time.Time) ([]models.CalendarEntry, error) {
	query := `SELECT listing_id, date, available, price_override, booking_id, updated_at
	          FROM calendar_entries
	          WHERE listing_id = ? AND date >= ? AND date < ? AND available = 0
	          ORDER BY date ASC`
	rows, err := db.QueryContext(ctx, query, listingID, encodeDate(from), encodeDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query unavailable dates: %w", err)
	}
	defer rows.Close()

	var entries []models.CalendarEntry
	for rows.Next() {
		entry, err := scanCalendarRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ClaimDates marks the dates unavailable and attributes them to the booking,
// in one transaction so a date range is never half-claimed.
func (db *DB) ClaimDates(ctx context.Context, listingID int64, dates []time.Time, bookingID int64) error {
	if len(dates) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO calendar_entries (listing_id, date, available, booking_id, updated_at)
	          VALUES (?, ?, 0, ?, ?)
	          ON CONFLICT(listing_id, date) DO UPDATE SET
	            available = 0, booking_id = excluded.booking_id, updated_at = excluded.updated_at`
	now := time.Now()
	for _, d := range dates {
		if _, err := tx.ExecContext(ctx, query, listingID, encodeDate(d), bookingID, now); err != nil {
			return fmt.Errorf("failed to claim date %s: %w", encodeDate(d), err)
		}
	}
	return tx.Commit()
}

// ReleaseDates frees every date the booking holds. Dates claimed by another
// booking are untouched because attribution is part of the key match. Rows
// carrying a price override survive as available; bare rows are removed.
func (db *DB) ReleaseDates(ctx context.Context, listingID, bookingID int64) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE calendar_entries SET available = 1, booking_id = 0, updated_at = ?
		 WHERE listing_id = ? AND booking_id = ? AND price_override IS NOT NULL`,
		time.Now(), listingID, bookingID)
	if err != nil {
		return 0, fmt.Errorf("failed to release override dates: %w", err)
	}
	kept, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx,
		`DELETE FROM calendar_entries WHERE listing_id = ? AND booking_id = ?`,
		listingID, bookingID)
	if err != nil {
		return 0, fmt.Errorf("failed to release dates: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(kept + deleted), nil
}

// UpsertPriceOverride stores a per-date nightly price override without
// touching availability.
func (db *DB) UpsertPriceOverride(ctx context.Context, listingID int64, date time.Time, price float64) error {
	query := `INSERT INTO calendar_entries (listing_id, date, available, price_override, updated_at)
	          VALUES (?, ?, 1, ?, ?)
	          ON CONFLICT(listing_id, date) DO UPDATE SET
	            price_override = excluded.price_override, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, listingID, encodeDate(date), price, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert price override: %w", err)
	}
	return nil
}

// GetPriceOverrides returns per-date overrides keyed by YYYY-MM-DD for
// [from, to).
func (db *DB) GetPriceOverrides(ctx context.Context, listingID int64, from, to time.Time) (map[string]float64, error) {
	query := `SELECT date, price_override FROM calendar_entries
	          WHERE listing_id = ? AND date >= ? AND date < ? AND price_override IS NOT NULL`
	rows, err := db.QueryContext(ctx, query, listingID, encodeDate(from), encodeDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query price overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]float64)
	for rows.Next() {
		var date string
		var price float64
		if err := rows.Scan(&date, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price override: %w", err)
		}
		overrides[date] = price
	}
	return overrides, rows.Err()
}

func scanCalendarRow(row rowScanner) (models.CalendarEntry, error) {
	var entry models.CalendarEntry
	var date string
	var available int
	var override sql.NullFloat64

	if err := row.Scan(&entry.ListingID, &date, &available, &override, &entry.BookingID, &entry.UpdatedAt); err != nil {
		return entry, fmt.Errorf("failed to scan calendar entry: %w", err)
	}

	parsed, err := decodeDate(date)
	if err != nil {
		return entry, fmt.Errorf("failed to parse calendar date %q: %w", date, err)
	}
	entry.Date = parsed
	entry.Available = available != 0
	if override.Valid {
		v := override.Float64
		entry.PriceOverride = &v
	}
	return entry, nil
}
