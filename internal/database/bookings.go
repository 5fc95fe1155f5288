package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
)

var ErrBookingNotFound = errors.New("external booking not found")

const bookingColumns = `id, listing_id, channel_type, external_id, check_in, check_out,
    guest_name, total_price, state, conflicting, created_at, updated_at`

// UpsertExternalBooking inserts the booking or refreshes its mutable fields,
// keyed by (channel_type, external_id). Returns whether a new record was
// created. Records are never deleted.
func (db *DB) UpsertExternalBooking(ctx context.Context, booking *models.ExternalBooking) (bool, error) {
	existing, err := db.GetExternalBooking(ctx, booking.ChannelType, booking.ExternalID)
	if err != nil && !errors.Is(err, ErrBookingNotFound) {
		return false, err
	}

	now := time.Now()
	if existing == nil {
		query := `INSERT INTO external_bookings
		        (listing_id, channel_type, external_id, check_in, check_out, guest_name, total_price, state, conflicting, created_at, updated_at)
		        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		result, err := db.ExecContext(ctx, query,
			booking.ListingID,
			booking.ChannelType,
			booking.ExternalID,
			encodeDate(booking.CheckIn),
			encodeDate(booking.CheckOut),
			booking.GuestName,
			booking.TotalPrice,
			booking.State,
			booking.Conflicting,
			now,
			now,
		)
		if err != nil {
			return false, fmt.Errorf("failed to create external booking: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("failed to get last insert id: %w", err)
		}
		booking.ID = id
		booking.CreatedAt = now
		booking.UpdatedAt = now
		return true, nil
	}

	query := `UPDATE external_bookings
	          SET check_in = ?, check_out = ?, guest_name = ?, total_price = ?, state = ?, updated_at = ?
	          WHERE id = ?`
	_, err = db.ExecContext(ctx, query,
		encodeDate(booking.CheckIn),
		encodeDate(booking.CheckOut),
		booking.GuestName,
		booking.TotalPrice,
		booking.State,
		now,
		existing.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update external booking: %w", err)
	}
	booking.ID = existing.ID
	booking.Conflicting = existing.Conflicting
	booking.CreatedAt = existing.CreatedAt
	booking.UpdatedAt = now
	return false, nil
}

func (db *DB) GetExternalBooking(ctx context.Context, channelType, externalID string) (*models.ExternalBooking, error) {
	query := fmt.Sprintf(`SELECT %s FROM external_bookings WHERE channel_type = ? AND external_id = ?`, bookingColumns)
	return db.scanBooking(db.QueryRowContext(ctx, query, channelType, externalID))
}

func (db *DB) GetExternalBookingByID(ctx context.Context, id int64) (*models.ExternalBooking, error) {
	query := fmt.Sprintf(`SELECT %s FROM external_bookings WHERE id = ?`, bookingColumns)
	return db.scanBooking(db.QueryRowContext(ctx, query, id))
}

// ListBookings returns every booking for a listing, newest first.
func (db *DB) ListBookings(ctx context.Context, listingID int64) ([]*models.ExternalBooking, error) {
	query := fmt.Sprintf(`SELECT %s FROM external_bookings WHERE listing_id = ? ORDER BY created_at DESC`, bookingColumns)
	return db.queryBookings(ctx, query, listingID)
}

// ListBookingsInRange returns bookings overlapping [from, to) for a listing.
func (db *DB) ListBookingsInRange(ctx context.Context, listingID int64, from, to time.Time) ([]*models.ExternalBooking, error) {
	query := fmt.Sprintf(`SELECT %s FROM external_bookings
	        WHERE listing_id = ? AND check_in < ? AND check_out > ?
	        ORDER BY check_in ASC`, bookingColumns)
	return db.queryBookings(ctx, query, listingID, encodeDate(to), encodeDate(from))
}

// ListConflictingBookingIDs returns ids of confirmed bookings flagged as
// cross-channel conflicts, for the status projection.
func (db *DB) ListConflictingBookingIDs(ctx context.Context, listingID int64) ([]int64, error) {
	query := `SELECT id FROM external_bookings
	          WHERE listing_id = ? AND conflicting = 1 AND state = ?
	          ORDER BY id`
	rows, err := db.QueryContext(ctx, query, listingID, models.BookingConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicting bookings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan booking id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetBookingConflicting updates the conflict flag.
func (db *DB) SetBookingConflicting(ctx context.Context, id int64, conflicting bool) error {
	query := `UPDATE external_bookings SET conflicting = ?, updated_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, conflicting, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set conflict flag: %w", err)
	}
	return nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.ExternalBooking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.ExternalBooking
	for rows.Next() {
		booking, err := scanBookingRow(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}

func (db *DB) scanBooking(row *sql.Row) (*models.ExternalBooking, error) {
	booking, err := scanBookingRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return booking, err
}

func scanBookingRow(row rowScanner) (*models.ExternalBooking, error) {
	var booking models.ExternalBooking
	var checkIn, checkOut string
	var guest sql.NullString

	err := row.Scan(
		&booking.ID, &booking.ListingID, &booking.ChannelType, &booking.ExternalID,
		&checkIn, &checkOut, &guest, &booking.TotalPrice, &booking.State, &booking.Conflicting,
		&booking.CreatedAt, &booking.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan external booking: %w", err)
	}

	booking.GuestName = guest.String
	if booking.CheckIn, err = decodeDate(checkIn); err != nil {
		return nil, fmt.Errorf("failed to parse check_in %q: %w", checkIn, err)
	}
	if booking.CheckOut, err = decodeDate(checkOut); err != nil {
		return nil, fmt.Errorf("failed to parse check_out %q: %w", checkOut, err)
	}
	return &booking, nil
}
