package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
)

var ErrConnectionNotFound = errors.New("channel connection not found")

const connectionColumns = `id, listing_id, channel_type, status, external_listing_id, facets,
    credentials, error_count, last_error, last_sync_at, next_sync_at, created_at, updated_at`

// UpsertConnection creates the connection for (listing, channel) or refreshes
// its mutable fields, preserving history counters on update.
func (db *DB) UpsertConnection(ctx context.Context, conn *models.ChannelConnection) error {
	creds, err := json.Marshal(conn.Credentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	now := time.Now()
	query := `INSERT INTO channel_connections
            (listing_id, channel_type, status, external_listing_id, facets, credentials, last_error, created_at, updated_at)
          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
          ON CONFLICT(listing_id, channel_type) DO UPDATE SET
            status = excluded.status,
            external_listing_id = excluded.external_listing_id,
            facets = excluded.facets,
            credentials = excluded.credentials,
            last_error = excluded.last_error,
            updated_at = excluded.updated_at`

	_, err = db.ExecContext(ctx, query,
		conn.ListingID,
		conn.ChannelType,
		conn.Status,
		conn.ExternalListingID,
		encodeFacets(conn.Facets),
		string(creds),
		conn.LastError,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	stored, err := db.GetConnection(ctx, conn.ListingID, conn.ChannelType)
	if err != nil {
		return err
	}
	*conn = *stored
	return nil
}

func (db *DB) GetConnection(ctx context.Context, listingID int64, channelType string) (*models.ChannelConnection, error) {
	query := fmt.Sprintf(`SELECT %s FROM channel_connections WHERE listing_id = ? AND channel_type = ?`, connectionColumns)
	return db.scanConnection(db.QueryRowContext(ctx, query, listingID, channelType))
}

func (db *DB) GetConnectionByID(ctx context.Context, id int64) (*models.ChannelConnection, error) {
	query := fmt.Sprintf(`SELECT %s FROM channel_connections WHERE id = ?`, connectionColumns)
	return db.scanConnection(db.QueryRowContext(ctx, query, id))
}

// ListConnections returns every connection for a listing, ordered by channel.
func (db *DB) ListConnections(ctx context.Context, listingID int64) ([]*models.ChannelConnection, error) {
	query := fmt.Sprintf(`SELECT %s FROM channel_connections WHERE listing_id = ? ORDER BY channel_type`, connectionColumns)
	return db.queryConnections(ctx, query, listingID)
}

// ListConnectionsByStatus returns every connection in the given status. Used
// by the scheduler to find connected pairs.
func (db *DB) ListConnectionsByStatus(ctx context.Context, status string) ([]*models.ChannelConnection, error) {
	query := fmt.Sprintf(`SELECT %s FROM channel_connections WHERE status = ? ORDER BY id`, connectionColumns)
	return db.queryConnections(ctx, query, status)
}

// UpdateConnectionStatus sets status and last error detail.
func (db *DB) UpdateConnectionStatus(ctx context.Context, id int64, status, lastError string) error {
	query := `UPDATE channel_connections SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	res, err := db.ExecContext(ctx, query, status, lastError, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return requireRow(res)
}

// SetConnectionFacets replaces the enabled facet set.
func (db *DB) SetConnectionFacets(ctx context.Context, id int64, facets []string) error {
	query := `UPDATE channel_connections SET facets = ?, updated_at = ? WHERE id = ?`
	res, err := db.ExecContext(ctx, query, encodeFacets(facets), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update connection facets: %w", err)
	}
	return requireRow(res)
}

// RecordSyncSuccess stores sync timestamps and resets the error counter.
func (db *DB) RecordSyncSuccess(ctx context.Context, id int64, lastSyncAt, nextSyncAt time.Time) error {
	query := `UPDATE channel_connections
	          SET last_sync_at = ?, next_sync_at = ?, error_count = 0, last_error = '', updated_at = ?
	          WHERE id = ?`
	res, err := db.ExecContext(ctx, query, lastSyncAt, nextSyncAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to record sync success: %w", err)
	}
	return requireRow(res)
}

// RecordSyncFailure increments the error counter, stores the detail and the
// next attempt time, and returns the new consecutive-failure count.
func (db *DB) RecordSyncFailure(ctx context.Context, id int64, detail string, nextSyncAt time.Time) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `UPDATE channel_connections
	          SET error_count = error_count + 1, last_error = ?, next_sync_at = ?, updated_at = ?
	          WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, detail, nextSyncAt, time.Now(), id); err != nil {
		return 0, fmt.Errorf("failed to record sync failure: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT error_count FROM channel_connections WHERE id = ?`, id).Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrConnectionNotFound
		}
		return 0, fmt.Errorf("failed to read error count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return count, nil
}

func (db *DB) queryConnections(ctx context.Context, query string, args ...interface{}) ([]*models.ChannelConnection, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.ChannelConnection
	for rows.Next() {
		conn, err := scanConnectionRow(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanConnection(row *sql.Row) (*models.ChannelConnection, error) {
	conn, err := scanConnectionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	return conn, err
}

func scanConnectionRow(row rowScanner) (*models.ChannelConnection, error) {
	var conn models.ChannelConnection
	var externalID, lastError, facets, creds sql.NullString
	var lastSync, nextSync sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.ListingID, &conn.ChannelType, &conn.Status, &externalID, &facets,
		&creds, &conn.ErrorCount, &lastError, &lastSync, &nextSync, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	conn.ExternalListingID = externalID.String
	conn.LastError = lastError.String
	conn.Facets = decodeFacets(facets.String)
	if lastSync.Valid {
		t := lastSync.Time
		conn.LastSyncAt = &t
	}
	if nextSync.Valid {
		t := nextSync.Time
		conn.NextSyncAt = &t
	}
	if creds.Valid && creds.String != "" {
		if err := json.Unmarshal([]byte(creds.String), &conn.Credentials); err != nil {
			return nil, fmt.Errorf("decode credentials: %w", err)
		}
	}
	return &conn, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConnectionNotFound
	}
	return nil
}
