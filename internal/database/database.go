// Package database is the engine's persistent store: channel connections,
// sync job history, the canonical calendar, and external bookings, all in a
// single SQLite file.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// dateLayout is how calendar dates are stored; date-only, UTC.
const dateLayout = "2006-01-02"

type DB struct {
	db *sql.DB
}

func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS channel_connections (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            listing_id INTEGER NOT NULL,
            channel_type TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'disconnected',
            external_listing_id TEXT,
            facets TEXT NOT NULL DEFAULT '',
            credentials TEXT NOT NULL DEFAULT '{}',
            error_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            last_sync_at DATETIME,
            next_sync_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS sync_jobs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            public_id TEXT NOT NULL,
            connection_id INTEGER NOT NULL,
            facet TEXT NOT NULL,
            triggered_by TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'queued',
            items_synced INTEGER NOT NULL DEFAULT 0,
            error_category TEXT,
            error_detail TEXT,
            started_at DATETIME,
            finished_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS calendar_entries (
            listing_id INTEGER NOT NULL,
            date TEXT NOT NULL,
            available INTEGER NOT NULL DEFAULT 1,
            price_override REAL,
            booking_id INTEGER NOT NULL DEFAULT 0,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (listing_id, date)
        )`,
		`CREATE TABLE IF NOT EXISTS external_bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            listing_id INTEGER NOT NULL,
            channel_type TEXT NOT NULL,
            external_id TEXT NOT NULL,
            check_in TEXT NOT NULL,
            check_out TEXT NOT NULL,
            guest_name TEXT,
            total_price REAL NOT NULL DEFAULT 0,
            state TEXT NOT NULL DEFAULT 'confirmed',
            conflicting INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_pair ON channel_connections(listing_id, channel_type)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_status ON channel_connections(status)`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_connection ON sync_jobs(connection_id, facet)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON sync_jobs(status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_public_id ON sync_jobs(public_id)`,

		`CREATE INDEX IF NOT EXISTS idx_calendar_booking ON calendar_entries(booking_id)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_external ON external_bookings(channel_type, external_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_listing ON external_bookings(listing_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_conflicting ON external_bookings(conflicting)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) PingContext(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// BeginTx exposes transactions for multi-statement calendar mutations.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return db.db.BeginTx(ctx, opts)
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func encodeFacets(facets []string) string {
	return strings.Join(facets, ",")
}

func decodeFacets(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func encodeDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func decodeDate(raw string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, raw, time.UTC)
}
