package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
)

var ErrJobNotFound = errors.New("sync job not found")

const jobColumns = `id, public_id, connection_id, facet, triggered_by, status, items_synced,
    error_category, error_detail, started_at, finished_at, created_at`

func (db *DB) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	now := time.Now()
	query := `INSERT INTO sync_jobs (public_id, connection_id, facet, triggered_by, status, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		job.PublicID,
		job.ConnectionID,
		job.Facet,
		job.TriggeredBy,
		job.Status,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now
	return nil
}

func (db *DB) GetSyncJob(ctx context.Context, id int64) (*models.SyncJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_jobs WHERE id = ?`, jobColumns)
	return db.scanJob(db.QueryRowContext(ctx, query, id))
}

func (db *DB) GetSyncJobByPublicID(ctx context.Context, publicID string) (*models.SyncJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_jobs WHERE public_id = ?`, jobColumns)
	return db.scanJob(db.QueryRowContext(ctx, query, publicID))
}

// GetActiveJob returns the queued or running job for a (connection, facet)
// pair, or nil when none exists. Backs the idempotent-enqueue check.
func (db *DB) GetActiveJob(ctx context.Context, connectionID int64, facet string) (*models.SyncJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_jobs
	        WHERE connection_id = ? AND facet = ? AND status IN (?, ?)
	        ORDER BY created_at DESC LIMIT 1`, jobColumns)
	job, err := db.scanJob(db.QueryRowContext(ctx, query, connectionID, facet, models.JobQueued, models.JobRunning))
	if errors.Is(err, ErrJobNotFound) {
		return nil, nil
	}
	return job, err
}

// HasRunningJob reports whether any job for the connection is mid-execution.
func (db *DB) HasRunningJob(ctx context.Context, connectionID int64) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_jobs WHERE connection_id = ? AND status = ?`,
		connectionID, models.JobRunning).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count running jobs: %w", err)
	}
	return count > 0, nil
}

// GetQueuedJobs returns queued jobs oldest-first, for the executor's polling
// fallback.
func (db *DB) GetQueuedJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`, jobColumns)
	rows, err := db.QueryContext(ctx, query, models.JobQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get queued jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.SyncJob
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListRecentJobs returns job history for a connection, newest first.
func (db *DB) ListRecentJobs(ctx context.Context, connectionID int64, limit int) ([]models.SyncJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_jobs WHERE connection_id = ? ORDER BY created_at DESC LIMIT ?`, jobColumns)
	rows, err := db.QueryContext(ctx, query, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.SyncJob
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkJobRunning transitions a queued job to running. Returns ErrJobNotFound
// if the job is no longer queued, which guards against double execution.
func (db *DB) MarkJobRunning(ctx context.Context, id int64) error {
	query := `UPDATE sync_jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`
	res, err := db.ExecContext(ctx, query, models.JobRunning, time.Now(), id, models.JobQueued)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// CompleteSyncJob finishes a job as succeeded with the synced item count.
func (db *DB) CompleteSyncJob(ctx context.Context, id int64, itemsSynced int) error {
	query := `UPDATE sync_jobs SET status = ?, items_synced = ?, finished_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, models.JobSucceeded, itemsSynced, time.Now(), id); err != nil {
		return fmt.Errorf("failed to complete sync job: %w", err)
	}
	return nil
}

// FailSyncJob finishes a job as failed with a categorized error.
func (db *DB) FailSyncJob(ctx context.Context, id int64, category, detail string) error {
	query := `UPDATE sync_jobs SET status = ?, error_category = ?, error_detail = ?, finished_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, models.JobFailed, category, detail, time.Now(), id); err != nil {
		return fmt.Errorf("failed to fail sync job: %w", err)
	}
	return nil
}

// FailQueuedJobs marks every queued job of a connection failed. Used by
// disconnect to cancel work that has not started.
func (db *DB) FailQueuedJobs(ctx context.Context, connectionID int64, category, detail string) (int, error) {
	query := `UPDATE sync_jobs SET status = ?, error_category = ?, error_detail = ?, finished_at = ?
	          WHERE connection_id = ? AND status = ?`
	res, err := db.ExecContext(ctx, query, models.JobFailed, category, detail, time.Now(), connectionID, models.JobQueued)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel queued jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (db *DB) scanJob(row *sql.Row) (*models.SyncJob, error) {
	job, err := scanJobRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func scanJobRow(row rowScanner) (*models.SyncJob, error) {
	var job models.SyncJob
	var category, detail sql.NullString
	var started, finished sql.NullTime

	err := row.Scan(
		&job.ID, &job.PublicID, &job.ConnectionID, &job.Facet, &job.TriggeredBy, &job.Status,
		&job.ItemsSynced, &category, &detail, &started, &finished, &job.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync job: %w", err)
	}

	job.ErrorCategory = category.String
	job.ErrorDetail = detail.String
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	return &job, nil
}
