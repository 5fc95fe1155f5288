// Package domain declares the interfaces wired between the engine's
// components, so each one can be exercised against test doubles.
package domain

import (
	"context"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
)

// Store is the persistent state the engine reads and mutates.
type Store interface {
	UpsertConnection(ctx context.Context, conn *models.ChannelConnection) error
	GetConnection(ctx context.Context, listingID int64, channelType string) (*models.ChannelConnection, error)
	GetConnectionByID(ctx context.Context, id int64) (*models.ChannelConnection, error)
	ListConnections(ctx context.Context, listingID int64) ([]*models.ChannelConnection, error)
	ListConnectionsByStatus(ctx context.Context, status string) ([]*models.ChannelConnection, error)
	UpdateConnectionStatus(ctx context.Context, id int64, status, lastError string) error
	SetConnectionFacets(ctx context.Context, id int64, facets []string) error
	RecordSyncSuccess(ctx context.Context, id int64, lastSyncAt, nextSyncAt time.Time) error
	RecordSyncFailure(ctx context.Context, id int64, detail string, nextSyncAt time.Time) (int, error)

	CreateSyncJob(ctx context.Context, job *models.SyncJob) error
	GetSyncJob(ctx context.Context, id int64) (*models.SyncJob, error)
	GetSyncJobByPublicID(ctx context.Context, publicID string) (*models.SyncJob, error)
	GetActiveJob(ctx context.Context, connectionID int64, facet string) (*models.SyncJob, error)
	HasRunningJob(ctx context.Context, connectionID int64) (bool, error)
	GetQueuedJobs(ctx context.Context, limit int) ([]models.SyncJob, error)
	ListRecentJobs(ctx context.Context, connectionID int64, limit int) ([]models.SyncJob, error)
	MarkJobRunning(ctx context.Context, id int64) error
	CompleteSyncJob(ctx context.Context, id int64, itemsSynced int) error
	FailSyncJob(ctx context.Context, id int64, category, detail string) error
	FailQueuedJobs(ctx context.Context, connectionID int64, category, detail string) (int, error)

	GetCalendarRange(ctx context.Context, listingID int64, from, to time.Time) ([]models.CalendarEntry, error)
	GetUnavailableDates(ctx context.Context, listingID int64, from, to time.Time) ([]models.CalendarEntry, error)
	ClaimDates(ctx context.Context, listingID int64, dates []time.Time, bookingID int64) error
	ReleaseDates(ctx context.Context, listingID, bookingID int64) (int, error)
	UpsertPriceOverride(ctx context.Context, listingID int64, date time.Time, price float64) error
	GetPriceOverrides(ctx context.Context, listingID int64, from, to time.Time) (map[string]float64, error)

	UpsertExternalBooking(ctx context.Context, booking *models.ExternalBooking) (bool, error)
	GetExternalBooking(ctx context.Context, channelType, externalID string) (*models.ExternalBooking, error)
	GetExternalBookingByID(ctx context.Context, id int64) (*models.ExternalBooking, error)
	ListBookings(ctx context.Context, listingID int64) ([]*models.ExternalBooking, error)
	ListBookingsInRange(ctx context.Context, listingID int64, from, to time.Time) ([]*models.ExternalBooking, error)
	ListConflictingBookingIDs(ctx context.Context, listingID int64) ([]int64, error)
	SetBookingConflicting(ctx context.Context, id int64, conflicting bool) error
}

// LockRepository holds the advisory per-(connection, facet) job locks, the
// manual-trigger rate limits, and the cooperative cancellation flags.
type LockRepository interface {
	// AcquireJobLock atomically takes the pair lock; false means a job for the
	// pair is already in flight.
	AcquireJobLock(ctx context.Context, connectionID int64, facet string, ttl time.Duration) (bool, error)
	ReleaseJobLock(ctx context.Context, connectionID int64, facet string) error

	// AllowManualSync permits at most one manual trigger per pair per window.
	AllowManualSync(ctx context.Context, connectionID int64, facet string, window time.Duration) (bool, error)

	SetCancelled(ctx context.Context, connectionID int64) error
	ClearCancelled(ctx context.Context, connectionID int64) error
	IsCancelled(ctx context.Context, connectionID int64) (bool, error)
}

// EventPublisher fans sync outcomes out to in-process consumers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// JobEnqueuer is what the connection manager and API use to request syncs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, conn *models.ChannelConnection, facet, triggeredBy string) (*models.SyncJob, error)
}

// JobSubmitter accepts created jobs for execution.
type JobSubmitter interface {
	Submit(job models.SyncJob)
}

// ListingCatalog resolves the read-mostly listing input from the product.
type ListingCatalog interface {
	Listing(id int64) (*models.Listing, bool)
}
