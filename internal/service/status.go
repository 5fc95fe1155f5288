package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/domain"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
)

// StatusService builds the read-only per-listing channel health projection.
type StatusService struct {
	store   domain.Store
	catalog domain.ListingCatalog
}

func NewStatusService(store domain.Store, catalog domain.ListingCatalog) *StatusService {
	return &StatusService{store: store, catalog: catalog}
}

// Status returns one row per channel connection the listing ever had,
// including disconnected ones, ordered by channel type. Conflicting booking
// ids are attributed to the channel the booking arrived from.
func (s *StatusService) Status(ctx context.Context, listingID int64) ([]models.ChannelStatus, error) {
	if _, ok := s.catalog.Listing(listingID); !ok {
		return nil, fmt.Errorf("%w: %d", ErrListingNotFound, listingID)
	}

	conns, err := s.store.ListConnections(ctx, listingID)
	if err != nil {
		return nil, err
	}

	conflictsByChannel := make(map[string][]int64)
	bookings, err := s.store.ListBookings(ctx, listingID)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		if b.Conflicting && b.State == models.BookingConfirmed {
			conflictsByChannel[b.ChannelType] = append(conflictsByChannel[b.ChannelType], b.ID)
		}
	}

	statuses := make([]models.ChannelStatus, 0, len(conns))
	for _, conn := range conns {
		ids := conflictsByChannel[conn.ChannelType]
		if ids == nil {
			ids = []int64{}
		}
		statuses = append(statuses, models.ChannelStatus{
			ChannelType:           conn.ChannelType,
			Status:                conn.Status,
			Facets:                conn.Facets,
			LastSyncAt:            conn.LastSyncAt,
			NextSyncAt:            conn.NextSyncAt,
			ErrorCount:            conn.ErrorCount,
			LastError:             conn.LastError,
			ConflictingBookingIDs: ids,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ChannelType < statuses[j].ChannelType })
	return statuses, nil
}

// RecentJobs returns the job history for one (listing, channel) connection,
// newest first.
func (s *StatusService) RecentJobs(ctx context.Context, listingID int64, channelType string, limit int) ([]models.SyncJob, error) {
	if _, ok := s.catalog.Listing(listingID); !ok {
		return nil, fmt.Errorf("%w: %d", ErrListingNotFound, listingID)
	}
	conn, err := s.store.GetConnection(ctx, listingID, channelType)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListRecentJobs(ctx, conn.ID, limit)
}

// JobStatus resolves a sync job by its public id together with its owning
// connection, for the manual-sync follow-up endpoint.
func (s *StatusService) JobStatus(ctx context.Context, publicID string) (*models.SyncJob, *models.ChannelConnection, error) {
	job, err := s.store.GetSyncJobByPublicID(ctx, publicID)
	if err != nil {
		return nil, nil, err
	}
	conn, err := s.store.GetConnectionByID(ctx, job.ConnectionID)
	if err != nil {
		return nil, nil, err
	}
	return job, conn, nil
}
