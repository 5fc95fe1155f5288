package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/channels"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/domain"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/events"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"

	"github.com/rs/zerolog"
)

var ErrListingNotFound = errors.New("listing not found")

// ConnectionService owns the (listing, channel) connection lifecycle:
// connect with a synchronous capability probe, disconnect with cooperative
// job cancellation, facet updates, and manual retry from the error state.
type ConnectionService struct {
	store        domain.Store
	registry     *channels.Registry
	adapters     *channels.AdapterSet
	locks        domain.LockRepository
	enqueuer     domain.JobEnqueuer
	eventBus     domain.EventPublisher
	catalog      domain.ListingCatalog
	probeTimeout time.Duration
	logger       zerolog.Logger
}

func NewConnectionService(store domain.Store, registry *channels.Registry, adapters *channels.AdapterSet,
	locks domain.LockRepository, enqueuer domain.JobEnqueuer, eventBus domain.EventPublisher,
	catalog domain.ListingCatalog, probeTimeout time.Duration, logger *zerolog.Logger) *ConnectionService {

	if probeTimeout <= 0 {
		probeTimeout = time.Duration(models.DefaultAdapterTimeoutSeconds) * time.Second
	}

	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "connections").Logger()
	}
	return &ConnectionService{
		store:        store,
		registry:     registry,
		adapters:     adapters,
		locks:        locks,
		enqueuer:     enqueuer,
		eventBus:     eventBus,
		catalog:      catalog,
		probeTimeout: probeTimeout,
		logger:       l,
	}
}

// Connect validates the request against the capability registry, probes the
// channel synchronously, and on success schedules an immediate full sync for
// every enabled facet. On a failed probe the connection lands in error and
// no jobs are scheduled.
func (s *ConnectionService) Connect(ctx context.Context, listingID int64, channelType string,
	creds map[string]string, facets []string, externalListingID string) (*models.ChannelConnection, error) {

	if _, ok := s.catalog.Listing(listingID); !ok {
		return nil, fmt.Errorf("%w: %d", ErrListingNotFound, listingID)
	}
	if err := s.registry.ValidateFacets(channelType, facets); err != nil {
		return nil, err
	}
	if err := s.registry.ValidateCredentials(channelType, creds); err != nil {
		return nil, err
	}
	adapter, err := s.adapters.Get(channelType)
	if err != nil {
		return nil, err
	}

	if externalListingID == "" {
		externalListingID = fmt.Sprintf("%d", listingID)
	}

	conn := &models.ChannelConnection{
		ListingID:         listingID,
		ChannelType:       channelType,
		Status:            models.ConnConnecting,
		ExternalListingID: externalListingID,
		Facets:            facets,
		Credentials:       creds,
	}
	if err := s.store.UpsertConnection(ctx, conn); err != nil {
		return nil, err
	}
	// Clear a leftover cancel flag from a previous disconnect, but not while
	// a job from before the disconnect is still draining; that job must keep
	// seeing the flag so it aborts. The executor clears the flag after the
	// abort once the connection is connected again.
	running, err := s.store.HasRunningJob(ctx, conn.ID)
	if err != nil {
		s.logger.Error().Err(err).Int64("connection_id", conn.ID).Msg("check running jobs")
	} else if !running {
		if err := s.locks.ClearCancelled(ctx, conn.ID); err != nil {
			s.logger.Error().Err(err).Int64("connection_id", conn.ID).Msg("clear cancel flag")
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	err = adapter.Probe(probeCtx, conn.Credentials)
	cancel()
	if err != nil {
		detail := channels.DetailOf(err)
		if updErr := s.store.UpdateConnectionStatus(ctx, conn.ID, models.ConnError, detail); updErr != nil {
			s.logger.Error().Err(updErr).Int64("connection_id", conn.ID).Msg("store probe failure")
		}
		s.logger.Warn().
			Int64("listing_id", listingID).
			Str("channel", channelType).
			Str("detail", detail).
			Msg("capability probe failed")
		return s.store.GetConnectionByID(ctx, conn.ID)
	}

	if err := s.store.UpdateConnectionStatus(ctx, conn.ID, models.ConnConnected, ""); err != nil {
		return nil, err
	}
	conn.Status = models.ConnConnected

	s.publishLifecycle(events.EventConnectionConnected, conn, "")
	s.logger.Info().
		Int64("listing_id", listingID).
		Str("channel", channelType).
		Strs("facets", facets).
		Msg("channel connected")

	// Immediate full sync per enabled facet. Enqueue failures here are not
	// connect failures; the scheduler will catch up on its next tick.
	for _, facet := range facets {
		if _, err := s.enqueuer.Enqueue(ctx, conn, facet, models.TriggerScheduled); err != nil {
			s.logger.Error().Err(err).Str("facet", facet).Msg("enqueue initial sync")
		}
	}

	return s.store.GetConnectionByID(ctx, conn.ID)
}

// Connect probe failures leave the connection in error without an error
// return; the caller inspects the returned status. A categorized error is
// returned only for validation failures.

// Disconnect transitions to disconnected, cancels queued jobs, and raises
// the cancellation flag a running job checks between sub-steps. Sync job and
// booking history is retained.
func (s *ConnectionService) Disconnect(ctx context.Context, listingID int64, channelType string) error {
	conn, err := s.store.GetConnection(ctx, listingID, channelType)
	if err != nil {
		return err
	}

	if err := s.locks.SetCancelled(ctx, conn.ID); err != nil {
		s.logger.Error().Err(err).Int64("connection_id", conn.ID).Msg("set cancel flag")
	}

	// Queued jobs hold the pair lock from enqueue time. Snapshot them before
	// failing so only their locks are freed; a job that races into running
	// keeps its lock and releases it when it aborts on the cancel flag.
	queuedByFacet := make(map[string]int64)
	for _, facet := range conn.Facets {
		job, err := s.store.GetActiveJob(ctx, conn.ID, facet)
		if err != nil {
			return err
		}
		if job != nil && job.Status == models.JobQueued {
			queuedByFacet[facet] = job.ID
		}
	}

	cancelled, err := s.store.FailQueuedJobs(ctx, conn.ID, string(channels.CategoryCancelled), "connection was disconnected")
	if err != nil {
		return err
	}

	for facet, jobID := range queuedByFacet {
		job, err := s.store.GetSyncJob(ctx, jobID)
		if err != nil {
			s.logger.Error().Err(err).Str("facet", facet).Msg("reload cancelled job")
			continue
		}
		if job.Status != models.JobFailed {
			continue
		}
		if err := s.locks.ReleaseJobLock(ctx, conn.ID, facet); err != nil {
			s.logger.Error().Err(err).Str("facet", facet).Msg("release pair lock")
		}
	}

	if err := s.store.UpdateConnectionStatus(ctx, conn.ID, models.ConnDisconnected, ""); err != nil {
		return err
	}

	s.publishLifecycle(events.EventConnectionDisconnected, conn, "")
	s.logger.Info().
		Int64("listing_id", listingID).
		Str("channel", channelType).
		Int("jobs_cancelled", cancelled).
		Msg("channel disconnected")
	return nil
}

// UpdateFacets replaces the enabled facet set on a connected connection.
func (s *ConnectionService) UpdateFacets(ctx context.Context, listingID int64, channelType string, facets []string) (*models.ChannelConnection, error) {
	conn, err := s.store.GetConnection(ctx, listingID, channelType)
	if err != nil {
		return nil, err
	}
	if conn.Status != models.ConnConnected {
		return nil, channels.NewError(channels.CategoryNotConnected,
			fmt.Sprintf("channel %q is not connected", channelType))
	}
	if err := s.registry.ValidateFacets(channelType, facets); err != nil {
		return nil, err
	}
	if err := s.store.SetConnectionFacets(ctx, conn.ID, facets); err != nil {
		return nil, err
	}
	return s.store.GetConnectionByID(ctx, conn.ID)
}

// Retry re-runs connect from the error state using the stored credentials.
func (s *ConnectionService) Retry(ctx context.Context, listingID int64, channelType string) (*models.ChannelConnection, error) {
	conn, err := s.store.GetConnection(ctx, listingID, channelType)
	if err != nil {
		return nil, err
	}
	if conn.Status != models.ConnError {
		return nil, channels.NewError(channels.CategoryNotConnected,
			fmt.Sprintf("channel %q is not in error state", channelType))
	}
	return s.Connect(ctx, listingID, channelType, conn.Credentials, conn.Facets, conn.ExternalListingID)
}

func (s *ConnectionService) publishLifecycle(eventType string, conn *models.ChannelConnection, detail string) {
	if s.eventBus == nil {
		return
	}
	_ = s.eventBus.PublishJSON(eventType, events.ConnectionEventPayload{
		ConnectionID: conn.ID,
		ListingID:    conn.ListingID,
		ChannelType:  conn.ChannelType,
		Status:       conn.Status,
		Detail:       detail,
	})
}
