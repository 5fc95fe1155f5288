// Package reconcile merges inbound channel bookings into the canonical
// calendar while preserving the per-date mutual-exclusion invariant: at most
// one non-conflicting confirmed booking covers any date of a listing.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/channels"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/domain"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/events"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/metrics"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"

	"github.com/rs/zerolog"
)

type Engine struct {
	store    domain.Store
	eventBus domain.EventPublisher
	logger   zerolog.Logger

	// One mutex per listing serializes calendar mutations between booking
	// reconciliation and the executor's calendar-push path.
	listingLocks sync.Map
}

func NewEngine(store domain.Store, eventBus domain.EventPublisher, logger *zerolog.Logger) *Engine {
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "reconcile").Logger()
	}
	return &Engine{
		store:    store,
		eventBus: eventBus,
		logger:   l,
	}
}

// WithListingLock runs fn while holding the listing's calendar lock. The
// executor uses it around each calendar-push batch.
func (e *Engine) WithListingLock(listingID int64, fn func() error) error {
	mu := e.listingMutex(listingID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func (e *Engine) listingMutex(listingID int64) *sync.Mutex {
	if v, ok := e.listingLocks.Load(listingID); ok {
		return v.(*sync.Mutex)
	}
	v, _ := e.listingLocks.LoadOrStore(listingID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Ingest reconciles one channel booking against the canonical calendar.
// The booking record is always persisted; a cross-channel overlap flags it
// conflicting without touching availability. Conflicts are data, not errors.
func (e *Engine) Ingest(ctx context.Context, listingID int64, channelType string, rec channels.BookingRecord) (*models.ExternalBooking, error) {
	if rec.ExternalID == "" {
		return nil, fmt.Errorf("booking has no external id")
	}

	booking := &models.ExternalBooking{
		ListingID:   listingID,
		ChannelType: channelType,
		ExternalID:  rec.ExternalID,
		CheckIn:     models.DateOnly(rec.CheckIn),
		CheckOut:    models.DateOnly(rec.CheckOut),
		GuestName:   rec.GuestName,
		TotalPrice:  rec.TotalPrice,
		State:       rec.State,
	}

	mu := e.listingMutex(listingID)
	mu.Lock()
	defer mu.Unlock()

	created, err := e.store.UpsertExternalBooking(ctx, booking)
	if err != nil {
		return nil, err
	}

	if booking.State == models.BookingCancelled {
		if err := e.release(ctx, booking); err != nil {
			return nil, err
		}
		e.publishIngested(booking, created)
		return booking, nil
	}

	if err := e.claim(ctx, booking); err != nil {
		return nil, err
	}
	e.publishIngested(booking, created)
	return booking, nil
}

// release frees the dates a cancelled booking holds. Attribution on calendar
// rows means dates claimed by any other booking are never touched.
func (e *Engine) release(ctx context.Context, booking *models.ExternalBooking) error {
	released, err := e.store.ReleaseDates(ctx, booking.ListingID, booking.ID)
	if err != nil {
		return err
	}
	if booking.Conflicting {
		// Cancellation resolves the conflict from this booking's side.
		if err := e.store.SetBookingConflicting(ctx, booking.ID, false); err != nil {
			return err
		}
		booking.Conflicting = false
	}
	e.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("listing_id", booking.ListingID).
		Int("dates_released", released).
		Msg("booking cancelled, dates released")
	return nil
}

// claim applies a confirmed booking to the calendar. Dates held by a
// different booking from the same channel are an update/correction; dates
// held by a different channel are a cross-channel conflict.
func (e *Engine) claim(ctx context.Context, booking *models.ExternalBooking) error {
	unavailable, err := e.store.GetUnavailableDates(ctx, booking.ListingID, booking.CheckIn, booking.CheckOut)
	if err != nil {
		return err
	}

	blockedDates := make(map[string]bool)
	blockerIDs := make(map[int64]bool)
	for _, entry := range unavailable {
		if entry.BookingID == booking.ID || entry.BookingID == 0 {
			continue
		}
		blockedDates[entry.Date.Format("2006-01-02")] = true
		blockerIDs[entry.BookingID] = true
	}

	for id := range blockerIDs {
		blocker, err := e.store.GetExternalBookingByID(ctx, id)
		if err != nil {
			return fmt.Errorf("resolve blocking booking %d: %w", id, err)
		}
		if blocker.ChannelType != booking.ChannelType {
			return e.flagConflict(ctx, booking, blocker)
		}
	}

	// No cross-channel blocker. Any remaining overlap is a same-channel
	// update/correction; those dates stay with their current holder.
	if booking.Conflicting {
		if err := e.store.SetBookingConflicting(ctx, booking.ID, false); err != nil {
			return err
		}
		booking.Conflicting = false
	}

	// Re-claim from scratch so a date change releases dates that fell out of
	// the range.
	if _, err := e.store.ReleaseDates(ctx, booking.ListingID, booking.ID); err != nil {
		return err
	}

	var claim []time.Time
	for _, d := range booking.Nights() {
		if !blockedDates[d.Format("2006-01-02")] {
			claim = append(claim, d)
		}
	}
	if err := e.store.ClaimDates(ctx, booking.ListingID, claim, booking.ID); err != nil {
		return err
	}

	e.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("listing_id", booking.ListingID).
		Str("channel", booking.ChannelType).
		Int("dates_claimed", len(claim)).
		Msg("booking reconciled")
	return nil
}

// flagConflict records the booking as conflicting without altering the
// calendar. Neither booking is cancelled; resolution is an external decision.
func (e *Engine) flagConflict(ctx context.Context, booking, blocker *models.ExternalBooking) error {
	if !booking.Conflicting {
		if err := e.store.SetBookingConflicting(ctx, booking.ID, true); err != nil {
			return err
		}
		booking.Conflicting = true
		metrics.IncConflict()
	}

	e.logger.Warn().
		Int64("booking_id", booking.ID).
		Int64("blocking_booking_id", blocker.ID).
		Str("channel", booking.ChannelType).
		Str("blocking_channel", blocker.ChannelType).
		Int64("listing_id", booking.ListingID).
		Msg("cross-channel booking conflict")

	if e.eventBus != nil {
		_ = e.eventBus.PublishJSON(events.EventConflictDetected, events.ConflictEventPayload{
			ListingID:         booking.ListingID,
			BookingID:         booking.ID,
			ChannelType:       booking.ChannelType,
			ExternalBookingID: booking.ExternalID,
			BlockingBookingID: blocker.ID,
			BlockingChannel:   blocker.ChannelType,
		})
	}
	return nil
}

func (e *Engine) publishIngested(booking *models.ExternalBooking, created bool) {
	metrics.IncBookingIngested(booking.ChannelType)
	if e.eventBus == nil {
		return
	}
	_ = e.eventBus.PublishJSON(events.EventBookingIngested, map[string]interface{}{
		"booking_id":  booking.ID,
		"listing_id":  booking.ListingID,
		"channel":     booking.ChannelType,
		"state":       booking.State,
		"conflicting": booking.Conflicting,
		"created":     created,
	})
}
