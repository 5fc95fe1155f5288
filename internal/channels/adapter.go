// Package channels defines the engine's contract with external distribution
// partners: the capability registry, the adapter interface every channel type
// implements, and the error taxonomy adapters report through.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Credentials is the opaque credential material supplied by the product.
type Credentials map[string]string

// CalendarDay is one canonical availability value pushed to or pulled from a
// channel.
type CalendarDay struct {
	Date      time.Time `json:"date"`
	Available bool      `json:"available"`
}

// PriceDay is one nightly price pushed to a channel.
type PriceDay struct {
	Date    time.Time `json:"date"`
	Nightly float64   `json:"nightly"`
}

// BookingRecord is a booking as reported by a channel, before reconciliation.
type BookingRecord struct {
	ExternalID string    `json:"external_id"`
	CheckIn    time.Time `json:"check_in"`
	CheckOut   time.Time `json:"check_out"`
	GuestName  string    `json:"guest_name"`
	TotalPrice float64   `json:"total_price"`
	State      string    `json:"state"`
}

// Adapter translates the canonical calendar/price/booking model to one
// channel's remote protocol. Implementations are not assumed reentrant-safe
// per connection; the executor keeps calls for one connection sequential.
type Adapter interface {
	// Type returns the channel type this adapter serves.
	Type() string

	// Probe verifies the credentials grant the access the engine needs.
	// Used synchronously by connect.
	Probe(ctx context.Context, creds Credentials) error

	// PullCalendar fetches the channel's current availability for [from, to).
	PullCalendar(ctx context.Context, creds Credentials, externalListingID string, from, to time.Time) ([]CalendarDay, error)

	// PushCalendar uploads one batch of canonical availability entries.
	PushCalendar(ctx context.Context, creds Credentials, externalListingID string, days []CalendarDay) error

	// PushPricing uploads the nightly price table.
	PushPricing(ctx context.Context, creds Credentials, externalListingID string, days []PriceDay) error

	// PullBookings fetches bookings created or changed since the given time,
	// in the channel's stable delivery order.
	PullBookings(ctx context.Context, creds Credentials, externalListingID string, since time.Time) ([]BookingRecord, error)
}

// AdapterSet resolves adapters by channel type.
type AdapterSet struct {
	adapters map[string]Adapter
}

// NewAdapterSet indexes adapters by their channel type.
func NewAdapterSet(adapters ...Adapter) *AdapterSet {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Type()] = a
	}
	return &AdapterSet{adapters: m}
}

// Get returns the adapter for a channel type.
func (s *AdapterSet) Get(channelType string) (Adapter, error) {
	a, ok := s.adapters[channelType]
	if !ok {
		return nil, NewError(CategoryUnknownChannel, fmt.Sprintf("no adapter registered for channel %q", channelType))
	}
	return a, nil
}
