package models

import "time"

// Listing is one rentable inventory unit. Owned by the surrounding product;
// the engine treats it as read-mostly input loaded from the listings catalog.
type Listing struct {
	ID           int64         `yaml:"id" json:"id"`
	Name         string        `yaml:"name" json:"name"`
	Capacity     int           `yaml:"capacity" json:"capacity"`
	BasePrice    float64       `yaml:"base_price" json:"base_price"`
	Amenities    []string      `yaml:"amenities" json:"amenities,omitempty"`
	IsActive     bool          `yaml:"is_active" json:"is_active"`
	SeasonPrices []SeasonPrice `yaml:"season_prices" json:"season_prices,omitempty"`
}

// SeasonPrice overrides the nightly base price for a date range, inclusive of
// From and exclusive of To.
type SeasonPrice struct {
	From    time.Time `yaml:"from" json:"from"`
	To      time.Time `yaml:"to" json:"to"`
	Nightly float64   `yaml:"nightly" json:"nightly"`
}

// NightlyPrice returns the effective nightly price for a date, applying the
// first matching season override.
func (l *Listing) NightlyPrice(date time.Time) float64 {
	d := DateOnly(date)
	for _, s := range l.SeasonPrices {
		if !d.Before(DateOnly(s.From)) && d.Before(DateOnly(s.To)) {
			return s.Nightly
		}
	}
	return l.BasePrice
}

// ChannelConnection is the lifecycle record for one (listing, channel) pair.
// At most one connection exists per pair, enforced by a unique index.
type ChannelConnection struct {
	ID                int64             `json:"id"`
	ListingID         int64             `json:"listing_id"`
	ChannelType       string            `json:"channel_type"`
	Status            string            `json:"status"`
	ExternalListingID string            `json:"external_listing_id"`
	Facets            []string          `json:"facets"`
	Credentials       map[string]string `json:"-"`
	ErrorCount        int               `json:"error_count"`
	LastError         string            `json:"last_error,omitempty"`
	LastSyncAt        *time.Time        `json:"last_sync_at,omitempty"`
	NextSyncAt        *time.Time        `json:"next_sync_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// HasFacet reports whether the facet is enabled on this connection.
func (c *ChannelConnection) HasFacet(facet string) bool {
	for _, f := range c.Facets {
		if f == facet {
			return true
		}
	}
	return false
}

// SyncJob is one unit of sync work for a (connection, facet) pair. Created by
// the scheduler, mutated only by the executor, retained for history.
type SyncJob struct {
	ID            int64      `json:"id"`
	PublicID      string     `json:"job_id"`
	ConnectionID  int64      `json:"connection_id"`
	Facet         string     `json:"facet"`
	TriggeredBy   string     `json:"triggered_by"`
	Status        string     `json:"status"`
	ItemsSynced   int        `json:"items_synced"`
	ErrorCategory string     `json:"error_category,omitempty"`
	ErrorDetail   string     `json:"error_detail,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CalendarEntry is one canonical per-date availability record. Dates with no
// row are available with no price override; rows exist only for unavailable
// dates or dates carrying an override. Unavailable rows are attributed to the
// external booking that holds them.
type CalendarEntry struct {
	ListingID     int64     `json:"listing_id"`
	Date          time.Time `json:"date"`
	Available     bool      `json:"available"`
	PriceOverride *float64  `json:"price_override,omitempty"`
	BookingID     int64     `json:"booking_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ExternalBooking is a normalized booking pulled from a channel. Records are
// never deleted; cancellation is a state change.
type ExternalBooking struct {
	ID          int64     `json:"id"`
	ListingID   int64     `json:"listing_id"`
	ChannelType string    `json:"channel_type"`
	ExternalID  string    `json:"external_id"`
	CheckIn     time.Time `json:"check_in"`
	CheckOut    time.Time `json:"check_out"`
	GuestName   string    `json:"guest_name"`
	TotalPrice  float64   `json:"total_price"`
	State       string    `json:"state"`
	Conflicting bool      `json:"conflicting"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Nights returns the booked dates [CheckIn, CheckOut).
func (b *ExternalBooking) Nights() []time.Time {
	return DatesBetween(b.CheckIn, b.CheckOut)
}

// ChannelStatus is the read-only per-channel projection consumed by the
// dashboard and notification collaborators.
type ChannelStatus struct {
	ChannelType           string     `json:"channel_type"`
	Status                string     `json:"status"`
	Facets                []string   `json:"facets"`
	LastSyncAt            *time.Time `json:"last_sync_at,omitempty"`
	NextSyncAt            *time.Time `json:"next_sync_at,omitempty"`
	ErrorCount            int        `json:"error_count"`
	LastError             string     `json:"last_error,omitempty"`
	ConflictingBookingIDs []int64    `json:"conflicting_booking_ids"`
}

// DateOnly truncates a time to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DatesBetween expands [from, to) into individual dates.
func DatesBetween(from, to time.Time) []time.Time {
	start := DateOnly(from)
	end := DateOnly(to)
	if !start.Before(end) {
		return nil
	}
	dates := make([]time.Time, 0, int(end.Sub(start).Hours()/24))
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}
