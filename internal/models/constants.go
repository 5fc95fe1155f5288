package models

// Connection statuses.
const (
	ConnDisconnected = "disconnected"
	ConnConnecting   = "connecting"
	ConnConnected    = "connected"
	ConnError        = "error"
)

// Sync job statuses.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Sync facets.
const (
	FacetCalendar = "calendar"
	FacetPricing  = "pricing"
	FacetBookings = "bookings"
)

// Job triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// External booking states.
const (
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Channel types known to the default registry.
const (
	ChannelStayHub = "stayhub"
	ChannelVacanzo = "vacanzo"
)

const (
	// DefaultSyncHorizonDays is how far ahead calendar and pricing pushes reach.
	DefaultSyncHorizonDays = 365

	// DefaultCadenceHours is the scheduled sync cadence per (connection, facet).
	DefaultCadenceHours = 24

	// DefaultFailureThreshold is the consecutive-failure count that forces a
	// connection from connected to error.
	DefaultFailureThreshold = 3

	// DefaultAdapterTimeoutSeconds bounds one adapter call.
	DefaultAdapterTimeoutSeconds = 30

	// DefaultCalendarBatchSize is the number of entries per calendar push batch.
	DefaultCalendarBatchSize = 90

	// DefaultManualSyncWindowSeconds rate-limits manual triggers per pair.
	DefaultManualSyncWindowSeconds = 60

	// DefaultWorkerCount is the executor pool size.
	DefaultWorkerCount = 4

	// DefaultSchedulerTickSeconds is the scheduler loop interval.
	DefaultSchedulerTickSeconds = 60

	// DefaultBackoffCapFactor caps the rate-limit cadence doubling at
	// cap = factor * cadence.
	DefaultBackoffCapFactor = 4

	// WorkerQueueSize is the in-memory job queue capacity.
	WorkerQueueSize = 256
)

// AllFacets lists every schedulable facet.
var AllFacets = []string{FacetCalendar, FacetPricing, FacetBookings}

// ValidFacet reports whether the string names a schedulable facet.
func ValidFacet(facet string) bool {
	for _, f := range AllFacets {
		if f == facet {
			return true
		}
	}
	return false
}
