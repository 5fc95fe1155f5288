package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inmova_sync",
			Name:      "jobs_total",
			Help:      "Sync jobs by facet and outcome.",
		},
		[]string{"facet", "outcome"},
	)

	conflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inmova_sync",
			Name:      "conflicts_total",
			Help:      "Cross-channel booking conflicts detected.",
		},
	)

	bookingsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inmova_sync",
			Name:      "bookings_ingested_total",
			Help:      "External bookings ingested by channel.",
		},
		[]string{"channel"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inmova_sync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncJobs, conflicts, bookingsIngested, httpRequests)
	})
}

// IncSyncJob increments the job counter for a facet and outcome label.
func IncSyncJob(facet, outcome string) {
	syncJobs.WithLabelValues(facet, outcome).Inc()
}

// IncConflict increments the cross-channel conflict counter.
func IncConflict() {
	conflicts.Inc()
}

// IncBookingIngested increments the ingested-booking counter for a channel.
func IncBookingIngested(channel string) {
	bookingsIngested.WithLabelValues(channel).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
