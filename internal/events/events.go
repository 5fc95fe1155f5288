package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventConnectionConnected    = "connection_connected"
	EventConnectionDisconnected = "connection_disconnected"
	EventConnectionError        = "connection_error"
	EventSyncSucceeded          = "sync_succeeded"
	EventSyncFailed             = "sync_failed"
	EventConflictDetected       = "conflict_detected"
	EventBookingIngested        = "booking_ingested"
)

// SyncEventPayload is the snapshot published for sync outcome events.
type SyncEventPayload struct {
	JobID         string    `json:"job_id"`
	ConnectionID  int64     `json:"connection_id"`
	ListingID     int64     `json:"listing_id"`
	ChannelType   string    `json:"channel_type"`
	Facet         string    `json:"facet"`
	TriggeredBy   string    `json:"triggered_by"`
	ItemsSynced   int       `json:"items_synced,omitempty"`
	ErrorCategory string    `json:"error_category,omitempty"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ConflictEventPayload notifies consumers of a cross-channel conflict that
// needs manual resolution.
type ConflictEventPayload struct {
	ListingID         int64  `json:"listing_id"`
	BookingID         int64  `json:"booking_id"`
	ChannelType       string `json:"channel_type"`
	ExternalBookingID string `json:"external_booking_id"`
	BlockingBookingID int64  `json:"blocking_booking_id"`
	BlockingChannel   string `json:"blocking_channel"`
}

// ConnectionEventPayload describes a connection lifecycle change.
type ConnectionEventPayload struct {
	ConnectionID int64  `json:"connection_id"`
	ListingID    int64  `json:"listing_id"`
	ChannelType  string `json:"channel_type"`
	Status       string `json:"status"`
	Detail       string `json:"detail,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events. This is the integration
// point for the out-of-scope notification collaborators.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event. A nil bus is a
// no-op so components can run without one in tests.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}
	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(event)
	return nil
}

// NewJSONEvent builds an event with a JSON-encoded payload.
func NewJSONEvent(eventType string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{Type: eventType, Payload: data, CreatedAt: time.Now()}, nil
}
