package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/sodaframework/soda/core/runctx"
)

// Event represents an immutable domain event with metadata and payload.
type Event struct {
	ID         string          `json:"event_id"`    // Globally unique, time-ordered identifier
	Name       string          `json:"event_type"`  // Stable event type name (e.g., "UserCreated")
	Payload    any             `json:"payload"`     // Event data (struct or []byte)
	OccurredAt time.Time       `json:"occurred_on"` // Wall time at creation
	Meta       runctx.Metadata `json:"meta"`        // Execution context envelope
}

// New creates an Event with a time-ordered UUIDv7 identifier and the current
// wall time. The event name is derived from the payload type.
//
// Example:
//
//	type OrderPlaced struct {
//	    OrderID string
//	}
//
//	evt := event.New(OrderPlaced{OrderID: "o-1"})
//	// evt.Name == "OrderPlaced"
func New(payload any) Event {
	return Event{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Name:       getEventNameFromInstance(payload),
		Payload:    payload,
		OccurredAt: time.Now(),
	}
}

// Grouped is implemented by payloads that belong to broader event families.
// Handlers subscribed to a group name receive every event whose payload
// declares that group, after the handlers for the concrete name. This is the
// explicit replacement for supertype fan-out.
type Grouped interface {
	EventGroups() []string
}
