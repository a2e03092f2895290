// Package aggregate provides the base type for domain objects that own a
// consistency boundary and emit domain events during command handling.
// Pending events accumulate in recording order and are drained destructively
// by the repository decorator on save.
package aggregate

import (
	"github.com/sodaframework/soda/core/event"
)

// EventCarrier is anything that accumulates domain events and can drain them.
// The repository decorator and the command facade both operate on this
// interface rather than on a concrete aggregate type.
type EventCarrier interface {
	// PullEvents drains and returns the pending events in recording order.
	// Draining is destructive: a second call returns nil until new events
	// are recorded.
	PullEvents() []event.Event
}

// Root is the embeddable aggregate base. It carries identity and the ordered
// pending-event list. Root is not safe for concurrent use; an aggregate
// instance belongs to a single unit of work.
//
// Example:
//
//	type Order struct {
//	    aggregate.Root
//	    Status string
//	}
//
//	func (o *Order) Place() {
//	    o.Status = "placed"
//	    o.Record(event.New(OrderPlaced{OrderID: o.ID()}))
//	}
type Root struct {
	id      string
	pending []event.Event
}

// NewRoot creates an aggregate root with the given identity.
func NewRoot(id string) Root {
	return Root{id: id}
}

// ID returns the aggregate identity.
func (r *Root) ID() string { return r.id }

// SetID assigns the aggregate identity. Intended for rehydration paths where
// identity arrives after construction.
func (r *Root) SetID(id string) { r.id = id }

// Record appends a domain event to the pending list in emission order.
func (r *Root) Record(evt event.Event) {
	r.pending = append(r.pending, evt)
}

// PullEvents drains the pending events. Implements EventCarrier.
func (r *Root) PullEvents() []event.Event {
	out := r.pending
	r.pending = nil
	return out
}

// PendingCount returns the number of undrained events.
func (r *Root) PendingCount() int { return len(r.pending) }
