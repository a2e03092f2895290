package event

import "errors"

var (
	// ErrNilEvent is returned when a nil or zero event is published.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrEmptyEventName is returned when a handler resolves to an empty event name.
	ErrEmptyEventName = errors.New("handler event name cannot be empty")

	// ErrTypeNotRegistered is returned when no payload type is registered for
	// an event name. Transport consumers treat this as an expected fan-out
	// case: the event's concrete type lives in another service.
	ErrTypeNotRegistered = errors.New("event type not registered")
)
