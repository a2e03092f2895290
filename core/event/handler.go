package event

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// HandlerFunc is a type-safe function signature for processing events of type T.
type HandlerFunc[T any] func(context.Context, T) error

// Handler processes events. Implementations are subscribed to a Bus to handle
// a specific event name.
type Handler interface {
	// EventName returns the event name this handler processes.
	EventName() string

	// HandlerName identifies the handler for logging and per-handler
	// idempotency records. Must be stable across restarts.
	HandlerName() string

	// Handle executes the handler with the given event payload.
	Handle(ctx context.Context, payload any) error
}

// NewHandler creates a handler with explicit event and handler names.
// Use this when subscribing to a group name or when several handlers process
// the same event type and need distinct idempotency identities.
//
// Example:
//
//	handler := event.NewHandler("OrderPlaced", "notify-warehouse",
//	    func(ctx context.Context, evt OrderPlaced) error {
//	        return warehouse.Reserve(ctx, evt.OrderID)
//	    })
func NewHandler[T any](eventName, handlerName string, fn HandlerFunc[T]) Handler {
	return &handlerFuncWrapper[T]{
		eventName:   eventName,
		handlerName: handlerName,
		fn:          fn,
	}
}

// NewHandlerFunc creates a type-safe handler from a function. The event name
// is derived from the type parameter and also used as the handler name; the
// payload type is registered for transport deserialization.
//
// Example:
//
//	handler := event.NewHandlerFunc(func(ctx context.Context, evt OrderPlaced) error {
//	    return processOrder(ctx, evt)
//	})
func NewHandlerFunc[T any](fn HandlerFunc[T]) Handler {
	var zero T
	name := getEventNameFromInstance(zero)
	RegisterType[T]()

	return &handlerFuncWrapper[T]{
		eventName:   name,
		handlerName: name,
		fn:          fn,
	}
}

type handlerFuncWrapper[T any] struct {
	eventName   string
	handlerName string
	fn          HandlerFunc[T]
}

func (h *handlerFuncWrapper[T]) EventName() string { return h.eventName }

func (h *handlerFuncWrapper[T]) HandlerName() string { return h.handlerName }

// Handle executes the handler function with type-safe payload conversion.
// Returns an error if the payload cannot be converted to type T.
func (h *handlerFuncWrapper[T]) Handle(ctx context.Context, payload any) error {
	typed, err := unmarshalPayload[T](payload)
	if err != nil {
		return err
	}
	return h.fn(ctx, typed)
}

var (
	// Global type registry for event payload deserialization on the
	// transport consume path.
	typeRegistry   = make(map[string]reflect.Type)
	typeRegistryMu sync.RWMutex
)

// RegisterType registers the payload type T under its derived event name so
// transports can deserialize wire payloads into the concrete type.
// NewHandlerFunc registers automatically; explicit registration is only
// needed for types consumed without a typed handler.
func RegisterType[T any]() {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	typeRegistryMu.Lock()
	typeRegistry[t.Name()] = t
	typeRegistryMu.Unlock()
}

// LookupType resolves a registered payload type by event name.
func LookupType(name string) (reflect.Type, bool) {
	typeRegistryMu.RLock()
	t, ok := typeRegistry[name]
	typeRegistryMu.RUnlock()
	return t, ok
}

// UnmarshalPayload deserializes wire data into the payload type registered for
// the event name. Returns ErrTypeNotRegistered when this process has no
// concrete type for the name, which consumers treat as an expected fan-out
// case rather than a failure.
func UnmarshalPayload(name string, data []byte) (any, error) {
	t, ok := LookupType(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotRegistered, name)
	}

	ptr := reflect.New(t)
	if err := jsonUnmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event %s: %w", name, err)
	}
	return ptr.Elem().Interface(), nil
}
