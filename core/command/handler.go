package command

import (
	"context"
	"fmt"
)

// Handler defines the interface for command handlers. Each handler processes
// a single command type and may return a result: typically the affected
// aggregate or the domain events the command produced.
type Handler interface {
	// Name returns the unique command name this handler processes.
	Name() string

	// Handle executes the handler with the given command payload.
	Handle(ctx context.Context, payload any) (any, error)
}

// HandlerFunc is a generic adapter providing type-safe command handling
// without manual assertions. C is the command payload type, R the result.
type HandlerFunc[C, R any] struct {
	name string
	fn   func(context.Context, C) (R, error)
}

// NewHandlerFunc creates a type-safe command handler. The command name is
// derived from the payload type C.
//
// Example:
//
//	handler := command.NewHandlerFunc(func(ctx context.Context, cmd PlaceOrder) (*Order, error) {
//	    return orders.Place(ctx, cmd.OrderID)
//	})
func NewHandlerFunc[C, R any](fn func(context.Context, C) (R, error)) Handler {
	var zero C
	return &HandlerFunc[C, R]{
		name: getCommandNameFromInstance(zero),
		fn:   fn,
	}
}

// Name returns the command name this handler processes.
func (h *HandlerFunc[C, R]) Name() string { return h.name }

// Handle executes the handler with type-safe payload conversion.
func (h *HandlerFunc[C, R]) Handle(ctx context.Context, payload any) (any, error) {
	cmd, ok := payload.(C)
	if !ok {
		return nil, fmt.Errorf("invalid payload type for %s: got %T", h.name, payload)
	}
	return h.fn(ctx, cmd)
}
