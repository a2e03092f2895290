package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// SendFunc is the dispatch stage signature middleware wraps around.
type SendFunc func(ctx context.Context, cmd *Command) (any, error)

// Middleware wraps command dispatch to add cross-cutting behavior: context
// propagation, hop enforcement, logging. The first middleware in the chain
// is the outermost.
type Middleware func(next SendFunc) SendFunc

// Bus routes commands to their single registered handler through the
// configured middleware chain.
//
// Example:
//
//	bus := command.NewBus(
//	    command.WithMiddleware(
//	        command.PropagateContext(),
//	        command.HopGuard(command.DefaultMaxHops),
//	        command.Logging(logger),
//	    ),
//	)
//	bus.Register(command.NewHandlerFunc(placeOrderHandler))
//	result, err := bus.Send(ctx, command.New(PlaceOrder{OrderID: "o-1"}))
type Bus struct {
	handlers   map[string]Handler
	middleware []Middleware
	logger     *slog.Logger
	mu         sync.RWMutex
}

// Option configures a Bus.
type Option func(*Bus)

// WithMiddleware sets the middleware chain applied to every dispatch, in
// order. Middleware is fixed at construction time.
func WithMiddleware(middleware ...Middleware) Option {
	return func(b *Bus) {
		b.middleware = middleware
	}
}

// WithLogger sets the logger for the bus.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates a command bus with the given options.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string]Handler),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Register registers a handler for a command type. Registration happens at
// bootstrap; a duplicate registration is a configuration error and panics.
func (b *Bus) Register(handler Handler) {
	if handler == nil {
		panic(ErrNilHandler)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	name := handler.Name()
	if _, exists := b.handlers[name]; exists {
		panic(fmt.Sprintf("%s: %s", ErrDuplicateHandler, name))
	}

	b.handlers[name] = handler
}

// Send dispatches the command through the middleware chain to its handler
// and returns the handler's result.
func (b *Bus) Send(ctx context.Context, cmd *Command) (any, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}

	b.mu.RLock()
	middleware := b.middleware
	b.mu.RUnlock()

	send := chainMiddleware(b.dispatch, middleware)
	return send(ctx, cmd)
}

// dispatch is the innermost stage: handler lookup and invocation.
func (b *Bus) dispatch(ctx context.Context, cmd *Command) (any, error) {
	b.mu.RLock()
	handler, exists := b.handlers[cmd.Name]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, cmd.Name)
	}

	return safeHandle(handler, ctx, cmd)
}
