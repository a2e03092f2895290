package query

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Handler defines the interface for query handlers. Each handler answers a
// single query type.
type Handler interface {
	// Name returns the unique query name this handler answers.
	Name() string

	// Handle executes the handler with the given query payload.
	Handle(ctx context.Context, payload any) (any, error)
}

// HandlerFunc is a generic adapter for type-safe query handling. Q is the
// query payload type, R the result.
type HandlerFunc[Q, R any] struct {
	name string
	fn   func(context.Context, Q) (R, error)
}

// NewHandlerFunc creates a type-safe query handler. The query name is derived
// from the payload type Q.
//
// Example:
//
//	handler := query.NewHandlerFunc(func(ctx context.Context, q GetOrder) (*Order, error) {
//	    return orders.Get(ctx, q.OrderID)
//	})
func NewHandlerFunc[Q, R any](fn func(context.Context, Q) (R, error)) Handler {
	var zero Q
	return &HandlerFunc[Q, R]{
		name: getQueryNameFromInstance(zero),
		fn:   fn,
	}
}

// Name returns the query name this handler answers.
func (h *HandlerFunc[Q, R]) Name() string { return h.name }

// Handle executes the handler with type-safe payload conversion.
func (h *HandlerFunc[Q, R]) Handle(ctx context.Context, payload any) (any, error) {
	q, ok := payload.(Q)
	if !ok {
		return nil, fmt.Errorf("invalid payload type for %s: got %T", h.name, payload)
	}
	return h.fn(ctx, q)
}

// Bus routes queries to their single registered handler. Queries have no
// recursion guard and never publish events; the bus only logs execution.
type Bus struct {
	handlers map[string]Handler
	logger   *slog.Logger
	mu       sync.RWMutex
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger for the bus.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates a query bus.
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

// Register registers a handler for a query type. A duplicate registration is
// a configuration error and panics at bootstrap.
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

// Send dispatches the query to its handler and returns the result.
func (b *Bus) Send(ctx context.Context, q *Query) (any, error) {
	if q == nil {
		return nil, ErrNilQuery
	}

	b.mu.RLock()
	handler, exists := b.handlers[q.Name]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, q.Name)
	}

	start := time.Now()
	result, err := safeHandle(handler, ctx, q.Payload)
	duration := time.Since(start)

	if err != nil {
		b.logger.ErrorContext(ctx, "query failed",
			slog.String("query", q.Name),
			slog.String("user_name", q.Meta.UserName),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, err
	}

	b.logger.DebugContext(ctx, "query completed",
		slog.String("query", q.Name),
		slog.String("user_name", q.Meta.UserName),
		slog.Duration("duration", duration))

	return result, nil
}

var queryNameCache sync.Map

func getQueryName(t reflect.Type) string {
	if name, ok := queryNameCache.Load(t); ok {
		return name.(string)
	}

	original := t
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	var name string
	if t.Name() != "" {
		name = t.Name()
	} else {
		name = t.String()
	}

	queryNameCache.Store(original, name)
	return name
}

func getQueryNameFromInstance(q any) string {
	if q == nil {
		return ""
	}
	return getQueryName(reflect.TypeOf(q))
}

func safeHandle(handler Handler, ctx context.Context, payload any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("handler %s panicked: %v", handler.Name(), r)
		}
	}()
	return handler.Handle(ctx, payload)
}
