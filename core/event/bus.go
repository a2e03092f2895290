package event

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sodaframework/soda/core/runctx"
)

// Publisher publishes events. Implemented by the in-process Bus and by the
// Redis Streams transport; the facade and repository decorator only see this
// interface.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Bus is the in-process event bus. Delivery is synchronous on the calling
// goroutine: handlers for the concrete event name run in registration order,
// then handlers for each group the payload declares. A handler failure does
// not prevent delivery to the remaining handlers; all failures are joined
// into the returned error.
//
// Example:
//
//	bus := event.NewBus(event.WithBusLogger(logger))
//	bus.Subscribe(event.NewHandlerFunc(func(ctx context.Context, evt OrderPlaced) error {
//	    return reserveStock(ctx, evt)
//	}))
//	err := bus.Publish(ctx, event.New(OrderPlaced{OrderID: "o-1"}))
type Bus struct {
	handlers map[string][]Handler
	mu       sync.RWMutex

	logger *slog.Logger

	// gated is set when a persistent transport owns delivery. Publish then
	// dispatches locally only on stream-consumer contexts; all other calls
	// are suppressed so handlers never run twice per event.
	gated bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger configures structured logging for the bus.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTransportGate restricts local dispatch to stream-consumer contexts.
// Set when a persistent transport is attached: events reach handlers solely
// through the consumer loop, which marks its context accordingly.
func WithTransportGate() BusOption {
	return func(b *Bus) {
		b.gated = true
	}
}

// NewBus creates an in-process event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		handlers: make(map[string][]Handler),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe registers a handler for its event name. Multiple handlers may
// subscribe to the same name; delivery follows registration order.
func (b *Bus) Subscribe(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	name := h.EventName()
	if name == "" {
		return ErrEmptyEventName
	}

	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], h)
	b.mu.Unlock()
	return nil
}

// Unsubscribe removes the first subscription matching the handler. Remaining
// handlers for the same event are unaffected.
func (b *Bus) Unsubscribe(h Handler) {
	if h == nil {
		return
	}
	name := h.EventName()

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[name]
	for i, registered := range list {
		if registered == h {
			next := make([]Handler, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.handlers, name)
			} else {
				b.handlers[name] = next
			}
			return
		}
	}
}

// HandlersFor returns a snapshot of the handlers that would receive the
// event: concrete-name handlers first, then group handlers. Transport
// consumers use it to drive per-handler idempotent dispatch.
func (b *Bus) HandlersFor(evt Event) []Handler {
	names := []string{evt.Name}
	if g, ok := evt.Payload.(Grouped); ok {
		names = append(names, g.EventGroups()...)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Handler
	for _, name := range names {
		out = append(out, b.handlers[name]...)
	}
	return out
}

// Publish delivers the event to all matching handlers in order. An empty
// handler list is a no-op. Returns the joined errors of all failed handlers.
//
// When the bus is transport-gated, calls outside a stream-consumer context
// return nil without invoking any handler: the event will reach handlers
// through the consumer loop instead.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.Payload == nil && evt.Name == "" {
		return ErrNilEvent
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if b.gated && !runctx.IsStreamConsumer(ctx) {
		b.logger.DebugContext(ctx, "local event dispatch suppressed, transport owns delivery",
			slog.String("event_id", evt.ID),
			slog.String("event_name", evt.Name))
		return nil
	}

	handlers := b.HandlersFor(evt)
	if len(handlers) == 0 {
		return nil
	}

	// Handlers run under the event's own execution metadata.
	hctx := runctx.WithMetadata(ctx, evt.Meta)

	var errs []error
	for _, h := range handlers {
		start := time.Now()
		if err := safeHandle(h, hctx, evt.Payload); err != nil {
			errs = append(errs, fmt.Errorf("handler %s failed: %w", h.HandlerName(), err))
			b.logger.ErrorContext(ctx, "event handler failed",
				slog.String("event_id", evt.ID),
				slog.String("event_name", evt.Name),
				slog.String("handler", h.HandlerName()),
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()))
			continue
		}
		b.logger.DebugContext(ctx, "event handler completed",
			slog.String("event_id", evt.ID),
			slog.String("event_name", evt.Name),
			slog.String("handler", h.HandlerName()),
			slog.String("user_name", evt.Meta.UserName),
			slog.Duration("duration", time.Since(start)))
	}

	return errors.Join(errs...)
}
