package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// DefaultChannelBufferSize is the default buffer size for the channel bus.
const DefaultChannelBufferSize = 100

// ErrChannelBusClosed is returned when publishing to a closed channel bus.
var ErrChannelBusClosed = errors.New("channel bus is closed")

// ChannelBus decouples publishers from handlers with a buffered channel:
// Publish enqueues and returns, a single dispatcher goroutine delivers
// through the wrapped in-process Bus. Per-event handler ordering is
// preserved; publishers observe back-pressure when the buffer fills.
//
// Example:
//
//	cb := event.NewChannelBus(bus, event.WithChannelBufferSize(256))
//	go cb.Start(ctx)
//	defer cb.Close()
type ChannelBus struct {
	bus    *Bus
	ch     chan Event
	done   chan struct{}
	logger *slog.Logger
	once   sync.Once
	wg     sync.WaitGroup
}

// ChannelBusOption configures a ChannelBus.
type ChannelBusOption func(*channelBusConfig)

type channelBusConfig struct {
	bufferSize int
	logger     *slog.Logger
}

// WithChannelBufferSize sets the event buffer size.
func WithChannelBufferSize(size int) ChannelBusOption {
	return func(c *channelBusConfig) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithChannelLogger configures structured logging for the channel bus.
func WithChannelLogger(logger *slog.Logger) ChannelBusOption {
	return func(c *channelBusConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChannelBus creates a channel bus delivering through the given in-process bus.
func NewChannelBus(bus *Bus, opts ...ChannelBusOption) *ChannelBus {
	cfg := &channelBusConfig{
		bufferSize: DefaultChannelBufferSize,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &ChannelBus{
		bus:    bus,
		ch:     make(chan Event, cfg.bufferSize),
		done:   make(chan struct{}),
		logger: cfg.logger,
	}
}

// Publish enqueues the event for asynchronous delivery. Blocks when the
// buffer is full so back-pressure reaches the publisher. A Publish racing
// Close unblocks with ErrChannelBusClosed; the buffer channel itself is
// never closed, so the overlap cannot panic.
func (b *ChannelBus) Publish(ctx context.Context, evt Event) error {
	if evt.Payload == nil && evt.Name == "" {
		return ErrNilEvent
	}

	select {
	case <-b.done:
		return ErrChannelBusClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrChannelBusClosed
	case b.ch <- evt:
		return nil
	}
}

// Start runs the dispatcher loop until the context is cancelled or the bus
// is closed. Delivery errors are logged; one failed event never stops the loop.
func (b *ChannelBus) Start(ctx context.Context) error {
	b.wg.Add(1)
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			b.drain(ctx)
			return nil
		case evt := <-b.ch:
			b.deliver(ctx, evt)
		}
	}
}

// drain delivers events still buffered at close time.
func (b *ChannelBus) drain(ctx context.Context) {
	for {
		select {
		case evt := <-b.ch:
			b.deliver(ctx, evt)
		default:
			return
		}
	}
}

func (b *ChannelBus) deliver(ctx context.Context, evt Event) {
	if err := b.bus.Publish(ctx, evt); err != nil {
		b.logger.ErrorContext(ctx, "channel bus delivery failed",
			slog.String("event_id", evt.ID),
			slog.String("event_name", evt.Name),
			slog.String("error", err.Error()))
	}
}

// Close stops accepting events, unblocks publishers waiting on a full
// buffer, and waits for the dispatcher to drain. Idempotent.
func (b *ChannelBus) Close() error {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
	return nil
}
