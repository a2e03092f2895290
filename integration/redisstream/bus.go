// Package redisstream is the persistent event transport: events publish to a
// Redis Stream and reach handlers through a consumer group with at-least-once
// delivery, per-handler idempotency, bounded retries with backoff, and a
// dead-letter stream.
package redisstream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/sodaframework/soda/core/codec"
	"github.com/sodaframework/soda/core/event"
	"github.com/sodaframework/soda/core/idempotency"
	"github.com/sodaframework/soda/core/logger"
	"github.com/sodaframework/soda/core/runctx"
)

const (
	fieldEvent = "event"
	fieldType  = "type"

	// sentinelType marks the entry XADD-ed to materialize the stream before
	// the consumer group is created. Consumers ACK and skip it.
	sentinelType = "INIT"
)

// Bus is the Redis Streams event bus. Publish appends to the stream and never
// invokes local handlers; delivery happens solely through the consumer loop so
// idempotency stays uniform.
type Bus struct {
	client   StreamClient
	handlers *event.Bus
	store    idempotency.Store
	marshal  *codec.Marshaler
	cfg      Config
	logger   *slog.Logger
	running  atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger configures structured logging for the bus.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithIdempotencyStore overrides the idempotency store. By default the bus
// builds a Redis-backed store from its own client when idempotency is enabled.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(b *Bus) {
		b.store = store
	}
}

// WithMarshaler overrides the payload marshaler, selecting the
// circular-reference policy for event serialization.
func WithMarshaler(m *codec.Marshaler) Option {
	return func(b *Bus) {
		if m != nil {
			b.marshal = m
		}
	}
}

// New creates a stream bus. The handler registry is the in-process event bus
// holding subscriptions; it should be constructed with
// event.WithTransportGate() so local publishes outside the consumer loop are
// suppressed.
func New(client StreamClient, handlers *event.Bus, cfg Config, opts ...Option) (*Bus, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if handlers == nil {
		return nil, ErrNilHandlers
	}

	b := &Bus{
		client:   client,
		handlers: handlers,
		marshal:  codec.New(),
		cfg:      cfg.normalize(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.store == nil && b.cfg.IdempotencyEnabled {
		b.store = NewRedisStore(client,
			WithStorePrefix(b.cfg.IdempotencyKeyPrefix),
			WithStoreTTL(b.cfg.IdempotencyExpireTime),
		)
	}

	return b, nil
}

// Publish serializes the event and appends it to the stream. Implements
// event.Publisher. Local handlers are not invoked here.
func (b *Bus) Publish(ctx context.Context, evt event.Event) error {
	if evt.Payload == nil && evt.Name == "" {
		return event.ErrNilEvent
	}

	if m, ok := runctx.FromContext(ctx); ok {
		evt.Meta = evt.Meta.Merge(m)
	}

	data, err := b.encode(evt)
	if err != nil {
		return err
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Topic,
		MaxLen: b.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{
			fieldEvent: string(data),
			fieldType:  evt.Name,
		},
	}).Result()
	if err != nil {
		return err
	}

	b.logger.DebugContext(ctx, "event published to stream",
		slog.String("stream", b.cfg.Topic),
		slog.String("message_id", id),
		logger.EventID(evt.ID),
		logger.EventName(evt.Name))

	return nil
}

// Start bootstraps the stream and consumer group, then runs the consumer pool
// and the idempotency cleanup loop until the context is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.running.Store(false)

	if err := b.bootstrap(ctx); err != nil {
		return err
	}

	b.logger.InfoContext(ctx, "stream bus started",
		slog.String("stream", b.cfg.Topic),
		slog.String("group", b.cfg.GroupName),
		slog.String("consumer", b.cfg.ConsumerName),
		slog.Int("concurrency", b.cfg.Concurrency))

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < b.cfg.Concurrency; i++ {
		g.Go(func() error {
			return b.consumeLoop(gctx)
		})
	}

	if b.store != nil {
		g.Go(func() error {
			return b.cleanupLoop(gctx)
		})
	}

	return g.Wait()
}

// bootstrap ensures the stream and consumer group exist. An empty stream is
// materialized with a sentinel entry; "group already exists" is success.
func (b *Bus) bootstrap(ctx context.Context) error {
	length, err := b.client.XLen(ctx, b.cfg.Topic).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if length == 0 {
		if _, err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: b.cfg.Topic,
			Values: map[string]any{fieldType: sentinelType},
		}).Result(); err != nil {
			return err
		}
	}

	if err := b.client.XGroupCreateMkStream(ctx, b.cfg.Topic, b.cfg.GroupName, "0").Err(); err != nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

// cleanupLoop periodically prunes expired idempotency records.
func (b *Bus) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed, err := b.store.CleanupExpired(ctx)
			if err != nil {
				b.logger.ErrorContext(ctx, "idempotency cleanup failed",
					logger.Error(err))
				continue
			}
			if removed > 0 {
				b.logger.InfoContext(ctx, "idempotency records cleaned up",
					logger.Count("removed", removed))
			}
		}
	}
}

// encode serializes the full event envelope under the configured
// circular-reference policy.
func (b *Bus) encode(evt event.Event) ([]byte, error) {
	payload, err := b.marshal.Marshal(evt.Payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(wireEvent{
		ID:         evt.ID,
		Name:       evt.Name,
		Payload:    payload,
		OccurredAt: evt.OccurredAt,
		Meta:       evt.Meta,
	})
}

// wireEvent is the stream representation of an event. The payload stays raw
// until the consumer resolves the concrete type.
type wireEvent struct {
	ID         string          `json:"event_id"`
	Name       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_on"`
	Meta       runctx.Metadata `json:"meta"`
}
