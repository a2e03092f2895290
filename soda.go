// Package soda is a CQRS dispatch fabric: commands and queries enter through
// a single facade, commands produce domain events, and events reach handlers
// either in-process or through a persistent Redis Streams transport with
// consumer groups, retries, idempotency, and dead-lettering.
//
// The facade composes three buses and guards against runaway recursion:
// synchronous command nesting is capped (default 10) with a breadcrumb trail,
// and command->event->command hops are capped across async and transport
// boundaries (default 20).
//
// Example:
//
//	bus := event.NewBus()
//	fab := soda.New(soda.WithEventPublisher(bus))
//	fab.Commands().Register(command.NewHandlerFunc(placeOrder))
//	result, err := fab.SendCommand(ctx, PlaceOrder{OrderID: "o-1"})
package soda

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sodaframework/soda/core/aggregate"
	"github.com/sodaframework/soda/core/command"
	"github.com/sodaframework/soda/core/event"
	"github.com/sodaframework/soda/core/query"
	"github.com/sodaframework/soda/core/runctx"
	"github.com/sodaframework/soda/pkg/async"
)

// DefaultMaxSyncDepth caps synchronous command nesting. Exceeding it fails
// with ErrCommandRecursionTooDeep carrying the command trail.
const DefaultMaxSyncDepth = 10

// Facade is the single entry point for commands and queries. It owns the
// middleware composition (context propagation -> hop guard -> logging), the
// synchronous recursion guard, post-command event publication, and the async
// command pool.
type Facade struct {
	commands *command.Bus
	queries  *query.Bus
	events   event.Publisher
	channel  *event.ChannelBus
	pool     *pool

	maxSyncDepth int
	maxHops      int
	streamMode   bool
	logger       *slog.Logger
}

// Option configures a Facade.
type Option func(*facadeConfig)

type facadeConfig struct {
	events       event.Publisher
	logger       *slog.Logger
	maxSyncDepth int
	maxHops      int
	streamMode   bool
	channelMode  bool
	workers      int
	queueSize    int
}

// WithEventPublisher sets the publisher that receives domain events produced
// by commands and repository saves.
func WithEventPublisher(p event.Publisher) Option {
	return func(c *facadeConfig) {
		c.events = p
	}
}

// WithStreamTransport declares that the event publisher is a persistent
// stream. The facade then defers all event publication to the repository
// decorator so each configuration has exactly one publishing site.
func WithStreamTransport() Option {
	return func(c *facadeConfig) {
		c.streamMode = true
	}
}

// WithChannelTransport wraps the configured in-process event bus in a
// buffered channel dispatcher, decoupling publishers from handlers. The
// facade starts the dispatcher and closes it in Stop. Ignored when the
// publisher is not an in-process bus.
func WithChannelTransport() Option {
	return func(c *facadeConfig) {
		c.channelMode = true
	}
}

// WithFacadeLogger sets the logger for the facade and its buses.
func WithFacadeLogger(logger *slog.Logger) Option {
	return func(c *facadeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxSyncDepth overrides the synchronous nesting ceiling.
func WithMaxSyncDepth(depth int) Option {
	return func(c *facadeConfig) {
		if depth > 0 {
			c.maxSyncDepth = depth
		}
	}
}

// WithMaxHops overrides the command->event->command hop ceiling.
func WithMaxHops(hops int) Option {
	return func(c *facadeConfig) {
		if hops > 0 {
			c.maxHops = hops
		}
	}
}

// WithAsyncPool sizes the async command pool: worker count and bounded queue
// capacity. When the queue is full, submission runs on the caller.
func WithAsyncPool(workers, queueSize int) Option {
	return func(c *facadeConfig) {
		if workers > 0 {
			c.workers = workers
		}
		if queueSize > 0 {
			c.queueSize = queueSize
		}
	}
}

// New creates a Facade with the given options.
func New(opts ...Option) *Facade {
	cfg := &facadeConfig{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxSyncDepth: DefaultMaxSyncDepth,
		maxHops:      command.DefaultMaxHops,
		workers:      DefaultAsyncWorkers,
		queueSize:    DefaultAsyncQueueSize,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	f := &Facade{
		events:       cfg.events,
		maxSyncDepth: cfg.maxSyncDepth,
		maxHops:      cfg.maxHops,
		streamMode:   cfg.streamMode,
		logger:       cfg.logger,
	}

	f.commands = command.NewBus(
		command.WithLogger(cfg.logger),
		command.WithMiddleware(
			command.PropagateContext(),
			command.HopGuard(cfg.maxHops),
			command.Logging(cfg.logger),
		),
	)
	f.queries = query.NewBus(query.WithLogger(cfg.logger))
	f.pool = newPool(cfg.workers, cfg.queueSize)

	if cfg.channelMode {
		if bus, ok := f.events.(*event.Bus); ok && bus != nil {
			f.channel = event.NewChannelBus(bus, event.WithChannelLogger(cfg.logger))
			f.events = f.channel
			go func() { _ = f.channel.Start(context.Background()) }()
		}
	}

	return f
}

// Commands exposes the command bus for handler registration at bootstrap.
func (f *Facade) Commands() *command.Bus { return f.commands }

// Queries exposes the query bus for handler registration at bootstrap.
func (f *Facade) Queries() *query.Bus { return f.queries }

// SendCommand dispatches a command synchronously and returns the handler's
// result. The payload may be a raw command struct or a pre-built *Command.
func (f *Facade) SendCommand(ctx context.Context, payload any) (any, error) {
	cmd, err := asCommand(payload)
	if err != nil {
		return nil, err
	}

	ctx, depth := runctx.PushFrame(ctx, cmd.Name)
	if depth > f.maxSyncDepth {
		trail := runctx.Trail(ctx)
		return nil, fmt.Errorf("%w: depth %d exceeds limit %d, trail: %s",
			ErrCommandRecursionTooDeep, depth, f.maxSyncDepth, strings.Join(trail, " -> "))
	}

	result, err := f.commands.Send(ctx, cmd)
	if err != nil {
		return nil, err
	}

	f.publishResultEvents(ctx, cmd, result)
	return result, nil
}

// SendAsyncCommand dispatches a command on the async pool and returns a
// future. The recursion guard runs before submission; the execution metadata
// is captured at submission time and installed on the worker.
func (f *Facade) SendAsyncCommand(ctx context.Context, payload any) (*async.Future, error) {
	cmd, err := asCommand(payload)
	if err != nil {
		return nil, err
	}

	if depth := runctx.Depth(ctx); depth+1 > f.maxSyncDepth {
		trail := append(runctx.Trail(ctx), cmd.Name)
		return nil, fmt.Errorf("%w: depth %d exceeds limit %d, trail: %s",
			ErrCommandRecursionTooDeep, depth+1, f.maxSyncDepth, strings.Join(trail, " -> "))
	}

	// Detach strips cancellation and the sync frame trail but keeps the
	// metadata, so hop accounting survives the pool boundary.
	wctx := runctx.Detach(ctx)

	future := async.NewFuture()
	f.pool.submit(func() {
		result, err := f.commands.Send(wctx, cmd)
		if err == nil {
			f.publishResultEvents(wctx, cmd, result)
		}
		future.Resolve(result, err)
	})
	return future, nil
}

// SendTransactCommand dispatches a command synchronously inside the caller's
// transactional scope. The transaction boundary itself belongs to the caller
// (repository.Scope.Run or a database TxManager); event publication for
// aggregate saves then happens after commit.
func (f *Facade) SendTransactCommand(ctx context.Context, payload any) (any, error) {
	return f.SendCommand(ctx, payload)
}

// SendQuery dispatches a query and returns the result. Queries carry no
// recursion guard and never publish events.
func (f *Facade) SendQuery(ctx context.Context, payload any) (any, error) {
	q, err := asQuery(payload)
	if err != nil {
		return nil, err
	}
	return f.queries.Send(ctx, q)
}

// Stop drains the async pool and, when a channel transport is owned by the
// facade, closes it after buffered events are delivered.
func (f *Facade) Stop() {
	f.pool.stop()
	if f.channel != nil {
		_ = f.channel.Close()
	}
}

// publishResultEvents publishes the domain events a command produced. With a
// stream transport attached publication is deferred to the repository
// decorator, which is the single publishing site in that configuration.
func (f *Facade) publishResultEvents(ctx context.Context, cmd *command.Command, result any) {
	if f.events == nil || f.streamMode {
		return
	}

	events := collectEvents(result)
	if len(events) == 0 {
		return
	}

	for _, evt := range events {
		evt.Meta = evt.Meta.Merge(cmd.Meta)
		if err := f.events.Publish(ctx, evt); err != nil {
			f.logger.ErrorContext(ctx, "failed to publish command event",
				slog.String("command", cmd.Name),
				slog.String("event_id", evt.ID),
				slog.String("event_name", evt.Name),
				slog.String("error", err.Error()))
		}
	}
}

// collectEvents extracts domain events from a command handler result: a
// single event, a slice of events, or an aggregate with pending events.
func collectEvents(result any) []event.Event {
	switch r := result.(type) {
	case event.Event:
		return []event.Event{r}
	case []event.Event:
		return r
	case aggregate.EventCarrier:
		return r.PullEvents()
	default:
		return nil
	}
}

func asCommand(payload any) (*command.Command, error) {
	if payload == nil {
		return nil, command.ErrNilCommand
	}
	if cmd, ok := payload.(*command.Command); ok {
		if cmd == nil {
			return nil, command.ErrNilCommand
		}
		return cmd, nil
	}
	return command.New(payload), nil
}

func asQuery(payload any) (*query.Query, error) {
	if payload == nil {
		return nil, query.ErrNilQuery
	}
	if q, ok := payload.(*query.Query); ok {
		if q == nil {
			return nil, query.ErrNilQuery
		}
		return q, nil
	}
	return query.New(payload), nil
}

// Result awaits or casts a facade result to a concrete type.
//
// Example:
//
//	order, err := soda.Result[*Order](fab.SendCommand(ctx, PlaceOrder{ID: "o-1"}))
func Result[R any](result any, err error) (R, error) {
	var zero R
	if err != nil {
		return zero, err
	}
	typed, ok := result.(R)
	if !ok {
		return zero, fmt.Errorf("unexpected result type: got %T", result)
	}
	return typed, nil
}
