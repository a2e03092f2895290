// Package repository provides the event-publishing interception point around
// aggregate persistence. The decorator drains an aggregate's pending events
// after a successful mutation, enriches them with the ambient execution
// metadata, and publishes them after the surrounding transaction commits — or
// inline when no transaction is active.
package repository

import (
	"context"
	"io"
	"log/slog"

	"github.com/sodaframework/soda/core/aggregate"
	"github.com/sodaframework/soda/core/event"
	"github.com/sodaframework/soda/core/runctx"
)

// Repository is the sealed set of aggregate mutation capabilities the
// decorator intercepts.
type Repository[T aggregate.EventCarrier] interface {
	Save(ctx context.Context, agg T) error
	Update(ctx context.Context, agg T) error
	Delete(ctx context.Context, agg T) error
}

// Operator is the optional free-form mutation capability.
type Operator[T aggregate.EventCarrier] interface {
	Operate(ctx context.Context, agg T) error
}

// EventPublishing decorates a Repository so that every successful mutation
// drains the aggregate's pending events and publishes them. Draining happens
// before the after-commit hook is registered, so a rolled-back transaction
// leaves the aggregate clean and delivers nothing.
type EventPublishing[T aggregate.EventCarrier] struct {
	next      Repository[T]
	publisher event.Publisher
	tx        TxManager
	logger    *slog.Logger
}

// PublishingOption configures an EventPublishing decorator.
type PublishingOption[T aggregate.EventCarrier] func(*EventPublishing[T])

// WithTxManager couples publication to a transaction boundary. Without one,
// events publish inline after each successful mutation.
func WithTxManager[T aggregate.EventCarrier](tx TxManager) PublishingOption[T] {
	return func(p *EventPublishing[T]) {
		p.tx = tx
	}
}

// WithPublishingLogger configures structured logging for the decorator.
func WithPublishingLogger[T aggregate.EventCarrier](logger *slog.Logger) PublishingOption[T] {
	return func(p *EventPublishing[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewEventPublishing wraps a repository with event publication.
//
// Example:
//
//	repo := repository.NewEventPublishing[*Order](orderRepo, bus,
//	    repository.WithTxManager[*Order](txm),
//	)
func NewEventPublishing[T aggregate.EventCarrier](
	next Repository[T],
	publisher event.Publisher,
	opts ...PublishingOption[T],
) *EventPublishing[T] {
	if next == nil {
		panic(ErrNilRepository)
	}
	if publisher == nil {
		panic(ErrNilPublisher)
	}

	p := &EventPublishing[T]{
		next:      next,
		publisher: publisher,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Save persists the aggregate and publishes its drained events.
func (p *EventPublishing[T]) Save(ctx context.Context, agg T) error {
	return p.intercept(ctx, agg, p.next.Save)
}

// Update persists the aggregate and publishes its drained events.
func (p *EventPublishing[T]) Update(ctx context.Context, agg T) error {
	return p.intercept(ctx, agg, p.next.Update)
}

// Delete removes the aggregate and publishes its drained events.
func (p *EventPublishing[T]) Delete(ctx context.Context, agg T) error {
	return p.intercept(ctx, agg, p.next.Delete)
}

// Operate invokes the inner repository's Operate when it implements Operator,
// with the same drain-and-publish behavior.
func (p *EventPublishing[T]) Operate(ctx context.Context, agg T) error {
	op, ok := p.next.(Operator[T])
	if !ok {
		return ErrOperateUnsupported
	}
	return p.intercept(ctx, agg, op.Operate)
}

func (p *EventPublishing[T]) intercept(ctx context.Context, agg T, mutate func(context.Context, T) error) error {
	if err := mutate(ctx, agg); err != nil {
		return err
	}

	// Drain before registering the commit hook: the aggregate's pending
	// list must be empty whether the transaction commits or rolls back.
	events := agg.PullEvents()
	if len(events) == 0 {
		return nil
	}

	meta, _ := runctx.FromContext(ctx)
	for i := range events {
		events[i].Meta = events[i].Meta.Merge(meta)
	}

	if p.tx != nil && p.tx.InTx(ctx) {
		return p.tx.AfterCommit(ctx, func(cctx context.Context) {
			p.publish(runctx.WithMetadata(cctx, meta), events)
		})
	}

	p.publish(ctx, events)
	return nil
}

func (p *EventPublishing[T]) publish(ctx context.Context, events []event.Event) {
	for _, evt := range events {
		if err := p.publisher.Publish(ctx, evt); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish aggregate event",
				slog.String("event_id", evt.ID),
				slog.String("event_name", evt.Name),
				slog.String("error", err.Error()))
		}
	}
}
