package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/sodaframework/soda/core/event"
	"github.com/sodaframework/soda/core/idempotency"
	"github.com/sodaframework/soda/core/logger"
	"github.com/sodaframework/soda/core/runctx"
)

// consumeLoop polls the consumer group until the context is cancelled. Poll
// errors are logged and followed by a short pause so a flapping connection
// does not spin the loop.
func (b *Bus) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.GroupName,
			Consumer: b.cfg.ConsumerName,
			Streams:  []string{b.cfg.Topic, ">"},
			Count:    b.cfg.BatchSize,
			Block:    b.cfg.PollTimeout,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.ErrorContext(ctx, "stream read failed",
				slog.String("stream", b.cfg.Topic),
				logger.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.processMessage(ctx, msg)
			}
		}
	}
}

// processMessage handles one stream entry end to end: decode, idempotency
// gate, retrying dispatch, and finally either ACK or dead-letter + ACK. The
// message is acknowledged in every terminal outcome so it never sits pending
// forever; only an in-flight PROCESSING claim by another consumer leaves it
// unacknowledged for redelivery.
func (b *Bus) processMessage(ctx context.Context, msg redis.XMessage) {
	typ, _ := msg.Values[fieldType].(string)
	if typ == sentinelType {
		b.ack(ctx, msg.ID)
		return
	}

	raw, ok := msg.Values[fieldEvent].(string)
	if !ok || raw == "" {
		b.logger.WarnContext(ctx, "dropping malformed stream message",
			slog.String("message_id", msg.ID),
			logger.Error(ErrMissingEventField))
		b.ack(ctx, msg.ID)
		return
	}

	eventID, err := extractEventID([]byte(raw))
	if err != nil || eventID == "" {
		b.logger.WarnContext(ctx, "dropping message without event id",
			slog.String("message_id", msg.ID))
		b.ack(ctx, msg.ID)
		return
	}

	if b.store != nil {
		proceed, pending := b.claimEvent(ctx, eventID)
		if pending {
			// Another consumer is mid-flight. Leave unacknowledged so the
			// group redelivers if that consumer dies.
			return
		}
		if !proceed {
			b.ack(ctx, msg.ID)
			return
		}
	}

	evt, err := decodeEvent([]byte(raw))
	if err != nil {
		// Unknown type or structurally broken payload: a retry cannot fix
		// deserialization, so drop instead of dead-lettering.
		b.logger.WarnContext(ctx, "dropping undeserializable event",
			slog.String("message_id", msg.ID),
			logger.EventID(eventID),
			logger.Error(err))
		if b.store != nil {
			if err := b.store.MarkFailed(ctx, eventID, err.Error()); err != nil {
				b.logger.ErrorContext(ctx, "failed to record idempotency failure",
					logger.EventID(eventID),
					logger.Error(err))
			}
		}
		b.ack(ctx, msg.ID)
		return
	}

	dispatchCtx := runctx.MarkStreamConsumer(runctx.WithMetadata(ctx, evt.Meta))

	b.dispatchWithRetry(dispatchCtx, msg, evt)
}

// claimEvent consults the idempotency store before dispatch. Returns
// (proceed, pending): proceed is true when this consumer should handle the
// event, pending is true when another consumer currently holds it.
func (b *Bus) claimEvent(ctx context.Context, eventID string) (proceed, pending bool) {
	rec, err := b.store.Status(ctx, eventID)
	if err != nil {
		b.logger.ErrorContext(ctx, "idempotency lookup failed",
			logger.EventID(eventID),
			logger.Error(err))
		// Fail open: at-least-once semantics prefer a duplicate over a loss.
		return true, false
	}
	if rec != nil {
		switch rec.Status {
		case idempotency.StatusSuccess:
			return false, false
		case idempotency.StatusProcessing:
			return false, true
		}
	}

	ok, err := b.store.BeginProcessing(ctx, eventID)
	if err != nil {
		b.logger.ErrorContext(ctx, "idempotency claim failed",
			logger.EventID(eventID),
			logger.Error(err))
		return true, false
	}
	// A lost claim race means another consumer just took the event: ACK and
	// drop here, the winner's retry cycle owns delivery from now on.
	return ok, false
}

// dispatchWithRetry runs all handlers for the event, retrying failed attempts
// with backoff until the retry budget is spent, then dead-letters. Handlers
// that already succeeded in a previous attempt are skipped through per-handler
// idempotency records.
func (b *Bus) dispatchWithRetry(ctx context.Context, msg redis.XMessage, evt event.Event) {
	delays := b.retryDelays()

	for attempt := 0; ; attempt++ {
		err := b.dispatchOnce(ctx, evt)
		if err == nil {
			if b.store != nil {
				if err := b.store.MarkSuccess(ctx, evt.ID, b.handlerResults(ctx, evt)); err != nil {
					b.logger.ErrorContext(ctx, "failed to record idempotency success",
						logger.EventID(evt.ID),
						logger.Error(err))
				}
			}
			b.ack(ctx, msg.ID)
			return
		}

		b.logger.WarnContext(ctx, "event handling failed",
			logger.EventID(evt.ID),
			logger.EventName(evt.Name),
			logger.Attempt(attempt+1),
			logger.Error(err))

		if attempt >= b.cfg.MaxRetries {
			b.deadLetter(ctx, msg, evt, err, deadLetterReasonMaxRetries)
			return
		}

		select {
		case <-ctx.Done():
			b.deadLetter(ctx, msg, evt, err, deadLetterReasonInterrupted)
			return
		case <-time.After(delays.NextBackOff()):
		}
	}
}

// dispatchOnce invokes every matching handler in subscription order, skipping
// handlers with a recorded success for this event. Returns the first handler
// error; later handlers still run.
func (b *Bus) dispatchOnce(ctx context.Context, evt event.Event) error {
	handlers := b.handlers.HandlersFor(evt)
	if len(handlers) == 0 {
		return nil
	}

	var firstErr error
	for _, h := range handlers {
		key := idempotency.HandlerKey(evt.ID, h.HandlerName())
		if b.store != nil {
			if rec, err := b.store.Status(ctx, key); err == nil && rec != nil && rec.Status == idempotency.StatusSuccess {
				continue
			}
		}

		if err := invokeHandler(ctx, h, evt.Payload); err != nil {
			if b.store != nil {
				if serr := b.store.MarkFailed(ctx, key, err.Error()); serr != nil {
					b.logger.ErrorContext(ctx, "failed to record handler failure",
						logger.EventID(evt.ID),
						logger.Handler(h.HandlerName()),
						logger.Error(serr))
				}
			}
			b.logger.ErrorContext(ctx, "handler failed",
				logger.EventID(evt.ID),
				logger.Handler(h.HandlerName()),
				logger.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("handler %s: %w", h.HandlerName(), err)
			}
			continue
		}

		if b.store != nil {
			if serr := b.store.MarkSuccess(ctx, key, nil); serr != nil {
				b.logger.ErrorContext(ctx, "failed to record handler success",
					logger.EventID(evt.ID),
					logger.Handler(h.HandlerName()),
					logger.Error(serr))
			}
		}
	}
	return firstErr
}

// invokeHandler runs a handler with panic recovery so one panicking
// subscriber cannot take down the consumer loop.
func invokeHandler(ctx context.Context, h event.Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, payload)
}

// handlerResults collects the terminal per-handler statuses for the
// event-level success record.
func (b *Bus) handlerResults(ctx context.Context, evt event.Event) map[string]string {
	results := make(map[string]string)
	for _, h := range b.handlers.HandlersFor(evt) {
		results[h.HandlerName()] = string(idempotency.StatusSuccess)
	}
	return results
}

// retryDelays builds the delay sequence between attempts: exponential
// doubling from the initial delay, or constant when exponential backoff is
// disabled. Jitter is off so delays are deterministic.
func (b *Bus) retryDelays() backoff.BackOff {
	if !b.cfg.ExponentialBackoff {
		return backoff.NewConstantBackOff(b.cfg.InitialRetryDelay)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.InitialRetryDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 24 * time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// deadLetter copies the original message into the dead-letter stream with
// failure metadata, records the terminal failure, and acknowledges the
// original so the group stops redelivering it.
func (b *Bus) deadLetter(ctx context.Context, msg redis.XMessage, evt event.Event, cause error, reason string) {
	// An interrupted retry arrives here with ctx already cancelled; the
	// dead-letter write and the ACK must still reach the broker.
	ctx = context.WithoutCancel(ctx)

	values := make(map[string]any, len(msg.Values)+4)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["deadLetterReason"] = reason
	values["deadLetterTimestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	values["originalStream"] = b.cfg.Topic
	values["originalId"] = msg.ID

	if _, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.DeadLetterStream,
		Values: values,
	}).Result(); err != nil {
		b.logger.ErrorContext(ctx, "failed to dead-letter event",
			logger.EventID(evt.ID),
			slog.String("message_id", msg.ID),
			logger.Error(err))
		// Do not ACK: redelivery is the only remaining path to durability.
		return
	}

	b.logger.ErrorContext(ctx, "event moved to dead-letter stream",
		logger.EventID(evt.ID),
		logger.EventName(evt.Name),
		slog.String("dead_letter_stream", b.cfg.DeadLetterStream),
		slog.String("reason", reason),
		slog.String("cause", cause.Error()))

	if b.store != nil {
		if err := b.store.MarkFailed(ctx, evt.ID, cause.Error()); err != nil {
			b.logger.ErrorContext(ctx, "failed to record idempotency failure",
				logger.EventID(evt.ID),
				logger.Error(err))
		}
	}

	b.ack(ctx, msg.ID)
}

func (b *Bus) ack(ctx context.Context, msgID string) {
	if err := b.client.XAck(ctx, b.cfg.Topic, b.cfg.GroupName, msgID).Err(); err != nil {
		b.logger.ErrorContext(ctx, "failed to ack stream message",
			slog.String("message_id", msgID),
			logger.Error(err))
	}
}

// extractEventID pulls the event id out of the raw envelope without decoding
// the payload. Envelopes wrapped as a two-element [typeName, object] array
// are unwrapped first.
func extractEventID(raw []byte) (string, error) {
	body, err := unwrapTyped(raw)
	if err != nil {
		return "", err
	}
	var probe struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", err
	}
	return probe.EventID, nil
}

// decodeEvent parses the wire envelope and resolves the payload to its
// registered concrete type.
func decodeEvent(raw []byte) (event.Event, error) {
	body, err := unwrapTyped(raw)
	if err != nil {
		return event.Event{}, err
	}

	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return event.Event{}, err
	}

	payload, err := event.UnmarshalPayload(w.Name, w.Payload)
	if err != nil {
		return event.Event{}, err
	}

	return event.Event{
		ID:         w.ID,
		Name:       w.Name,
		Payload:    payload,
		OccurredAt: w.OccurredAt,
		Meta:       w.Meta,
	}, nil
}

// unwrapTyped tolerates envelopes serialized as ["TypeName", {...}]. Plain
// object envelopes pass through unchanged.
func unwrapTyped(raw []byte) ([]byte, error) {
	trimmed := firstNonSpace(raw)
	if trimmed != '[' {
		return raw, nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, err
	}
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected typed envelope with %d elements", len(parts))
	}
	return parts[1], nil
}

func firstNonSpace(raw []byte) byte {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}
