package command_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sodaframework/soda/core/command"
	"github.com/sodaframework/soda/core/runctx"
)

func TestPropagateContext(t *testing.T) {
	t.Parallel()

	t.Run("command inherits ambient metadata", func(t *testing.T) {
		var seen runctx.Metadata
		bus := command.NewBus(command.WithMiddleware(command.PropagateContext()))
		bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
			seen, _ = runctx.FromContext(ctx)
			return nil, nil
		}))

		ctx := runctx.WithMetadata(context.Background(), runctx.Metadata{
			RequestID: "req-1",
			UserName:  "alice",
			TenantID:  "t-1",
		})

		cmd := command.New(placeOrder{})
		_, err := bus.Send(ctx, cmd)
		require.NoError(t, err)

		assert.Equal(t, "req-1", cmd.Meta.RequestID)
		assert.Equal(t, "alice", cmd.Meta.UserName)
		assert.Equal(t, "req-1", seen.RequestID)
		assert.Equal(t, "t-1", seen.TenantID)
	})

	t.Run("command identity wins over ambient", func(t *testing.T) {
		var seen runctx.Metadata
		bus := command.NewBus(command.WithMiddleware(command.PropagateContext()))
		bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd cancelOrder) (any, error) {
			seen, _ = runctx.FromContext(ctx)
			return nil, nil
		}))

		ctx := runctx.WithMetadata(context.Background(), runctx.Metadata{RequestID: "ambient"})

		cmd := command.New(cancelOrder{})
		cmd.Meta.RequestID = "explicit"

		_, err := bus.Send(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, "explicit", seen.RequestID)
	})
}

func TestHopGuard(t *testing.T) {
	t.Parallel()

	t.Run("stamps next hop on the command", func(t *testing.T) {
		bus := command.NewBus(command.WithMiddleware(command.HopGuard(20)))
		bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
			return runctx.HopCount(ctx), nil
		}))

		cmd := command.New(placeOrder{})
		result, err := bus.Send(context.Background(), cmd)
		require.NoError(t, err)

		assert.Equal(t, 1, cmd.Meta.HopCount)
		assert.Equal(t, 1, result)
	})

	t.Run("inherits ambient hop depth", func(t *testing.T) {
		bus := command.NewBus(command.WithMiddleware(command.HopGuard(20)))
		bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
			return nil, nil
		}))

		ctx := runctx.WithMetadata(context.Background(), runctx.Metadata{HopCount: 7})
		cmd := command.New(placeOrder{})

		_, err := bus.Send(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, 8, cmd.Meta.HopCount)
	})

	t.Run("fails before the handler when over the ceiling", func(t *testing.T) {
		var ran bool
		bus := command.NewBus(command.WithMiddleware(command.HopGuard(20)))
		bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
			ran = true
			return nil, nil
		}))

		ctx := runctx.WithMetadata(context.Background(), runctx.Metadata{HopCount: 21})
		_, err := bus.Send(ctx, command.New(placeOrder{}))

		assert.ErrorIs(t, err, command.ErrAsyncRecursionTooDeep)
		assert.False(t, ran)
	})

	t.Run("hop at the ceiling still dispatches", func(t *testing.T) {
		bus := command.NewBus(command.WithMiddleware(command.HopGuard(20)))
		bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
			return nil, nil
		}))

		ctx := runctx.WithMetadata(context.Background(), runctx.Metadata{HopCount: 20})
		_, err := bus.Send(ctx, command.New(placeOrder{}))
		assert.NoError(t, err)
	})
}
