package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sodaframework/soda/core/command"
)

type placeOrder struct {
	OrderID string
}

type cancelOrder struct {
	OrderID string
}

func TestNew(t *testing.T) {
	t.Parallel()

	cmd := command.New(placeOrder{OrderID: "o-1"})

	assert.NotEmpty(t, cmd.ID)
	assert.Equal(t, "placeOrder", cmd.Name)
	assert.False(t, cmd.CreatedAt.IsZero())
}

func TestBus_Send(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (string, error) {
		return "order:" + cmd.OrderID, nil
	}))

	result, err := bus.Send(context.Background(), command.New(placeOrder{OrderID: "o-1"}))
	require.NoError(t, err)
	assert.Equal(t, "order:o-1", result)
}

func TestBus_SendNilCommand(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	_, err := bus.Send(context.Background(), nil)
	assert.ErrorIs(t, err, command.ErrNilCommand)
}

func TestBus_NoHandler(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	_, err := bus.Send(context.Background(), command.New(cancelOrder{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, command.ErrNoHandler)
	assert.Contains(t, err.Error(), "cancelOrder")
}

func TestBus_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	handler := command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
		return nil, nil
	})
	bus.Register(handler)

	assert.Panics(t, func() { bus.Register(handler) })
	assert.Panics(t, func() { bus.Register(nil) })
}

func TestBus_HandlerError(t *testing.T) {
	t.Parallel()

	errRejected := errors.New("order rejected")
	bus := command.NewBus()
	bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
		return nil, errRejected
	}))

	_, err := bus.Send(context.Background(), command.New(placeOrder{}))
	assert.ErrorIs(t, err, errRejected)
}

func TestBus_HandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
		panic("unexpected")
	}))

	_, err := bus.Send(context.Background(), command.New(placeOrder{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestBus_InvalidPayloadType(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
		return nil, nil
	}))

	cmd := command.New(placeOrder{})
	cmd.Payload = 42

	_, err := bus.Send(context.Background(), cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid payload type")
}

func TestBus_MiddlewareOrder(t *testing.T) {
	t.Parallel()

	var trace []string
	mw := func(name string) command.Middleware {
		return func(next command.SendFunc) command.SendFunc {
			return func(ctx context.Context, cmd *command.Command) (any, error) {
				trace = append(trace, name+":before")
				result, err := next(ctx, cmd)
				trace = append(trace, name+":after")
				return result, err
			}
		}
	}

	bus := command.NewBus(command.WithMiddleware(mw("outer"), mw("inner")))
	bus.Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
		trace = append(trace, "handler")
		return nil, nil
	}))

	_, err := bus.Send(context.Background(), command.New(placeOrder{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}, trace)
}
