package soda_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	soda "github.com/sodaframework/soda"
	"github.com/sodaframework/soda/core/aggregate"
	"github.com/sodaframework/soda/core/command"
	"github.com/sodaframework/soda/core/event"
	"github.com/sodaframework/soda/core/query"
	"github.com/sodaframework/soda/core/runctx"
)

type placeOrder struct {
	OrderID string
}

type orderPlaced struct {
	OrderID string
}

type reserveStock struct {
	OrderID string
}

type stockReserved struct {
	OrderID string
}

type getOrder struct {
	OrderID string
}

type selfCall struct{}

func TestFacade_SendCommand(t *testing.T) {
	t.Parallel()

	fab := soda.New()
	defer fab.Stop()

	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (string, error) {
		return "placed:" + cmd.OrderID, nil
	}))

	result, err := fab.SendCommand(context.Background(), placeOrder{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, "placed:o-1", result)
}

func TestFacade_SendQuery(t *testing.T) {
	t.Parallel()

	fab := soda.New()
	defer fab.Stop()

	fab.Queries().Register(query.NewHandlerFunc(func(ctx context.Context, q getOrder) (string, error) {
		return "order:" + q.OrderID, nil
	}))

	result, err := fab.SendQuery(context.Background(), getOrder{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, "order:o-1", result)
}

func TestFacade_CommandEventCommandChain(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	fab := soda.New(soda.WithEventPublisher(bus))
	defer fab.Stop()

	var (
		chainMeta runctx.Metadata
		chainDone = make(chan struct{})
	)

	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (event.Event, error) {
		return event.New(orderPlaced{OrderID: cmd.OrderID}), nil
	}))
	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd reserveStock) (any, error) {
		chainMeta, _ = runctx.FromContext(ctx)
		close(chainDone)
		return nil, nil
	}))

	require.NoError(t, bus.Subscribe(event.NewHandlerFunc(func(ctx context.Context, evt orderPlaced) error {
		_, err := fab.SendCommand(ctx, reserveStock{OrderID: evt.OrderID})
		return err
	})))

	ctx := runctx.WithMetadata(context.Background(), runctx.Metadata{RequestID: "req-1", UserName: "alice"})
	_, err := fab.SendCommand(ctx, placeOrder{OrderID: "o-1"})
	require.NoError(t, err)

	select {
	case <-chainDone:
	case <-time.After(time.Second):
		t.Fatal("chained command never ran")
	}

	// The request identity survives command -> event -> command, and the
	// second command runs at hop 2.
	assert.Equal(t, "req-1", chainMeta.RequestID)
	assert.Equal(t, "alice", chainMeta.UserName)
	assert.Equal(t, 2, chainMeta.HopCount)
}

func TestFacade_SyncRecursionCeiling(t *testing.T) {
	t.Parallel()

	var fab *soda.Facade
	fab = soda.New(soda.WithMaxHops(1000))
	defer fab.Stop()

	calls := 0
	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd selfCall) (any, error) {
		calls++
		return fab.SendCommand(ctx, selfCall{})
	}))

	_, err := fab.SendCommand(context.Background(), selfCall{})
	require.Error(t, err)
	assert.ErrorIs(t, err, soda.ErrCommandRecursionTooDeep)

	// Ten nested dispatches run; the eleventh is refused.
	assert.Equal(t, 10, calls)
	assert.Contains(t, err.Error(), "selfCall -> selfCall")
}

func TestFacade_HopCeiling(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	fab := soda.New(soda.WithEventPublisher(bus))
	defer fab.Stop()

	var calls int
	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (any, error) {
		calls++
		return nil, nil
	}))

	ctx := runctx.WithMetadata(context.Background(), runctx.Metadata{HopCount: 21})
	_, err := fab.SendCommand(ctx, placeOrder{})

	assert.ErrorIs(t, err, command.ErrAsyncRecursionTooDeep)
	assert.Zero(t, calls)
}

func TestFacade_SendAsyncCommand(t *testing.T) {
	t.Parallel()

	fab := soda.New()
	defer fab.Stop()

	var seen runctx.Metadata
	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (string, error) {
		seen, _ = runctx.FromContext(ctx)
		return "async:" + cmd.OrderID, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	ctx = runctx.WithMetadata(ctx, runctx.Metadata{RequestID: "req-9"})

	future, err := fab.SendAsyncCommand(ctx, placeOrder{OrderID: "o-1"})
	require.NoError(t, err)

	// Cancelling the submitter's context must not affect the async work.
	cancel()

	result, err := future.AwaitWithTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "async:o-1", result)
	assert.Equal(t, "req-9", seen.RequestID)
}

func TestFacade_AsyncGuardRunsBeforeSubmission(t *testing.T) {
	t.Parallel()

	fab := soda.New(soda.WithMaxSyncDepth(2))
	defer fab.Stop()

	ctx := context.Background()
	ctx, _ = runctx.PushFrame(ctx, "A")
	ctx, _ = runctx.PushFrame(ctx, "B")

	_, err := fab.SendAsyncCommand(ctx, placeOrder{})
	assert.ErrorIs(t, err, soda.ErrCommandRecursionTooDeep)
}

func TestFacade_PublishesAggregateEvents(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	fab := soda.New(soda.WithEventPublisher(bus))
	defer fab.Stop()

	var (
		mu       sync.Mutex
		received []string
	)
	require.NoError(t, bus.Subscribe(event.NewHandlerFunc(func(ctx context.Context, evt stockReserved) error {
		mu.Lock()
		received = append(received, evt.OrderID)
		mu.Unlock()
		return nil
	})))

	type warehouse struct {
		aggregate.Root
	}

	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd reserveStock) (*warehouse, error) {
		w := &warehouse{Root: aggregate.NewRoot("w-1")}
		w.Record(event.New(stockReserved{OrderID: cmd.OrderID}))
		return w, nil
	}))

	_, err := fab.SendCommand(context.Background(), reserveStock{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"o-1"}, received)
}

func TestFacade_StreamModeDefersPublication(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	fab := soda.New(soda.WithEventPublisher(bus), soda.WithStreamTransport())
	defer fab.Stop()

	var received int
	require.NoError(t, bus.Subscribe(event.NewHandlerFunc(func(ctx context.Context, evt orderPlaced) error {
		received++
		return nil
	})))

	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (event.Event, error) {
		return event.New(orderPlaced{OrderID: cmd.OrderID}), nil
	}))

	_, err := fab.SendCommand(context.Background(), placeOrder{OrderID: "o-1"})
	require.NoError(t, err)

	// In stream mode the repository decorator is the sole publishing site;
	// the facade must not publish the handler's result events.
	assert.Zero(t, received)
}

func TestResult(t *testing.T) {
	t.Parallel()

	v, err := soda.Result[string]("hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	_, err = soda.Result[int]("hello", nil)
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	fab := soda.NewFromConfig(soda.DefaultConfig())
	defer fab.Stop()

	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd getOrder) (any, error) {
		return nil, nil
	}))
	_, err := fab.SendCommand(context.Background(), getOrder{})
	assert.NoError(t, err)
}

func TestNewFromConfig_RedisBusTypeDefersPublication(t *testing.T) {
	t.Parallel()

	cfg := soda.DefaultConfig()
	cfg.BusType = soda.BusTypeRedis

	bus := event.NewBus()
	fab := soda.NewFromConfig(cfg, soda.WithEventPublisher(bus))
	defer fab.Stop()

	var received int
	require.NoError(t, bus.Subscribe(event.NewHandlerFunc(func(ctx context.Context, evt orderPlaced) error {
		received++
		return nil
	})))

	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (event.Event, error) {
		return event.New(orderPlaced{OrderID: cmd.OrderID}), nil
	}))

	_, err := fab.SendCommand(context.Background(), placeOrder{OrderID: "o-1"})
	require.NoError(t, err)

	// The redis bus type puts the facade in stream mode, where the
	// repository decorator is the sole publishing site.
	assert.Zero(t, received)
}

func TestNewFromConfig_ChannelBusTypeDeliversAsynchronously(t *testing.T) {
	t.Parallel()

	cfg := soda.DefaultConfig()
	cfg.BusType = soda.BusTypeChannel

	bus := event.NewBus()
	fab := soda.NewFromConfig(cfg, soda.WithEventPublisher(bus))
	defer fab.Stop()

	var (
		mu       sync.Mutex
		received []string
	)
	require.NoError(t, bus.Subscribe(event.NewHandlerFunc(func(ctx context.Context, evt orderPlaced) error {
		mu.Lock()
		received = append(received, evt.OrderID)
		mu.Unlock()
		return nil
	})))

	fab.Commands().Register(command.NewHandlerFunc(func(ctx context.Context, cmd placeOrder) (event.Event, error) {
		return event.New(orderPlaced{OrderID: cmd.OrderID}), nil
	}))

	_, err := fab.SendCommand(context.Background(), placeOrder{OrderID: "o-1"})
	require.NoError(t, err)

	// The channel transport decouples delivery from the command call.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0] == "o-1"
	}, time.Second, 5*time.Millisecond)
}
