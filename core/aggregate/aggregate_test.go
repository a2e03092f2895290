package aggregate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sodaframework/soda/core/aggregate"
	"github.com/sodaframework/soda/core/event"
)

type orderPlaced struct {
	OrderID string
}

type order struct {
	aggregate.Root
	Status string
}

func (o *order) Place() {
	o.Status = "placed"
	o.Record(event.New(orderPlaced{OrderID: o.ID()}))
}

func TestRoot_Identity(t *testing.T) {
	t.Parallel()

	o := &order{Root: aggregate.NewRoot("o-1")}
	assert.Equal(t, "o-1", o.ID())

	o.SetID("o-2")
	assert.Equal(t, "o-2", o.ID())
}

func TestRoot_RecordAndPull(t *testing.T) {
	t.Parallel()

	o := &order{Root: aggregate.NewRoot("o-1")}
	o.Place()
	o.Record(event.New(orderPlaced{OrderID: "extra"}))
	assert.Equal(t, 2, o.PendingCount())

	events := o.PullEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "orderPlaced", events[0].Name)
	assert.Equal(t, orderPlaced{OrderID: "o-1"}, events[0].Payload)

	// Drain is destructive.
	assert.Equal(t, 0, o.PendingCount())
	assert.Nil(t, o.PullEvents())
}
