package codec_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sodaframework/soda/core/codec"
)

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next,omitempty"`
}

type team struct {
	Name    string    `json:"name"`
	Members []*member `json:"members"`
}

type member struct {
	Name string `json:"name"`
	Team *team  `json:"team,omitempty"`
}

func cyclicTeam() *team {
	tm := &team{Name: "platform"}
	m := &member{Name: "alice", Team: tm}
	tm.Members = []*member{m}
	return tm
}

func TestMarshal_AcyclicPayload(t *testing.T) {
	t.Parallel()

	for _, policy := range []codec.CircularPolicy{codec.CircularIgnore, codec.CircularError, codec.CircularRetain} {
		m := codec.New(codec.WithPolicy(policy))
		data, err := m.Marshal(node{Name: "a", Next: &node{Name: "b"}})
		require.NoError(t, err, "policy %s", policy)

		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "a", got["name"], "policy %s", policy)
	}
}

func TestMarshal_IgnorePolicy(t *testing.T) {
	t.Parallel()

	m := codec.New(codec.WithPolicy(codec.CircularIgnore))
	data, err := m.Marshal(cyclicTeam())
	require.NoError(t, err)

	var got struct {
		Name    string `json:"name"`
		Members []struct {
			Name string          `json:"name"`
			Team json.RawMessage `json:"team"`
		} `json:"members"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Members, 1)

	// The back-reference encodes as null.
	assert.Equal(t, "null", string(got.Members[0].Team))
}

func TestMarshal_ErrorPolicy(t *testing.T) {
	t.Parallel()

	m := codec.New(codec.WithPolicy(codec.CircularError))
	_, err := m.Marshal(cyclicTeam())
	assert.ErrorIs(t, err, codec.ErrCircularReference)
}

func TestMarshal_RetainPolicy(t *testing.T) {
	t.Parallel()

	m := codec.New(codec.WithPolicy(codec.CircularRetain))
	data, err := m.Marshal(cyclicTeam())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	// Root object carries its identity marker.
	id, ok := got["$id"]
	require.True(t, ok)

	// The member's team back-reference resolves to the root's id.
	members := got["members"].([]any)
	inner := members[0].(map[string]any)["team"].(map[string]any)
	assert.Equal(t, id, inner["$ref"])
}

func TestMarshal_SelfReference(t *testing.T) {
	t.Parallel()

	n := &node{Name: "self"}
	n.Next = n

	t.Run("rejected when configured", func(t *testing.T) {
		m := codec.New(codec.WithPolicy(codec.CircularIgnore), codec.WithFailOnSelfReference(true))
		_, err := m.Marshal(n)
		assert.ErrorIs(t, err, codec.ErrSelfReference)
	})

	t.Run("ignored by default", func(t *testing.T) {
		m := codec.New(codec.WithPolicy(codec.CircularIgnore))
		data, err := m.Marshal(n)
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Nil(t, got["next"])
	})
}

func TestMarshal_SharedReferenceIsNotACycle(t *testing.T) {
	t.Parallel()

	// The same pointer appearing twice on sibling paths is sharing, not a
	// cycle: the ERROR policy must accept it.
	shared := &node{Name: "shared"}
	payload := struct {
		A *node `json:"a"`
		B *node `json:"b"`
	}{A: shared, B: shared}

	m := codec.New(codec.WithPolicy(codec.CircularError), codec.WithFailOnSelfReference(true))
	data, err := m.Marshal(payload)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "shared", got["a"].(map[string]any)["name"])
	assert.Equal(t, "shared", got["b"].(map[string]any)["name"])
}

func TestMarshal_JSONTagHandling(t *testing.T) {
	t.Parallel()

	type payload struct {
		Kept    string `json:"kept"`
		Skipped string `json:"-"`
		Empty   string `json:"empty,omitempty"`
		private string
	}

	m := codec.New()
	data, err := m.Marshal(payload{Kept: "v", Skipped: "x", private: "y"})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]any{"kept": "v"}, got)
}
