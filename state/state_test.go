package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteEmitsChangeAndIsIdempotentOnEqualValue(t *testing.T) {
	s := New(nil)

	c, err := s.Write("session", "x", 1, "tool:calc")
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Nil(t, c.OldValue)
	require.Equal(t, 1, c.NewValue)

	c, err = s.Write("session", "x", 1, "tool:calc")
	require.NoError(t, err)
	require.Nil(t, c, "writing an equal value must not emit a change")

	c, err = s.Write("session", "x", 2, "tool:calc")
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 1, c.OldValue)
	require.Equal(t, 2, c.NewValue)
}

func TestUpdateAtomicBatch(t *testing.T) {
	s := New(Schema{
		"session": {
			"age": func(v any) error {
				n, ok := v.(int)
				if !ok || n < 0 {
					return errors.New("age must be a non-negative int")
				}
				return nil
			},
		},
	})

	_, err := s.Update("session", []KeyValue{{Key: "name", Value: "a"}, {Key: "age", Value: -1}}, "system")
	require.Error(t, err)
	_, ok := s.Read("session", "name")
	require.False(t, ok, "no partial commit when one key fails validation")

	changes, err := s.Update("session", []KeyValue{{Key: "name", Value: "a"}, {Key: "age", Value: 5}}, "system")
	require.NoError(t, err)
	require.Len(t, changes, 2)
}

func TestDeleteEmitsNilNewValue(t *testing.T) {
	s := New(nil)
	_, err := s.Write("session", "k", "v", "system")
	require.NoError(t, err)

	c := s.Delete("session", "k", "system")
	require.NotNil(t, c)
	require.Equal(t, "v", c.OldValue)
	require.Nil(t, c.NewValue)
	_, ok := s.Read("session", "k")
	require.False(t, ok)

	require.Nil(t, s.Delete("session", "missing", "system"))
}

func TestApplyReplaysWithoutValidation(t *testing.T) {
	s := New(Schema{"session": {"age": func(any) error { return errors.New("always fails") }}})
	s.Apply(Change{Scope: "session", Key: "age", NewValue: 42})
	v, ok := s.Read("session", "age")
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestRoundTripLaw(t *testing.T) {
	// Replaying state_change events from an empty store reproduces the
	// final state.
	live := New(nil)
	var changes []Change
	for i, kv := range []KeyValue{{Key: "a", Value: 1}, {Key: "b", Value: "x"}} {
		c, err := live.Write("session", kv.Key, kv.Value, "system")
		require.NoError(t, err)
		require.NotNil(t, c, "case %d", i)
		changes = append(changes, *c)
	}
	more, err := live.Update("session", []KeyValue{{Key: "a", Value: 2}}, "system")
	require.NoError(t, err)
	changes = append(changes, more...)
	if d := live.Delete("session", "b", "system"); d != nil {
		changes = append(changes, *d)
	}

	replayed := New(nil)
	for _, c := range changes {
		replayed.Apply(c)
	}
	require.Equal(t, live.Snapshot("session"), replayed.Snapshot("session"))
}
