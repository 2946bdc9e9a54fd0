package runresult

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/flow/event"
	"goa.design/flow/session"
)

func TestCompletedCarriesOutput(t *testing.T) {
	r := Completed(map[string]any{"answer": 42})
	require.Equal(t, StatusCompleted, r.Status)
	require.Equal(t, PhaseCompleted, r.Phase)
	require.Equal(t, 42, r.Output.(map[string]any)["answer"])
}

func TestYieldedCarriesPendingCalls(t *testing.T) {
	pending := []session.PendingCall{{CallID: "call-1", Name: "search", InvocationID: "inv-1"}}
	r := Yielded("inv-1", pending)
	require.Equal(t, StatusYielded, r.Status)
	require.True(t, r.AwaitingInput)
	require.Equal(t, "inv-1", r.YieldedInvocationID)
	require.Equal(t, pending, r.PendingCalls)
	require.Equal(t, PhaseYielding, r.Phase)
}

func TestFailedRecordsPartialEventsAndIterations(t *testing.T) {
	partial := []*event.Event{{Type: event.TypeUser}}
	r := Failed(errors.New("model adapter timed out"), partial, 3, false)
	require.Equal(t, StatusError, r.Status)
	require.Equal(t, "model adapter timed out", r.Error)
	require.Equal(t, partial, r.PartialEvents)
	require.Equal(t, 3, r.Iterations)
	require.Equal(t, PhaseFailed, r.Phase)
}

func TestFailedMarksCanceledPhase(t *testing.T) {
	r := Failed(errors.New("context canceled"), nil, 1, true)
	require.Equal(t, PhaseCanceled, r.Phase)
}
