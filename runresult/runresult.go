// Package runresult defines the outcome a top-level run reports to its
// caller: completed, yielded awaiting external input, or errored.
package runresult

import (
	"goa.design/flow/event"
	"goa.design/flow/session"
)

// Status is the terminal (or suspended) state of one run invocation.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusYielded   Status = "yielded"
	StatusError     Status = "error"
)

// Phase tracks where the agent step loop currently is. The terminal value
// is always set on the RunResult a run finishes with; a caller that wants
// the in-flight value as the run progresses gets it from stream.RunStream,
// which a Supervisor reports transitions to via a context-scoped reporter
// (see supervisor.WithPhaseReporter).
type Phase string

const (
	PhaseRendering     Phase = "rendering"
	PhaseStreaming     Phase = "streaming"
	PhaseResolvingTool Phase = "resolving_tools"
	PhaseYielding      Phase = "yielding"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
	PhaseCanceled      Phase = "canceled"
)

// RunResult is returned by a top-level run once it reaches a terminal or
// suspended state.
type RunResult struct {
	Status Status

	// PendingCalls and AwaitingInput are set when Status is StatusYielded.
	PendingCalls  []session.PendingCall
	AwaitingInput bool
	// YieldedInvocationID identifies the invocation that suspended.
	YieldedInvocationID string

	// Error, PartialEvents, and Iterations are set when Status is
	// StatusError.
	Error         string
	PartialEvents []*event.Event
	Iterations    int

	// Output carries the Agent's parsed structured output, when
	// Status is StatusCompleted and the root Runnable configured one.
	Output any

	// Phase records where execution stopped, for observability; Completed
	// runs always carry PhaseCompleted, errored runs PhaseFailed or
	// PhaseCanceled.
	Phase Phase
}

// Completed constructs a terminal success RunResult.
func Completed(output any) *RunResult {
	return &RunResult{Status: StatusCompleted, Output: output, Phase: PhaseCompleted}
}

// Yielded constructs a suspended RunResult.
func Yielded(invocationID string, pending []session.PendingCall) *RunResult {
	return &RunResult{
		Status:              StatusYielded,
		PendingCalls:        pending,
		AwaitingInput:       true,
		YieldedInvocationID: invocationID,
		Phase:               PhaseYielding,
	}
}

// Failed constructs an error RunResult.
func Failed(err error, partial []*event.Event, iterations int, canceled bool) *RunResult {
	phase := PhaseFailed
	if canceled {
		phase = PhaseCanceled
	}
	return &RunResult{
		Status:        StatusError,
		Error:         err.Error(),
		PartialEvents: partial,
		Iterations:    iterations,
		Phase:         phase,
	}
}
