package runnable

import (
	"context"

	"goa.design/flow/handoff"
	"goa.design/flow/session"
	"goa.design/flow/state"
)

// StepContext is passed to Step.Execute: the session/state the step may
// read or mutate, the run's input arguments, accumulated sibling signals
// within the current sequence, and the handoff interface for
// call/spawn/dispatch.
type StepContext struct {
	context.Context

	Session      *session.Session
	State        *state.Store
	InvocationID string
	// Args carries the caller-supplied run input for the root invocation. A
	// child started through Call/Spawn/Dispatch gets nil Args; its handoff
	// Options.State is written to the invocation state scope instead.
	Args map[string]any
	// Signals accumulates the non-skip Signals of the prior siblings in the
	// enclosing Sequence, in order. Parallel branches receive none.
	Signals []Signal
	Handoff handoff.Interface
}

// ParallelContext is passed to a Parallel's Merge callback.
type ParallelContext struct {
	context.Context

	Session      *session.Session
	InvocationID string
}

// LoopContext is passed to Loop.While before each iteration.
type LoopContext struct {
	context.Context

	Session      *session.Session
	State        *state.Store
	InvocationID string
	// Iteration is the 1-based index of the iteration about to run.
	Iteration int
	// Last is the Signal the previous iteration's inner Runnable produced,
	// or the zero Signal before the first iteration.
	Last Signal
}
