// Package handoff declares the four edges of the invocation graph: call,
// spawn, dispatch, and transfer. It is deliberately small and
// Runnable-agnostic (Target is typed as any) so that both the runnable and
// tool packages can reference the Interface from Step/Tool execution
// contexts without importing supervisor, which is the package that
// actually implements Interface and knows the concrete runnable.Runnable
// type.
package handoff

import "context"

// Target is the Runnable a handoff primitive drives. It is typed as any at
// this layer; supervisor.Supervisor (the sole implementation of Interface)
// type-asserts it back to runnable.Runnable.
type Target any

// Options configures a call/spawn/dispatch invocation.
type Options struct {
	// Message, when non-empty, is appended as a user event in the child
	// invocation's session before it starts running.
	Message string
	// State seeds (or overrides) invocation-scoped state visible to the
	// child before it starts running.
	State map[string]any
}

// CallResult is returned by a completed call/spawn.
type CallResult struct {
	// Output is the terminal value produced by the child invocation: an
	// agent's parsed structured output, a step's complete(value), or nil.
	Output any
	// Events are the events the child invocation appended, in order.
	Events []any
	// InvocationID identifies the child invocation.
	InvocationID string
}

// SpawnHandle is returned by Spawn: the invocation runs asynchronously and
// Await blocks until it completes.
type SpawnHandle struct {
	InvocationID string
	// Await blocks until the spawned invocation completes.
	Await func(ctx context.Context) (CallResult, error)
}

// DispatchHandle is returned by Dispatch: a fire-and-forget invocation that
// survives the caller's own completion.
type DispatchHandle struct {
	InvocationID string
}

// Interface is implemented by the Invocation Supervisor and exposed to
// Step.Execute and Tool.Execute bodies.
type Interface interface {
	// Call runs target synchronously as a child invocation; the caller
	// waits for it to finish.
	Call(ctx context.Context, target Target, opts Options) (CallResult, error)
	// Spawn starts target as a child invocation without waiting; the caller
	// continues immediately and can await the result later via the handle.
	Spawn(ctx context.Context, target Target, opts Options) (SpawnHandle, error)
	// Dispatch starts target as a detached child invocation that survives
	// the caller's completion. The run that dispatched it can return, and
	// mark the session completed, before it ends; Supervisor.Wait blocks
	// until every dispatched invocation has finished.
	Dispatch(ctx context.Context, target Target, opts Options) (DispatchHandle, error)
}
