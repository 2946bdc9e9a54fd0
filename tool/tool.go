// Package tool defines tool definitions and the engine that resolves a
// batch of model-issued tool calls: argument validation, yield/finalize
// staging for long-running calls, and the timeout/retry/concurrency policy
// wrapping execute.
package tool

import (
	"context"
	"encoding/json"
	"time"

	"goa.design/flow/errs"
	"goa.design/flow/handoff"
)

// ExecuteFunc runs a non-yielding tool call to completion.
type ExecuteFunc func(ctx context.Context, tc *Context, args json.RawMessage) (json.RawMessage, error)

// PrepareFunc computes preparedArgs for a yielding tool call, run before the
// invocation suspends to await external input.
type PrepareFunc func(ctx context.Context, tc *Context, args json.RawMessage) (json.RawMessage, error)

// FinalizeFunc completes a yielding tool call once external input has
// arrived; input is the validated tool_input payload.
type FinalizeFunc func(ctx context.Context, tc *Context, input json.RawMessage) (json.RawMessage, error)

// Tool is one callable the model may invoke. A Tool is either non-yielding
// (Execute set) or yielding (Prepare+Finalize set, YieldSchema non-nil).
type Tool struct {
	Name        string
	Description string
	// Schema is the JSON schema tool arguments are validated against.
	Schema json.RawMessage
	// YieldSchema, when non-nil, marks the tool as yielding: the schema
	// describes the external tool_input payload finalize expects.
	YieldSchema json.RawMessage

	Execute  ExecuteFunc
	Prepare  PrepareFunc
	Finalize FinalizeFunc

	// Timeout bounds one Execute/Finalize call. Zero means DefaultTimeout.
	Timeout time.Duration
	// Retry overrides DefaultBackoffPolicy for this tool's Execute/Finalize
	// retries. Zero-value fields fall back to the default.
	Retry errs.BackoffPolicy
	// PartialResume allows this tool's pending call to resume independently
	// of sibling pending calls in the same batch.
	PartialResume bool
}

// DefaultTimeout is used when Tool.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Yields reports whether t is a yielding tool.
func (t *Tool) Yields() bool { return t.YieldSchema != nil }

// EffectiveTimeout returns Timeout, defaulting when unset.
func (t *Tool) EffectiveTimeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

// Context is passed to every Execute/Prepare/Finalize call. It carries the
// call identity, a handle to the handoff interface for tool bodies that
// call/spawn/dispatch, and the session/invocation the call belongs
// to for tools that need to read session state directly.
type Context struct {
	context.Context

	CallID       string
	InvocationID string
	SessionID    string

	Handoff handoff.Interface
}

// Middleware wraps a tool's Execute/Finalize call, e.g. for logging, metrics,
// or policy enforcement. Composition order matches http.Handler middleware:
// the outermost Middleware in the slice runs first.
type Middleware func(next ExecuteFunc) ExecuteFunc

// Chain composes middleware around base, outermost first.
func Chain(base ExecuteFunc, mw ...Middleware) ExecuteFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		base = mw[i](base)
	}
	return base
}
