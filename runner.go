package flow

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"goa.design/flow/errs"
	"goa.design/flow/model"
	"goa.design/flow/runresult"
	"goa.design/flow/session"
	"goa.design/flow/state"
	"goa.design/flow/stream"
	"goa.design/flow/supervisor"
	"goa.design/flow/tool"
)

// Schema maps scope -> key -> Validator, restricting the values a Runnable
// tree's state writes may take. A nil Schema accepts any value.
type Schema = state.Schema

// Validator checks a candidate state value for one (scope, key) pair.
type Validator = state.Validator

// Session is one durable, replayable conversation: its event log, derived
// state, and lifecycle status.
type Session = session.Session

// RunResult is the outcome of one top-level Run or Resume call.
type RunResult = runresult.RunResult

// RunStream is a live, in-flight view of a Run or Resume call's events.
type RunStream = stream.RunStream

// NewSession starts a fresh Session for appName, generating a unique
// session ID, constrained by schema (nil accepts any state value).
func NewSession(appName string, schema Schema) *Session {
	return session.New(uuid.NewString(), appName, schema)
}

// Runner drives Runnable trees against Sessions using a fixed set of model
// adapters. It wraps supervisor.Supervisor, the same way the rest of this
// package wraps its sibling packages, so an application only ever imports
// the flow package.
type Runner struct {
	sv *supervisor.Supervisor
}

// NewRunner constructs a Runner. adapters maps a model.Config.Provider
// string (e.g. "anthropic", "openai", "bedrock") to the Adapter that
// serves it.
func NewRunner(adapters map[string]model.Adapter) *Runner {
	return &Runner{sv: supervisor.New(adapters)}
}

// WithToolFanOut bounds how many tool calls in one model turn's batch run
// concurrently. Zero (the default) leaves it unbounded.
func (r *Runner) WithToolFanOut(n int) *Runner {
	r.sv.ToolFanOut = n
	return r
}

// WithToolLimiter attaches a shared rate limiter every tool call the
// Runner resolves must acquire from before executing.
func (r *Runner) WithToolLimiter(l *rate.Limiter) *Runner {
	r.sv.ToolLimiter = l
	return r
}

// WithToolMiddleware wraps every tool Execute/Finalize call the Runner
// resolves, outermost first, e.g. for logging or metrics around tool
// bodies without modifying each Tool.
func (r *Runner) WithToolMiddleware(mw ...tool.Middleware) *Runner {
	r.sv.ToolMiddleware = append(r.sv.ToolMiddleware, mw...)
	return r
}

// WithErrorHandlers installs the chain that decides recovery for a tool
// call's terminal failure once its own retry policy is exhausted. Skip and
// fallback decisions are applied; any other decision, retry included,
// leaves the failure in place. The first matching Handler whose decision is
// not a pass wins; no such decision aborts, the same behavior as leaving
// this unset.
func (r *Runner) WithErrorHandlers(chain errs.Chain) *Runner {
	r.sv.ErrorHandlers = chain
	return r
}

// Run starts root against sess with the given top-level arguments and
// blocks until the run completes, yields, or fails.
func (r *Runner) Run(ctx context.Context, root Runnable, sess *Session, args map[string]any) (*RunResult, error) {
	return r.sv.Run(ctx, root, sess, args)
}

// Resume continues a previously yielded sess, picking up root at the
// invocation that was awaiting external input.
func (r *Runner) Resume(ctx context.Context, root Runnable, sess *Session) (*RunResult, error) {
	return r.sv.Resume(ctx, root, sess)
}

// Stream starts root against sess like Run, but returns immediately with a
// live feed of the events the run appends as it executes.
func (r *Runner) Stream(ctx context.Context, root Runnable, sess *Session, args map[string]any) *RunStream {
	return stream.Run(ctx, r.sv, root, sess, args)
}

// ResumeStream continues sess like Resume, returning a live feed of the
// events the resumed run appends.
func (r *Runner) ResumeStream(ctx context.Context, root Runnable, sess *Session) *RunStream {
	return stream.Resume(ctx, r.sv, root, sess)
}
