// Package flow is the programmatic entry point: factories that assemble a
// Runnable tree, and a Runner that drives one against a Session. Everything
// here is a thin re-export over runnable/render/session/supervisor/stream so
// a caller can build an application without importing those packages
// directly, the same role goa-ai's top-level package plays over its
// runtime subpackages.
package flow

import (
	"goa.design/flow/errs"
	"goa.design/flow/model"
	"goa.design/flow/render"
	"goa.design/flow/runnable"
	"goa.design/flow/tool"
)

// Runnable is one node of the execution tree: an Agent, Step, Sequence,
// Parallel, or Loop.
type Runnable = runnable.Runnable

// Signal is returned by a Step's Execute to describe how the supervisor
// should continue.
type Signal = runnable.Signal

// StepContext is passed to a Step's Execute callback.
type StepContext = runnable.StepContext

// ParallelContext is passed to a Parallel's Merge callback.
type ParallelContext = runnable.ParallelContext

// LoopContext is passed to a Loop's While predicate before each iteration.
type LoopContext = runnable.LoopContext

// ChildResult is the outcome of one Parallel branch, passed to Merge.
type ChildResult = runnable.ChildResult

// StateAssignment is one key/value pair a Parallel's Merge callback wants
// committed at the join point.
type StateAssignment = runnable.StateAssignment

// Re-exported Signal constructors, so callers writing a Step's Execute
// never need to import runnable directly.
var (
	None     = runnable.None
	Skip     = runnable.Skip
	Respond  = runnable.Respond
	Fail     = runnable.Fail
	Complete = runnable.Complete
	Route    = runnable.Route
	Yield    = runnable.Yield
)

// Agent builds a model-driven Runnable. cfg selects the provider/model; the
// returned value's Context/Tools/Output/Hooks/MaxIterations fields are set
// directly by the caller before the tree is run, mirroring how goa-ai
// assembles a planner.Agent literal.
func Agent(name string, cfg model.Config) *runnable.Agent {
	return runnable.NewAgent(name, cfg)
}

// Step builds a single-callback Runnable.
func Step(name string, execute func(StepContext) Signal) *runnable.Step {
	return runnable.NewStep(name, execute)
}

// Sequence builds a Runnable that runs its children left-to-right.
func Sequence(name string, children ...Runnable) *runnable.Sequence {
	return runnable.NewSequence(name, children...)
}

// Parallel builds a Runnable that runs its children concurrently, joining
// all branches before merge assigns any resulting state.
func Parallel(name string, children ...Runnable) *runnable.Parallel {
	return runnable.NewParallel(name, children...)
}

// Loop builds a Runnable that repeats inner while the predicate reports
// true, evaluated before each iteration.
func Loop(name string, inner Runnable, while func(LoopContext) bool) *runnable.Loop {
	return runnable.NewLoop(name, inner, while)
}

// Tool wraps a tool definition for inclusion in an Agent's Tools list. The
// caller still populates Execute (or Prepare+Finalize for a yielding tool)
// on the returned value.
func Tool(def tool.Tool) *tool.Tool {
	t := def
	return &t
}

// Pipeline is an ordered sequence of context-render stages; an Agent's
// Context field is one of these.
type Pipeline = render.Pipeline

// Stage factories, re-exported from render so callers assembling a
// Pipeline don't need a second import.
var (
	InjectSystemMessage              = render.InjectSystemMessage
	InjectUserMessage                = render.InjectUserMessage
	IncludeHistory                   = render.IncludeHistory
	WrapUserMessages                 = render.WrapUserMessages
	EnrichUserMessages                = render.EnrichUserMessages
	PruneReasoning                   = render.PruneReasoning
	PruneUserMessages                = render.PruneUserMessages
	ExcludeChildInvocationEvents     = render.ExcludeChildInvocationEvents
	ExcludeChildInvocationInstructions = render.ExcludeChildInvocationInstructions
	LimitTools                       = render.LimitTools
	SetToolChoice                    = render.SetToolChoice
	RenderSchema                     = render.RenderSchema
)

// History scope constants, re-exported from render.
const (
	ScopeAll        = render.ScopeAll
	ScopeInvocation = render.ScopeInvocation
	ScopeSession    = render.ScopeSession
)

// ToolMiddleware wraps a tool's Execute/Finalize call; install one or more
// across every Agent a Runner drives via Runner.WithToolMiddleware.
type ToolMiddleware = tool.Middleware

// ErrorHandler inspects a tool call's terminal failure and decides how the
// Runner should recover; install a chain via Runner.WithErrorHandlers.
type ErrorHandler = errs.Handler

// ErrorDecision is the recovery an ErrorHandler returns.
type ErrorDecision = errs.Decision

// Recovery re-exports, so callers building an ErrorHandler don't need to
// import errs directly.
const (
	RecoveryRetry    = errs.RecoveryRetry
	RecoverySkip     = errs.RecoverySkip
	RecoveryAbort    = errs.RecoveryAbort
	RecoveryFallback = errs.RecoveryFallback
	RecoveryPass     = errs.RecoveryPass
)

var (
	RetryableErrorHandler = errs.RetryableHandler
	KindErrorHandler      = errs.KindHandler
)
