// Package runnable defines the composable execution tree: agents, steps,
// sequences, parallel groups, and loops. A Runnable is the unit the
// Invocation Supervisor drives; composing Runnables builds the pipeline a
// session executes.
package runnable

import (
	"goa.design/flow/model"
	"goa.design/flow/render"
	"goa.design/flow/tool"
)

// Kind identifies which Runnable variant a value is, used by the
// fingerprint package and by the supervisor's dispatch switch.
type Kind string

const (
	KindAgent    Kind = "agent"
	KindStep     Kind = "step"
	KindSequence Kind = "sequence"
	KindParallel Kind = "parallel"
	KindLoop     Kind = "loop"
)

// Runnable is implemented by every node in the execution tree. isRunnable is
// unexported so the set of implementations is closed to this package,
// mirroring the tagged-variant pattern event.Type/Payload already uses.
type Runnable interface {
	Name() string
	Kind() Kind
	isRunnable()
}

// OutputMode selects how an Agent's structured output is parsed out of the
// model's terminal response.
type OutputMode string

const (
	// OutputModeJSON parses the terminal assistant text as JSON against
	// Schema.
	OutputModeJSON OutputMode = "json"
	// OutputModeTool expects the model to report output via a dedicated
	// tool call rather than free text.
	OutputModeTool OutputMode = "tool"
)

// OutputSpec configures structured output parsing for an Agent.
type OutputSpec struct {
	Schema []byte
	Mode   OutputMode
}

// Hooks lets a caller observe lifecycle events of an Agent's step loop
// without threading an observer through every layer.
type Hooks struct {
	OnStepStart func(stepIndex int)
	OnStepEnd   func(stepIndex int)
}

// Agent is a model-driven Runnable: it renders context, calls a model
// adapter, resolves any tool calls, and repeats until the model produces a
// terminal response or the iteration cap is reached.
type Agent struct {
	NameValue string
	Model     model.Config
	Context   render.Pipeline
	Tools     []*tool.Tool
	// ToolChoice overrides the pipeline's own setToolChoice stage when set.
	ToolChoice *model.ToolChoice
	Output     *OutputSpec
	Hooks      Hooks
	// MaxIterations caps the agent step loop. Zero means DefaultMaxIterations.
	MaxIterations int
}

// DefaultMaxIterations is used when Agent.MaxIterations is zero.
const DefaultMaxIterations = 20

func (a *Agent) Name() string { return a.NameValue }
func (a *Agent) Kind() Kind   { return KindAgent }
func (a *Agent) isRunnable()  {}

// EffectiveMaxIterations returns MaxIterations, defaulting when unset.
func (a *Agent) EffectiveMaxIterations() int {
	if a.MaxIterations > 0 {
		return a.MaxIterations
	}
	return DefaultMaxIterations
}

// ToolNames returns the agent's tool names, in declared order.
func (a *Agent) ToolNames() []string {
	out := make([]string, len(a.Tools))
	for i, t := range a.Tools {
		out[i] = t.Name
	}
	return out
}

// NewAgent constructs an Agent with the given name and model config; callers
// set the remaining fields directly, mirroring how goa-ai's planner.Agent
// literal is assembled by generated code.
func NewAgent(name string, cfg model.Config) *Agent {
	return &Agent{NameValue: name, Model: cfg}
}

// Step is a single callback Runnable. Execute receives the current
// StepContext and returns a Signal describing how execution should
// continue.
type Step struct {
	NameValue string
	Execute   func(StepContext) Signal
}

func (s *Step) Name() string { return s.NameValue }
func (s *Step) Kind() Kind   { return KindStep }
func (s *Step) isRunnable()  {}

// NewStep constructs a Step.
func NewStep(name string, execute func(StepContext) Signal) *Step {
	return &Step{NameValue: name, Execute: execute}
}

// Sequence runs its children left-to-right.
type Sequence struct {
	NameValue string
	Children  []Runnable
}

func (s *Sequence) Name() string { return s.NameValue }
func (s *Sequence) Kind() Kind   { return KindSequence }
func (s *Sequence) isRunnable()  {}

// NewSequence constructs a Sequence.
func NewSequence(name string, children ...Runnable) *Sequence {
	return &Sequence{NameValue: name, Children: children}
}

// MergeFunc combines child results from a Parallel's branches into the
// state changes to apply at the join.
type MergeFunc func(ctx ParallelContext, results []ChildResult) []StateAssignment

// StateAssignment is one key/value pair a Parallel merge wants committed to
// a scope at the join point.
type StateAssignment struct {
	Scope string
	Key   string
	Value any
}

// ChildResult is the outcome of one Parallel branch.
type ChildResult struct {
	Runnable Runnable
	Signal   Signal
	Err      error
}

// Parallel runs its children concurrently and joins on completion policy:
// wait for all, merging state via an optional Merge callback.
type Parallel struct {
	NameValue string
	Children  []Runnable
	Merge     MergeFunc
}

func (p *Parallel) Name() string { return p.NameValue }
func (p *Parallel) Kind() Kind   { return KindParallel }
func (p *Parallel) isRunnable()  {}

// NewParallel constructs a Parallel.
func NewParallel(name string, children ...Runnable) *Parallel {
	return &Parallel{NameValue: name, Children: children}
}

// DefaultLoopMaxIterations is used when Loop.MaxIterations is zero.
const DefaultLoopMaxIterations = 100

// Loop runs Inner repeatedly while While(ctx) reports true, evaluated before
// each iteration.
type Loop struct {
	NameValue     string
	Inner         Runnable
	While         func(LoopContext) bool
	MaxIterations int
	// Yields, when true, means a yield from Inner is forwarded to the
	// caller instead of being treated as the loop's failure.
	Yields bool
}

func (l *Loop) Name() string { return l.NameValue }
func (l *Loop) Kind() Kind   { return KindLoop }
func (l *Loop) isRunnable()  {}

// EffectiveMaxIterations returns MaxIterations, defaulting when unset.
func (l *Loop) EffectiveMaxIterations() int {
	if l.MaxIterations > 0 {
		return l.MaxIterations
	}
	return DefaultLoopMaxIterations
}

// NewLoop constructs a Loop.
func NewLoop(name string, inner Runnable, while func(LoopContext) bool) *Loop {
	return &Loop{NameValue: name, Inner: inner, While: while}
}
