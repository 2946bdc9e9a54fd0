package runnable

// SignalKind classifies the control-flow outcome a Step (or a Sequence
// short-circuited by one) produces.
type SignalKind string

const (
	// SignalNone means no control change: continue to the next sibling.
	SignalNone SignalKind = "none"
	// SignalSkip skips the current child without affecting the rest of
	// the sequence.
	SignalSkip SignalKind = "skip"
	// SignalRespond short-circuits with a text response.
	SignalRespond SignalKind = "respond"
	// SignalFail short-circuits with a failure.
	SignalFail SignalKind = "fail"
	// SignalComplete short-circuits with a terminal value.
	SignalComplete SignalKind = "complete"
	// SignalRoute replaces the step's own execution with another Runnable,
	// inlined in place of the step.
	SignalRoute SignalKind = "route"
	// SignalYield explicitly suspends the current invocation, independent
	// of any tool yield.
	SignalYield SignalKind = "yield"
)

// Signal is returned by Step.Execute to describe how the supervisor should
// continue.
type Signal struct {
	Kind SignalKind
	Text string
	// Err is set when Kind is SignalFail.
	Err error
	// Value is set when Kind is SignalComplete.
	Value any
	// Route is set when Kind is SignalRoute.
	Route Runnable
}

// None is the zero signal: no control change.
func None() Signal { return Signal{Kind: SignalNone} }

// Skip skips the current child.
func Skip() Signal { return Signal{Kind: SignalSkip} }

// Respond short-circuits the enclosing sequence with a text response.
func Respond(text string) Signal { return Signal{Kind: SignalRespond, Text: text} }

// Fail short-circuits the enclosing sequence with an error.
func Fail(err error) Signal { return Signal{Kind: SignalFail, Err: err} }

// Complete short-circuits the enclosing sequence with a terminal value.
func Complete(value any) Signal { return Signal{Kind: SignalComplete, Value: value} }

// Route replaces the step's execution with target, inlined in place.
func Route(target Runnable) Signal { return Signal{Kind: SignalRoute, Route: target} }

// Yield explicitly suspends the current invocation.
func Yield() Signal { return Signal{Kind: SignalYield} }
