// Package errs implements the engine's error taxonomy and retry policy.
// Errors are structured values rather than ad-hoc strings so tool-level
// retry, error-handler chains, and top-level run reporting can all branch
// on Kind without string matching — generalizing goa-ai's
// runtime/agent/toolerrors.ToolError (message + cause chain, errors.Is/As
// support) to a fixed set of engine error kinds.
package errs

import "fmt"

// Kind classifies an engine error by where it originated and what recovery
// it defaults to.
type Kind string

const (
	// ModelTransient covers rate-limit, 5xx, and timeout failures from a
	// model adapter. Default policy: retry with backoff, fail over in the
	// adapter.
	ModelTransient Kind = "model_transient"
	// ModelFatal covers auth failures and schema violations. Default policy:
	// surface as model_end.Error, end the invocation with EndError.
	ModelFatal Kind = "model_fatal"
	// ToolTransient covers network/timeout errors inside a tool's execute.
	// Default policy: retry per the tool's configured policy.
	ToolTransient Kind = "tool_transient"
	// ToolFatal covers validation failures and thrown non-retryable errors.
	// Default policy: emit tool_result.Error, propagate to the agent as a
	// normal result (not a RunResult-level failure).
	ToolFatal Kind = "tool_fatal"
	// OutputParse covers structured-output parse failures that persist after
	// corrective retries. Default policy: end the invocation with EndError;
	// any partial value is retained on the Error.
	OutputParse Kind = "output_parse"
	// PipelineStructureChanged covers a fingerprint mismatch on resume.
	// Default policy: fail fast, before any state replay.
	PipelineStructureChanged Kind = "pipeline_structure_changed"
	// UnknownPendingCall covers addToolInput for an unknown callId. Default
	// policy: raised synchronously to the caller.
	UnknownPendingCall Kind = "unknown_pending_call"
	// Cancelled covers external cancellation. Default policy:
	// invocation_end.reason = cancelled.
	Cancelled Kind = "cancelled"
)

// Error is the structured engine error type. Every error the engine raises
// across package boundaries (tool execution, model adapters, the
// supervisor, fingerprint validation) is either an *Error or wraps one.
type Error struct {
	Kind         Kind
	Message      string
	InvocationID string
	CallID       string
	// Cause chains to an underlying *Error, preserving diagnostics across
	// retries and call/transfer hops the same way toolerrors.ToolError does.
	Cause error
	// Retryable reports whether retrying the same operation, unmodified,
	// may succeed. Only meaningful for ModelTransient/ToolTransient.
	Retryable bool
	// Hint carries structured retry guidance when available.
	Hint *RetryHint
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf formats message per fmt.Sprintf and constructs an *Error of kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of kind that chains to cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap supports errors.Is/As over the cause chain.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// WithInvocation returns a copy of e annotated with invocationID.
func (e *Error) WithInvocation(invocationID string) *Error {
	cp := *e
	cp.InvocationID = invocationID
	return &cp
}

// WithCall returns a copy of e annotated with callID.
func (e *Error) WithCall(callID string) *Error {
	cp := *e
	cp.CallID = callID
	return &cp
}

// Is reports whether target is an *Error with the same Kind, supporting
// errors.Is(err, errs.New(errs.ToolFatal, "")) style sentinel checks on Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// RetryReason classifies why a tool failure triggered a retry hint,
// mirroring goa-ai's planner.RetryReason so policy engines can make
// informed decisions about retry strategy.
type RetryReason string

const (
	RetryReasonInvalidArguments  RetryReason = "invalid_arguments"
	RetryReasonMissingFields    RetryReason = "missing_fields"
	RetryReasonMalformedResult  RetryReason = "malformed_response"
	RetryReasonTimeout          RetryReason = "timeout"
	RetryReasonRateLimited      RetryReason = "rate_limited"
	RetryReasonToolUnavailable  RetryReason = "tool_unavailable"
)

// RetryHint carries structured retry guidance attached to a tool failure.
type RetryHint struct {
	Reason RetryReason
	// MissingFields names required fields absent from the tool call payload,
	// populated when Reason is RetryReasonMissingFields.
	MissingFields []string
	// SuggestedCapAdjustment optionally suggests a new fan-out or timeout
	// cap for the offending tool, e.g. after repeated RetryReasonTimeout.
	SuggestedCapAdjustment int
}

// RetryHintProvider is implemented by domain errors that want to surface
// structured retry guidance without the engine needing to parse messages.
type RetryHintProvider interface {
	RetryHint() *RetryHint
}
