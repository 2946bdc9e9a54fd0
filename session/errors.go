package session

import "goa.design/flow/errs"

// ErrUnknownPendingCall is returned by AddToolInput when callID is not in
// pendingYieldingCalls.
func ErrUnknownPendingCall(callID string) *errs.Error {
	return errs.Newf(errs.UnknownPendingCall, "no pending yielding call with id %q", callID).WithCall(callID)
}

// ErrOrphanResult is returned by AppendEvent when a tool_result's callID has
// no matching tool_call in the same invocation.
func ErrOrphanResult(callID string) *errs.Error {
	return errs.Newf(errs.ToolFatal, "tool_result for unknown call id %q", callID).WithCall(callID)
}

// ErrInvocationNotOpen is returned by AppendEvent when an event's
// InvocationID does not refer to an open invocation and is not in the
// pre-invocation zone.
func ErrInvocationNotOpen(invocationID string) *errs.Error {
	return errs.Newf(errs.ToolFatal, "invocation %q is not open", invocationID).WithInvocation(invocationID)
}

// ErrSessionEnded is returned when a mutator is called on a session whose
// Status is already StatusCompleted or StatusError.
var ErrSessionEnded = errs.New(errs.ToolFatal, "session has already ended")
