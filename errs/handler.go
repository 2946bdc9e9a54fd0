package errs

import "context"

// Recovery is the action an error handler decides to take for a failure:
// retry, skip, abort, fallback, or pass to the next handler.
type Recovery string

const (
	// RecoveryRetry re-attempts the failed operation.
	RecoveryRetry Recovery = "retry"
	// RecoverySkip treats the operation as a no-op and continues.
	RecoverySkip Recovery = "skip"
	// RecoveryAbort ends the invocation with the error.
	RecoveryAbort Recovery = "abort"
	// RecoveryFallback substitutes a fallback result supplied by the handler.
	RecoveryFallback Recovery = "fallback"
	// RecoveryPass defers to the next handler in the chain.
	RecoveryPass Recovery = "pass"
)

// Decision is the outcome an error Handler returns.
type Decision struct {
	Recovery Recovery
	// Fallback carries the substitute value when Recovery is RecoveryFallback.
	Fallback any
}

// Handler inspects a failure and decides how the supervisor should recover.
// Handlers compose into a Chain: the first handler whose Predicate matches
// decides recovery.
type Handler struct {
	// Name identifies the handler for logging/diagnostics.
	Name string
	// Predicate reports whether this handler applies to err.
	Predicate func(err error) bool
	// Decide computes the recovery decision. Only called when Predicate
	// matched.
	Decide func(ctx context.Context, err error) Decision
}

// Chain composes Handlers in order; the first match wins.
type Chain []Handler

// Handle runs the chain against err, returning the first matching handler's
// decision other than RecoveryPass (a pass moves on to the next handler), or
// RecoveryAbort if no handler decides (fail safe).
func (c Chain) Handle(ctx context.Context, err error) Decision {
	for _, h := range c {
		if h.Predicate == nil || h.Predicate(err) {
			d := h.Decide(ctx, err)
			if d.Recovery == RecoveryPass {
				continue
			}
			return d
		}
	}
	return Decision{Recovery: RecoveryAbort}
}

// RetryableHandler builds a Handler that retries errors matching IsRetryable,
// covering the default policy for ModelTransient/ToolTransient failures.
func RetryableHandler(name string) Handler {
	return Handler{
		Name:      name,
		Predicate: IsRetryable,
		Decide: func(context.Context, error) Decision {
			return Decision{Recovery: RecoveryRetry}
		},
	}
}

// KindHandler builds a Handler that applies recovery to any *Error of kind.
func KindHandler(name string, kind Kind, recovery Recovery) Handler {
	return Handler{
		Name: name,
		Predicate: func(err error) bool {
			e, ok := err.(*Error)
			return ok && e.Kind == kind
		},
		Decide: func(context.Context, error) Decision {
			return Decision{Recovery: recovery}
		},
	}
}
