package tool

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/flow/errs"
	"goa.design/flow/event"
	"goa.design/flow/handoff"
	"goa.design/flow/model"
	"goa.design/flow/session"
)

// Registry looks up a Tool by name.
type Registry map[string]*Tool

// Engine resolves batches of model-issued tool calls against a Registry,
// applying the timeout/retry/concurrency policy and yield/finalize staging
// each Tool declares.
type Engine struct {
	Registry Registry
	// FanOut caps concurrent tool executions within one batch. Zero means
	// unbounded.
	FanOut int
	// Limiter, when set, throttles the rate at which new tool calls start
	// (independent of FanOut's concurrency cap), e.g. to respect a
	// downstream rate limit shared across tools.
	Limiter *rate.Limiter
	Handoff handoff.Interface
	// Middleware wraps every Execute/Finalize call this Engine makes,
	// outermost first.
	Middleware []Middleware
	// ErrorHandlers decides recovery for a call's terminal failure (after
	// its own retry policy is exhausted). A skip decision substitutes a nil
	// result and a fallback decision substitutes the handler's value; every
	// other decision, RecoveryRetry included, leaves the failure in place,
	// as does having no handlers configured.
	ErrorHandlers errs.Chain
}

// Outcome is the result of resolving one call in a batch.
type Outcome struct {
	CallID string
	// ToolCallEvent is always produced, recording the call as issued.
	ToolCallEvent event.Event
	// YieldEvent is set when the call suspended awaiting external input.
	YieldEvent *event.Event
	// ResultEvent is set when the call produced a terminal tool_result
	// (non-yielding calls, or yielding calls whose finalize just ran).
	ResultEvent *event.Event
	// Transfer, when set, is a Runnable the supervisor calls, recording its
	// outcome as this call's semantic result. Resolve and Finalize never set
	// it: ExecuteFunc and FinalizeFunc return JSON only.
	Transfer handoff.Target
}

// Resolve runs one batch of tool calls from a single model step against
// sess, returning one Outcome per call. invocationID is the invocation the
// calls belong to.
func (e *Engine) Resolve(ctx context.Context, sess *session.Session, invocationID string, calls []model.ToolCallRequest) ([]Outcome, error) {
	outcomes := make([]Outcome, len(calls))
	var sem chan struct{}
	if e.FanOut > 0 {
		sem = make(chan struct{}, e.FanOut)
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		i, call := i, call
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			if e.Limiter != nil {
				_ = e.Limiter.Wait(ctx)
			}
			outcomes[i] = e.resolveOne(ctx, sess, invocationID, call)
		}()
	}
	wg.Wait()
	return outcomes, nil
}

func (e *Engine) resolveOne(ctx context.Context, sess *session.Session, invocationID string, call model.ToolCallRequest) Outcome {
	t, ok := e.Registry[call.Name]

	callEvent := event.Event{
		Type:         event.TypeToolCall,
		InvocationID: invocationID,
		Payload:      event.ToolCall{CallID: call.CallID, Name: call.Name, Args: call.Args, Yields: ok && t.Yields()},
	}
	reject := func(err error) Outcome {
		oc := e.rejected(call, err)
		oc.ToolCallEvent = callEvent
		oc.ResultEvent.InvocationID = invocationID
		return oc
	}

	if !ok {
		return reject(errs.Newf(errs.ToolFatal, "unknown tool %q", call.Name).WithCall(call.CallID))
	}

	if err := ValidateArgs(t, call.Args); err != nil {
		return reject(err)
	}

	if !t.Yields() {
		return e.runNonYielding(ctx, sess, invocationID, t, call, callEvent)
	}
	return e.runYielding(ctx, sess, invocationID, t, call, callEvent)
}

func (e *Engine) rejected(call model.ToolCallRequest, err error) Outcome {
	ee, _ := err.(*errs.Error)
	result := event.ToolResult{CallID: call.CallID, Name: call.Name, Error: err.Error()}
	if ee != nil {
		result.ErrorKind = string(ee.Kind)
	}
	re := event.Event{Type: event.TypeToolResult, Payload: result}
	return Outcome{CallID: call.CallID, ResultEvent: &re}
}

func (e *Engine) toolContext(ctx context.Context, sess *session.Session, invocationID, callID string) *Context {
	return &Context{Context: ctx, CallID: callID, InvocationID: invocationID, SessionID: sess.ID(), Handoff: e.Handoff}
}

func (e *Engine) runNonYielding(ctx context.Context, sess *session.Session, invocationID string, t *Tool, call model.ToolCallRequest, callEvent event.Event) Outcome {
	start := time.Now()
	tctx := e.toolContext(ctx, sess, invocationID, call.CallID)
	timeoutCtx, cancel := context.WithTimeout(ctx, t.EffectiveTimeout())
	defer cancel()
	tctx.Context = timeoutCtx

	execute := Chain(t.Execute, e.Middleware...)

	var result json.RawMessage
	var retryCount int
	err := errs.Retry(timeoutCtx, effectiveRetry(t), errs.IsRetryable, func(c context.Context, attempt int) error {
		retryCount = attempt - 1
		tctx.Context = c
		out, execErr := execute(c, tctx, call.Args)
		if execErr == nil {
			result = out
			return nil
		}
		return classify(execErr)
	})
	result, err = e.recoverFromFailure(ctx, result, err)

	duration := time.Since(start).Milliseconds()
	timedOut := timeoutCtx.Err() == context.DeadlineExceeded

	res := event.ToolResult{
		CallID:     call.CallID,
		Name:       call.Name,
		Result:     result,
		DurationMs: duration,
		RetryCount: retryCount,
		TimedOut:   timedOut,
	}
	if err != nil {
		res.Error = err.Error()
		if ee, ok := err.(*errs.Error); ok {
			res.ErrorKind = string(ee.Kind)
		}
	}
	re := event.Event{Type: event.TypeToolResult, InvocationID: invocationID, Payload: res}
	return Outcome{CallID: call.CallID, ToolCallEvent: callEvent, ResultEvent: &re}
}

func (e *Engine) runYielding(ctx context.Context, sess *session.Session, invocationID string, t *Tool, call model.ToolCallRequest, callEvent event.Event) Outcome {
	tctx := e.toolContext(ctx, sess, invocationID, call.CallID)
	prepared, err := t.Prepare(ctx, tctx, call.Args)
	if err != nil {
		return Outcome{CallID: call.CallID, ToolCallEvent: callEvent, ResultEvent: rejectedResult(call, err)}
	}
	ye := event.Event{
		Type:         event.TypeToolYield,
		InvocationID: invocationID,
		Payload:      event.ToolYield{CallID: call.CallID, Name: call.Name, PreparedArgs: prepared},
	}
	return Outcome{CallID: call.CallID, ToolCallEvent: callEvent, YieldEvent: &ye}
}

// Finalize completes a previously yielded call once tool_input has arrived.
func (e *Engine) Finalize(ctx context.Context, sess *session.Session, invocationID, callID, name string, input json.RawMessage) (*event.Event, error) {
	t, ok := e.Registry[name]
	if !ok {
		return nil, errs.Newf(errs.ToolFatal, "unknown tool %q", name).WithCall(callID)
	}
	start := time.Now()
	tctx := e.toolContext(ctx, sess, invocationID, callID)
	timeoutCtx, cancel := context.WithTimeout(ctx, t.EffectiveTimeout())
	defer cancel()

	finalize := Chain(ExecuteFunc(t.Finalize), e.Middleware...)

	var result json.RawMessage
	var retryCount int
	err := errs.Retry(timeoutCtx, effectiveRetry(t), errs.IsRetryable, func(c context.Context, attempt int) error {
		retryCount = attempt - 1
		tctx.Context = c
		out, finErr := finalize(c, tctx, input)
		if finErr == nil {
			result = out
			return nil
		}
		return classify(finErr)
	})
	result, err = e.recoverFromFailure(ctx, result, err)

	res := event.ToolResult{
		CallID:     callID,
		Name:       name,
		Result:     result,
		DurationMs: time.Since(start).Milliseconds(),
		RetryCount: retryCount,
		TimedOut:   timeoutCtx.Err() == context.DeadlineExceeded,
	}
	if err != nil {
		res.Error = err.Error()
		if ee, ok := err.(*errs.Error); ok {
			res.ErrorKind = string(ee.Kind)
		}
	}
	return &event.Event{Type: event.TypeToolResult, InvocationID: invocationID, Payload: res}, nil
}

func rejectedResult(call model.ToolCallRequest, err error) *event.Event {
	res := event.ToolResult{CallID: call.CallID, Name: call.Name, Error: err.Error()}
	if ee, ok := err.(*errs.Error); ok {
		res.ErrorKind = string(ee.Kind)
	}
	e := event.Event{Type: event.TypeToolResult, Payload: res}
	return &e
}

// recoverFromFailure consults e.ErrorHandlers, if any, once a call's own
// retry policy has been exhausted. RecoveryFallback substitutes the
// handler's value as the call's result; RecoverySkip substitutes a nil
// result. Any other Recovery (including RecoveryAbort and the no-handlers
// case) leaves err to surface as the call's failure, as before.
func (e *Engine) recoverFromFailure(ctx context.Context, result json.RawMessage, err error) (json.RawMessage, error) {
	if err == nil || e.ErrorHandlers == nil {
		return result, err
	}
	switch dec := e.ErrorHandlers.Handle(ctx, err); dec.Recovery {
	case errs.RecoveryFallback:
		fb, merr := json.Marshal(dec.Fallback)
		if merr != nil {
			return result, err
		}
		return fb, nil
	case errs.RecoverySkip:
		return json.RawMessage("null"), nil
	default:
		return result, err
	}
}

func effectiveRetry(t *Tool) errs.BackoffPolicy {
	p := t.Retry
	if p.MaxAttempts == 0 {
		p.MaxAttempts = errs.DefaultBackoffPolicy.MaxAttempts
	}
	if p.InitialInterval == 0 {
		p.InitialInterval = errs.DefaultBackoffPolicy.InitialInterval
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = errs.DefaultBackoffPolicy.MaxInterval
	}
	if p.BackoffCoefficient == 0 {
		p.BackoffCoefficient = errs.DefaultBackoffPolicy.BackoffCoefficient
	}
	return p
}

// classify wraps a raw execute/finalize error as a retryable ToolTransient
// unless it already carries engine error structure.
func classify(err error) error {
	if _, ok := err.(*errs.Error); ok {
		return err
	}
	return errs.Wrap(errs.ToolTransient, err.Error(), err)
}
