package supervisor

import (
	"context"

	"goa.design/flow/errs"
	"goa.design/flow/event"
	"goa.design/flow/handoff"
	"goa.design/flow/runnable"
	"goa.design/flow/session"
)

// sessionKey is the unexported context key carrying the *session.Session a
// handoff call runs against. Step/Tool bodies never see a *session.Session
// directly in their Context signature, but the ctx carrying the calling
// invocation always derives from one Run/Resume call, so Call/Spawn/Dispatch
// recover it via sessionFromContext instead of taking it as a parameter.
type sessionKey struct{}

func withSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

func sessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionKey{}).(*session.Session)
	return sess
}

// Call implements handoff.Interface: target runs synchronously as a child
// of the invocation ctx was derived from, and the caller waits for it to
// finish.
func (sv *Supervisor) Call(ctx context.Context, target handoff.Target, opts handoff.Options) (handoff.CallResult, error) {
	sess := sessionFromContext(ctx)
	if sess == nil {
		return handoff.CallResult{}, errs.New(errs.ToolFatal, "call: no session bound to context")
	}
	r, ok := target.(runnable.Runnable)
	if !ok {
		return handoff.CallResult{}, errs.Newf(errs.ToolFatal, "call: target is not a runnable.Runnable (%T)", target)
	}
	parent := invocationIDFrom(ctx)
	origin := &event.HandoffOrigin{Type: event.HandoffCall, InvocationID: parent}

	before := len(sess.Events())
	out, err := sv.runInvocation(ctx, sess, r, parent, invocationOpts{origin: origin, message: opts.Message, state: opts.State}, nil, nil)
	if err != nil {
		return handoff.CallResult{}, err
	}
	return toCallResult(sess, out, before), nil
}

// Spawn implements handoff.Interface: target starts as a child invocation
// without the caller waiting; Await blocks on its result.
func (sv *Supervisor) Spawn(ctx context.Context, target handoff.Target, opts handoff.Options) (handoff.SpawnHandle, error) {
	sess := sessionFromContext(ctx)
	if sess == nil {
		return handoff.SpawnHandle{}, errs.New(errs.ToolFatal, "spawn: no session bound to context")
	}
	r, ok := target.(runnable.Runnable)
	if !ok {
		return handoff.SpawnHandle{}, errs.Newf(errs.ToolFatal, "spawn: target is not a runnable.Runnable (%T)", target)
	}
	parent := invocationIDFrom(ctx)
	origin := &event.HandoffOrigin{Type: event.HandoffSpawn, InvocationID: parent}

	type result struct {
		out outcome
		err error
	}
	before := len(sess.Events())
	done := make(chan result, 1)
	go func() {
		out, err := sv.runInvocation(context.WithoutCancel(ctx), sess, r, parent, invocationOpts{origin: origin, message: opts.Message, state: opts.State}, nil, nil)
		done <- result{out: out, err: err}
	}()

	return handoff.SpawnHandle{
		Await: func(waitCtx context.Context) (handoff.CallResult, error) {
			select {
			case res := <-done:
				if res.err != nil {
					return handoff.CallResult{}, res.err
				}
				return toCallResult(sess, res.out, before), nil
			case <-waitCtx.Done():
				return handoff.CallResult{}, waitCtx.Err()
			}
		},
	}, nil
}

// Dispatch implements handoff.Interface: target runs detached from the
// caller — it is not cancelled by the parent's cancellation and survives
// the parent invocation's own completion. sv.dispatched tracks it so
// callers can drain outstanding dispatches during teardown.
func (sv *Supervisor) Dispatch(ctx context.Context, target handoff.Target, opts handoff.Options) (handoff.DispatchHandle, error) {
	sess := sessionFromContext(ctx)
	if sess == nil {
		return handoff.DispatchHandle{}, errs.New(errs.ToolFatal, "dispatch: no session bound to context")
	}
	r, ok := target.(runnable.Runnable)
	if !ok {
		return handoff.DispatchHandle{}, errs.Newf(errs.ToolFatal, "dispatch: target is not a runnable.Runnable (%T)", target)
	}
	parent := invocationIDFrom(ctx)
	origin := &event.HandoffOrigin{Type: event.HandoffDispatch, InvocationID: parent}

	// Detached: runs against a fresh background context so cancelling the
	// parent's ctx (or the parent's own invocation ending) does not cancel
	// this invocation. opts.detached also registers it in sv.parents with
	// no parent, so Cancel(parent) never reaches it.
	detachedCtx := withSession(context.Background(), sess)
	id := newInvocationID(r.Name())

	sv.dispatched.Add(1)
	go func() {
		defer sv.dispatched.Done()
		_, _ = sv.runInvocation(detachedCtx, sess, r, parent, invocationOpts{
			origin: origin, message: opts.Message, state: opts.State,
			presetID: id, detached: true,
		}, nil, nil)
	}()

	return handoff.DispatchHandle{InvocationID: id}, nil
}

// Wait blocks until every dispatch() invocation started on this Supervisor
// has finished, for session teardown.
func (sv *Supervisor) Wait() {
	sv.dispatched.Wait()
}

func toCallResult(sess *session.Session, out outcome, before int) handoff.CallResult {
	events := sess.Events()
	var tail []any
	if before < len(events) {
		tail = make([]any, 0, len(events)-before)
		for _, e := range events[before:] {
			tail = append(tail, e)
		}
	}
	var output any
	if out.signal.Kind == runnable.SignalComplete {
		output = out.signal.Value
	} else if out.signal.Kind == runnable.SignalRespond {
		output = out.signal.Text
	}
	return handoff.CallResult{Output: output, Events: tail, InvocationID: out.invocationID}
}
