package supervisor

import (
	"context"
	"sync"

	"goa.design/flow/errs"
	"goa.design/flow/runnable"
	"goa.design/flow/session"
	"goa.design/flow/state"
)

// runStep drives a single Step's callback. An explicit
// runnable.SignalYield suspends the invocation with no pending tool calls;
// every other Signal (including SignalRoute, which dispatch() tail-calls)
// is passed through unchanged.
func (sv *Supervisor) runStep(ctx context.Context, sess *session.Session, s *runnable.Step, invocationID string, args map[string]any, incoming []runnable.Signal) (outcome, error) {
	if s.Execute == nil {
		return outcome{signal: runnable.None()}, nil
	}
	sig := s.Execute(runnable.StepContext{
		Context:      ctx,
		Session:      sess,
		State:        sess.State(),
		InvocationID: invocationID,
		Args:         args,
		Signals:      incoming,
		Handoff:      sv,
	})
	if sig.Kind == runnable.SignalYield {
		return outcome{yielded: true}, nil
	}
	return outcome{signal: sig}, nil
}

// runSequence drives a Sequence left-to-right. A child's skip is
// dropped; respond/complete/fail short-circuits with that outcome; a yield
// anywhere propagates upward immediately.
func (sv *Supervisor) runSequence(ctx context.Context, sess *session.Session, seq *runnable.Sequence, invocationID string, args map[string]any) (outcome, error) {
	var signals []runnable.Signal
	last := runnable.None()
	for _, child := range seq.Children {
		childOut, err := sv.runInvocation(ctx, sess, child, invocationID, invocationOpts{}, args, signals)
		if err != nil {
			return outcome{}, err
		}
		if childOut.yielded {
			return childOut, nil
		}
		sig := childOut.signal
		switch sig.Kind {
		case runnable.SignalSkip:
			continue
		case runnable.SignalRespond, runnable.SignalComplete, runnable.SignalFail:
			return outcome{signal: sig}, nil
		default:
			signals = append(signals, sig)
			last = sig
		}
	}
	return outcome{signal: last}, nil
}

// runParallel drives a Parallel's children concurrently and joins on a
// wait-for-all policy. The first failing child cancels its
// siblings; a Merge callback, if set, computes the state assignments
// committed at the join.
func (sv *Supervisor) runParallel(ctx context.Context, sess *session.Session, par *runnable.Parallel, invocationID string, args map[string]any) (outcome, error) {
	groupCtx, cancelGroup := context.WithCancel(ctx)
	defer cancelGroup()

	type branchResult struct {
		child runnable.Runnable
		out   outcome
		err   error
	}
	results := make([]branchResult, len(par.Children))

	var wg sync.WaitGroup
	var failOnce sync.Once
	for i, child := range par.Children {
		i, child := i, child
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := sv.runInvocation(groupCtx, sess, child, invocationID, invocationOpts{}, args, nil)
			results[i] = branchResult{child: child, out: out, err: err}
			if err != nil || out.signal.Kind == runnable.SignalFail {
				failOnce.Do(cancelGroup)
			}
		}()
	}
	wg.Wait()

	for _, r := range results {
		if r.out.yielded {
			return r.out, nil
		}
	}
	for _, r := range results {
		if r.err != nil {
			return outcome{signal: runnable.Fail(r.err)}, nil
		}
		if r.out.signal.Kind == runnable.SignalFail {
			return outcome{signal: r.out.signal}, nil
		}
	}

	if par.Merge != nil {
		childResults := make([]runnable.ChildResult, len(results))
		for i, r := range results {
			childResults[i] = runnable.ChildResult{Runnable: r.child, Signal: r.out.signal, Err: r.err}
		}
		assignments := par.Merge(runnable.ParallelContext{Context: ctx, Session: sess, InvocationID: invocationID}, childResults)
		if err := commitMerge(sess, invocationID, par.Name(), assignments); err != nil {
			return outcome{}, err
		}
	}
	return outcome{signal: runnable.None()}, nil
}

// commitMerge groups assignments by scope and commits each scope's batch
// through a single UpdateState call, so a merge producing several
// assignments across one or more scopes appends one state_change event per
// scope instead of one per assignment.
func commitMerge(sess *session.Session, invocationID, source string, assignments []runnable.StateAssignment) error {
	var order []string
	byScope := make(map[string][]state.KeyValue)
	for _, a := range assignments {
		if _, ok := byScope[a.Scope]; !ok {
			order = append(order, a.Scope)
		}
		byScope[a.Scope] = append(byScope[a.Scope], state.KeyValue{Key: a.Key, Value: a.Value})
	}
	for _, scope := range order {
		if _, err := sess.UpdateState(invocationID, scope, byScope[scope], source); err != nil {
			return err
		}
	}
	return nil
}

// runLoop drives a Loop's inner Runnable repeatedly. While(ctx) is
// evaluated before each iteration; each iteration is a child invocation
// carrying LoopIteration/LoopMax. An inner yield is forwarded to the caller
// only when Yields is set; otherwise it is treated as a failure.
func (sv *Supervisor) runLoop(ctx context.Context, sess *session.Session, loop *runnable.Loop, invocationID string, args map[string]any) (outcome, error) {
	max := loop.EffectiveMaxIterations()
	last := runnable.None()
	for i := 1; i <= max; i++ {
		if loop.While != nil && !loop.While(runnable.LoopContext{
			Context:      ctx,
			Session:      sess,
			State:        sess.State(),
			InvocationID: invocationID,
			Iteration:    i,
			Last:         last,
		}) {
			break
		}

		iterOut, err := sv.runInvocation(ctx, sess, loop.Inner, invocationID, invocationOpts{loopIteration: i, loopMax: max}, args, nil)
		if err != nil {
			return outcome{}, err
		}
		if iterOut.yielded {
			if !loop.Yields {
				return outcome{signal: runnable.Fail(errs.Newf(errs.ToolFatal,
					"loop %q iteration %d yielded but the loop does not advertise yields", loop.Name(), i))}, nil
			}
			return iterOut, nil
		}

		last = iterOut.signal
		switch last.Kind {
		case runnable.SignalRespond, runnable.SignalComplete, runnable.SignalFail:
			return outcome{signal: last}, nil
		}
	}
	return outcome{signal: last}, nil
}
