package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/flow/event"
	"goa.design/flow/model"
	"goa.design/flow/runnable"
	"goa.design/flow/runresult"
)

func TestRunSequenceRunsChildrenInOrderAndReturnsLastSignal(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	var order []string

	step := func(name string, sig runnable.Signal) *runnable.Step {
		return runnable.NewStep(name, func(sc runnable.StepContext) runnable.Signal {
			order = append(order, name)
			return sig
		})
	}
	seq := runnable.NewSequence("pipeline",
		step("first", runnable.None()),
		step("second", runnable.Complete("done")),
		step("third", runnable.None()),
	)

	sess := newTestSession()
	result, err := sv.Run(context.Background(), seq, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusCompleted, result.Status)
	require.Equal(t, "done", result.Output)
	require.Equal(t, []string{"first", "second"}, order)
}

func TestRunSequenceSkipDropsChildButContinues(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	var order []string
	step := func(name string, sig runnable.Signal) *runnable.Step {
		return runnable.NewStep(name, func(sc runnable.StepContext) runnable.Signal {
			order = append(order, name)
			return sig
		})
	}
	seq := runnable.NewSequence("pipeline",
		step("skip-me", runnable.Skip()),
		step("run-me", runnable.Complete(1)),
	)

	sess := newTestSession()
	result, err := sv.Run(context.Background(), seq, sess, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"skip-me", "run-me"}, order)
	require.Equal(t, 1, result.Output)
}

func TestRunParallelMergesBranchResults(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	branchA := runnable.NewStep("a", func(sc runnable.StepContext) runnable.Signal {
		return runnable.Complete(1)
	})
	branchB := runnable.NewStep("b", func(sc runnable.StepContext) runnable.Signal {
		return runnable.Complete(2)
	})
	par := &runnable.Parallel{
		NameValue: "fan-out",
		Children:  []runnable.Runnable{branchA, branchB},
		Merge: func(ctx runnable.ParallelContext, results []runnable.ChildResult) []runnable.StateAssignment {
			total := 0
			for _, r := range results {
				total += r.Signal.Value.(int)
			}
			return []runnable.StateAssignment{{Scope: "invocation", Key: "total", Value: total}}
		},
	}

	sess := newTestSession()
	result, err := sv.Run(context.Background(), par, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusCompleted, result.Status)

	total, ok := sess.State().Read("invocation", "total")
	require.True(t, ok)
	require.Equal(t, 3, total)
}

func TestRunParallelMergeWithMultipleAssignmentsEmitsOneStateChangeEvent(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	branchA := runnable.NewStep("a", func(sc runnable.StepContext) runnable.Signal {
		return runnable.Complete(1)
	})
	branchB := runnable.NewStep("b", func(sc runnable.StepContext) runnable.Signal {
		return runnable.Complete(2)
	})
	par := &runnable.Parallel{
		NameValue: "fan-out",
		Children:  []runnable.Runnable{branchA, branchB},
		Merge: func(ctx runnable.ParallelContext, results []runnable.ChildResult) []runnable.StateAssignment {
			return []runnable.StateAssignment{
				{Scope: "invocation", Key: "a", Value: 1},
				{Scope: "invocation", Key: "b", Value: 2},
			}
		},
	}

	sess := newTestSession()
	result, err := sv.Run(context.Background(), par, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusCompleted, result.Status)

	a, ok := sess.State().Read("invocation", "a")
	require.True(t, ok)
	require.Equal(t, 1, a)
	b, ok := sess.State().Read("invocation", "b")
	require.True(t, ok)
	require.Equal(t, 2, b)

	var stateChanges int
	for _, e := range sess.Events() {
		if e.Type == event.TypeStateChange {
			stateChanges++
		}
	}
	require.Equal(t, 1, stateChanges)
}

func TestRunParallelPropagatesFirstFailure(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	ok := runnable.NewStep("ok", func(sc runnable.StepContext) runnable.Signal {
		return runnable.Complete(nil)
	})
	bad := runnable.NewStep("bad", func(sc runnable.StepContext) runnable.Signal {
		return runnable.Fail(assertionError{"boom"})
	})
	par := runnable.NewParallel("fan-out", ok, bad)

	sess := newTestSession()
	result, err := sv.Run(context.Background(), par, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusError, result.Status)
}

func TestRunLoopRepeatsUntilWhileIsFalse(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	count := 0
	inner := runnable.NewStep("tick", func(sc runnable.StepContext) runnable.Signal {
		count++
		return runnable.None()
	})
	loop := runnable.NewLoop("ticker", inner, func(lc runnable.LoopContext) bool {
		return lc.Iteration <= 3
	})

	sess := newTestSession()
	result, err := sv.Run(context.Background(), loop, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusCompleted, result.Status)
	require.Equal(t, 3, count)
}

func TestRunLoopYieldRejectedWhenNotAdvertised(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	inner := runnable.NewStep("waits", func(sc runnable.StepContext) runnable.Signal {
		return runnable.Yield()
	})
	loop := runnable.NewLoop("ticker", inner, func(lc runnable.LoopContext) bool {
		return lc.Iteration <= 1
	})

	sess := newTestSession()
	result, err := sv.Run(context.Background(), loop, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusError, result.Status)
}

func TestRunLoopForwardsYieldWhenAdvertised(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	inner := runnable.NewStep("waits", func(sc runnable.StepContext) runnable.Signal {
		return runnable.Yield()
	})
	loop := &runnable.Loop{
		NameValue: "ticker",
		Inner:     inner,
		While:     func(lc runnable.LoopContext) bool { return lc.Iteration <= 1 },
		Yields:    true,
	}

	sess := newTestSession()
	result, err := sv.Run(context.Background(), loop, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusYielded, result.Status)
}

type assertionError struct{ msg string }

func (e assertionError) Error() string { return e.msg }
