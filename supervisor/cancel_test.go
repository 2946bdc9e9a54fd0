package supervisor

import (
	"context"
	"testing"
	"time"

	"goa.design/flow/event"
	"goa.design/flow/model"
	"goa.design/flow/runnable"
	"goa.design/flow/session"
)

// waitForInvocationStart polls sess's event log until it finds an
// invocation_start for the given Kind, returning its InvocationID.
func waitForInvocationStart(t *testing.T, sess *session.Session, kind string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range sess.Events() {
			if e.Type == event.TypeInvocationStart {
				if is, ok := e.AsInvocationStart(); ok && is.Kind == kind {
					return e.InvocationID
				}
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("invocation_start with kind %q never appeared", kind)
	return ""
}

func TestCancelPropagatesToRunningChildren(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	childAStarted := make(chan struct{})
	childACancelled := make(chan struct{})
	childBStarted := make(chan struct{})
	childBCancelled := make(chan struct{})

	childA := runnable.NewStep("child-a", func(sc runnable.StepContext) runnable.Signal {
		close(childAStarted)
		<-sc.Context.Done()
		close(childACancelled)
		return runnable.Fail(sc.Context.Err())
	})
	childB := runnable.NewStep("child-b", func(sc runnable.StepContext) runnable.Signal {
		close(childBStarted)
		<-sc.Context.Done()
		close(childBCancelled)
		return runnable.Fail(sc.Context.Err())
	})
	par := runnable.NewParallel("fan-out", childA, childB)

	sess := newTestSession()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_, _ = sv.Run(context.Background(), par, sess, nil)
	}()

	<-childAStarted
	<-childBStarted

	parallelID := waitForInvocationStart(t, sess, "parallel")
	sv.Cancel(parallelID)

	<-childACancelled
	<-childBCancelled
	<-runDone
}
