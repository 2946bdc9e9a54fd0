package supervisor

import (
	"goa.design/flow/runnable"
	"goa.design/flow/runresult"
	"goa.design/flow/session"
)

// toRunResult projects a top-level runInvocation outcome into the external
// RunResult contract: completed, yielded, or error.
func (sv *Supervisor) toRunResult(sess *session.Session, out outcome, err error) (*runresult.RunResult, error) {
	switch {
	case err != nil:
		sess.SetStatus(session.StatusError)
		return runresult.Failed(err, sess.Events(), 0, false), nil
	case out.yielded:
		sess.SetStatus(session.StatusAwaitingInput)
		r := runresult.Yielded(out.invocationID, sess.PendingCalls())
		return r, nil
	case out.signal.Kind == runnable.SignalFail:
		sess.SetStatus(session.StatusError)
		return runresult.Failed(out.signal.Err, sess.Events(), 0, false), nil
	default:
		sess.SetStatus(session.StatusCompleted)
		return runresult.Completed(out.signal.Value), nil
	}
}
