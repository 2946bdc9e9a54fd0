// Package stream adapts a blocking Supervisor.Run/Resume call into a live
// event feed, the same "launch in a goroutine, return a channel plus a Wait"
// shape model.Stream uses for one model step, lifted to the scope of an
// entire top-level run.
package stream

import (
	"context"
	"sync/atomic"

	"goa.design/flow/event"
	"goa.design/flow/runnable"
	"goa.design/flow/runresult"
	"goa.design/flow/session"
	"goa.design/flow/supervisor"
)

// Supervisor captures the subset of *supervisor.Supervisor this package
// drives, so callers can pass the real type without an import cycle back
// into supervisor.
type Supervisor interface {
	Run(ctx context.Context, root runnable.Runnable, sess *session.Session, args map[string]any) (*runresult.RunResult, error)
	Resume(ctx context.Context, root runnable.Runnable, sess *session.Session) (*runresult.RunResult, error)
}

// RunStream is a live view of one top-level run: every event appended to
// the session while the run is in flight is forwarded on Events, in append
// order, until the run reaches a terminal or yielded state.
type RunStream struct {
	Events <-chan *event.Event

	done   chan struct{}
	result *runresult.RunResult
	err    error
	phase  atomic.Value
}

// Phase reports where the driving run currently stands: rendering,
// streaming a model step, resolving tool calls, or one of the terminal
// phases also carried on the RunResult Wait eventually returns.
func (s *RunStream) Phase() runresult.Phase {
	p, _ := s.phase.Load().(runresult.Phase)
	return p
}

// Wait blocks until the driving Run/Resume call returns, or ctx is done,
// whichever comes first.
func (s *RunStream) Wait(ctx context.Context) (*runresult.RunResult, error) {
	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// bufferSize bounds how many events the session can buffer for a stream
// subscriber before newer events are dropped; see session.Subscribe.
const bufferSize = 256

// Run starts root against sess via sv.Run on a background goroutine and
// returns immediately with a RunStream forwarding every event appended to
// sess for the run's duration.
func Run(ctx context.Context, sv Supervisor, root runnable.Runnable, sess *session.Session, args map[string]any) *RunStream {
	return drive(ctx, sess, func(ctx context.Context) (*runresult.RunResult, error) {
		return sv.Run(ctx, root, sess, args)
	})
}

// Resume starts sv.Resume on a background goroutine and returns immediately
// with a RunStream forwarding every event appended to sess for the resumed
// run's duration.
func Resume(ctx context.Context, sv Supervisor, root runnable.Runnable, sess *session.Session) *RunStream {
	return drive(ctx, sess, func(ctx context.Context) (*runresult.RunResult, error) {
		return sv.Resume(ctx, root, sess)
	})
}

// drive subscribes a raw channel to sess, runs fn (with a phase reporter
// attached to ctx so RunStream.Phase reflects the run's current step) on a
// background goroutine, and forwards every event the session appends onto a
// channel owned by this package (closing it once fn returns and the
// subscription backlog is drained) since Session.Subscribe's own channel is
// never closed by the session.
func drive(ctx context.Context, sess *session.Session, fn func(context.Context) (*runresult.RunResult, error)) *RunStream {
	raw := make(chan *event.Event, bufferSize)
	sess.Subscribe(raw)

	out := make(chan *event.Event, bufferSize)
	done := make(chan struct{})
	rs := &RunStream{Events: out, done: done}

	runCtx := supervisor.WithPhaseReporter(ctx, func(p runresult.Phase) { rs.phase.Store(p) })

	go func() {
		rs.result, rs.err = fn(runCtx)
		if rs.result != nil {
			rs.phase.Store(rs.result.Phase)
		}
		close(done)
	}()

	go func() {
		defer close(out)
		for {
			select {
			case e := <-raw:
				out <- e
			case <-done:
				for {
					select {
					case e := <-raw:
						out <- e
					default:
						return
					}
				}
			}
		}
	}()

	return rs
}
