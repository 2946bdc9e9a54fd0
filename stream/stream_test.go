package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/flow/event"
	"goa.design/flow/runnable"
	"goa.design/flow/runresult"
	"goa.design/flow/session"
	"goa.design/flow/state"
	"goa.design/flow/stream"
)

type fakeSupervisor struct {
	run func(sess *session.Session) (*runresult.RunResult, error)
}

func (f *fakeSupervisor) Run(_ context.Context, _ runnable.Runnable, sess *session.Session, _ map[string]any) (*runresult.RunResult, error) {
	return f.run(sess)
}

func (f *fakeSupervisor) Resume(_ context.Context, _ runnable.Runnable, sess *session.Session) (*runresult.RunResult, error) {
	return f.run(sess)
}

func TestRunForwardsAppendedEventsThenCloses(t *testing.T) {
	sess := session.New("sess-1", "demo", state.Schema(nil))

	sv := &fakeSupervisor{run: func(sess *session.Session) (*runresult.RunResult, error) {
		_, err := sess.AppendEvent(event.Event{InvocationID: "inv-1", Type: event.TypeInvocationStart})
		require.NoError(t, err)
		_, err = sess.AppendEvent(event.Event{InvocationID: "inv-1", Type: event.TypeUser, Payload: event.Message{Text: "hi"}})
		require.NoError(t, err)
		_, err = sess.AppendEvent(event.Event{InvocationID: "inv-1", Type: event.TypeInvocationEnd})
		require.NoError(t, err)
		return runresult.Completed("done"), nil
	}}

	rs := stream.Run(context.Background(), sv, nil, sess, nil)

	var kinds []event.Type
	for e := range rs.Events {
		kinds = append(kinds, e.Type)
	}
	require.Equal(t, []event.Type{event.TypeInvocationStart, event.TypeUser, event.TypeInvocationEnd}, kinds)

	result, err := rs.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, runresult.StatusCompleted, result.Status)
}

func TestPhaseReflectsTerminalPhaseOnceRunCompletes(t *testing.T) {
	sess := session.New("sess-1", "demo", state.Schema(nil))
	sv := &fakeSupervisor{run: func(sess *session.Session) (*runresult.RunResult, error) {
		return runresult.Completed("done"), nil
	}}

	rs := stream.Run(context.Background(), sv, nil, sess, nil)

	_, err := rs.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, runresult.PhaseCompleted, rs.Phase())
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	sess := session.New("sess-1", "demo", state.Schema(nil))
	block := make(chan struct{})
	sv := &fakeSupervisor{run: func(*session.Session) (*runresult.RunResult, error) {
		<-block
		return runresult.Completed(nil), nil
	}}
	defer close(block)

	rs := stream.Run(context.Background(), sv, nil, sess, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := rs.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
