package supervisor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/flow/errs"
	"goa.design/flow/event"
	"goa.design/flow/model"
	"goa.design/flow/runnable"
	"goa.design/flow/runresult"
	"goa.design/flow/session"
	"goa.design/flow/tool"
)

func newTestSession() *session.Session {
	return session.New("sess-1", "demo", nil)
}

func TestRunCompletesWithPlainTextOutput(t *testing.T) {
	adapter := &scriptedAdapter{steps: []model.StepResult{assistantStep("hello there", true)}}
	sv := New(map[string]model.Adapter{"test": adapter})
	agent := runnable.NewAgent("greeter", model.Config{Provider: "test"})

	sess := newTestSession()
	result, err := sv.Run(context.Background(), agent, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusCompleted, result.Status)
	require.Equal(t, "hello there", result.Output)
	require.Equal(t, session.StatusCompleted, sess.Status())
}

func TestRunParsesJSONOutput(t *testing.T) {
	adapter := &scriptedAdapter{steps: []model.StepResult{assistantStep(`{"answer":42}`, true)}}
	sv := New(map[string]model.Adapter{"test": adapter})
	agent := runnable.NewAgent("answerer", model.Config{Provider: "test"})
	agent.Output = &runnable.OutputSpec{
		Mode:   runnable.OutputModeJSON,
		Schema: json.RawMessage(`{"type":"object","properties":{"answer":{"type":"number"}},"required":["answer"]}`),
	}

	sess := newTestSession()
	result, err := sv.Run(context.Background(), agent, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusCompleted, result.Status)
	require.Equal(t, float64(42), result.Output.(map[string]any)["answer"])
}

func TestRunJSONOutputSchemaViolationEndsInError(t *testing.T) {
	adapter := &scriptedAdapter{steps: []model.StepResult{assistantStep(`{"answer":"not a number"}`, true)}}
	sv := New(map[string]model.Adapter{"test": adapter})
	agent := runnable.NewAgent("answerer", model.Config{Provider: "test"})
	agent.Output = &runnable.OutputSpec{
		Mode:   runnable.OutputModeJSON,
		Schema: json.RawMessage(`{"type":"object","properties":{"answer":{"type":"number"}},"required":["answer"]}`),
	}

	sess := newTestSession()
	result, err := sv.Run(context.Background(), agent, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusError, result.Status)
	require.Equal(t, session.StatusError, sess.Status())

	var sawErrEnd bool
	for _, e := range sess.Events() {
		if e.Type == event.TypeInvocationEnd {
			ie, _ := e.AsInvocationEnd()
			if ie.Reason == event.EndError {
				sawErrEnd = true
			}
		}
	}
	require.True(t, sawErrEnd)
}

func TestRunParsesToolOutput(t *testing.T) {
	out := json.RawMessage(`{"summary":"done"}`)
	step := model.StepResult{
		Terminal:     true,
		FinishReason: event.FinishToolCalls,
		ToolCalls:    []model.ToolCallRequest{{CallID: "call-1", Name: outputToolName, Args: out}},
	}
	adapter := &scriptedAdapter{steps: []model.StepResult{step}}
	sv := New(map[string]model.Adapter{"test": adapter})
	agent := runnable.NewAgent("reporter", model.Config{Provider: "test"})
	agent.Output = &runnable.OutputSpec{Mode: runnable.OutputModeTool}

	sess := newTestSession()
	result, err := sv.Run(context.Background(), agent, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusCompleted, result.Status)
	require.Equal(t, "done", result.Output.(map[string]any)["summary"])
}

func TestRunEndsAtMaxIterations(t *testing.T) {
	args := json.RawMessage(`{}`)
	steps := []model.StepResult{
		toolCallStep("call-1", "noop", args),
		toolCallStep("call-2", "noop", args),
		toolCallStep("call-3", "noop", args),
	}
	adapter := &scriptedAdapter{steps: steps}
	sv := New(map[string]model.Adapter{"test": adapter})

	noop := &tool.Tool{
		Name: "noop",
		Execute: func(context.Context, *tool.Context, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`null`), nil
		},
	}
	agent := runnable.NewAgent("looper", model.Config{Provider: "test"})
	agent.Tools = []*tool.Tool{noop}
	agent.MaxIterations = 2

	sess := newTestSession()
	result, err := sv.Run(context.Background(), agent, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusCompleted, result.Status)
	require.Nil(t, result.Output)
	require.Equal(t, 2, adapter.callCount())

	var reason event.EndReason
	for _, e := range sess.Events() {
		if e.Type == event.TypeInvocationEnd {
			ie, _ := e.AsInvocationEnd()
			reason = ie.Reason
		}
	}
	require.Equal(t, event.EndMaxIterations, reason)
}

func TestRunModelAdapterErrorEndsInvocationWithError(t *testing.T) {
	adapter := &scriptedAdapter{errs: []error{errs.New(errs.ModelFatal, "invalid api key")}}
	sv := New(map[string]model.Adapter{"test": adapter})
	agent := runnable.NewAgent("broken", model.Config{Provider: "test"})

	sess := newTestSession()
	result, err := sv.Run(context.Background(), agent, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusError, result.Status)
	require.Contains(t, result.Error, "invalid api key")
}

func TestRunUnknownProviderFailsFast(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	agent := runnable.NewAgent("orphan", model.Config{Provider: "nowhere"})

	sess := newTestSession()
	result, err := sv.Run(context.Background(), agent, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusError, result.Status)
}

func TestRunToolYieldThenResumeCompletes(t *testing.T) {
	approve := &tool.Tool{
		Name:        "approve",
		YieldSchema: json.RawMessage(`{"type":"object"}`),
		Prepare: func(_ context.Context, _ *tool.Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
		Finalize: func(_ context.Context, _ *tool.Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		},
	}
	adapter := &scriptedAdapter{steps: []model.StepResult{
		toolCallStep("call-1", "approve", json.RawMessage(`{}`)),
		assistantStep("all set", true),
	}}
	sv := New(map[string]model.Adapter{"test": adapter})
	agent := runnable.NewAgent("gatekeeper", model.Config{Provider: "test"})
	agent.Tools = []*tool.Tool{approve}

	sess := newTestSession()
	result, err := sv.Run(context.Background(), agent, sess, nil)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusYielded, result.Status)
	require.True(t, result.AwaitingInput)
	require.Len(t, result.PendingCalls, 1)
	require.Equal(t, "call-1", result.PendingCalls[0].CallID)
	require.Equal(t, session.StatusAwaitingInput, sess.Status())

	_, err = sess.AddToolInput("call-1", json.RawMessage(`{"ok":true}`), "tester")
	require.NoError(t, err)

	result, err = sv.Resume(context.Background(), agent, sess)
	require.NoError(t, err)
	require.Equal(t, runresult.StatusCompleted, result.Status)
	require.Equal(t, "all set", result.Output)
	require.Equal(t, session.StatusCompleted, sess.Status())
}

func TestResumeRejectsWhenNoYieldedInvocationIsReady(t *testing.T) {
	sv := New(map[string]model.Adapter{})
	agent := runnable.NewAgent("idle", model.Config{Provider: "test"})
	sess := newTestSession()

	_, err := sv.Resume(context.Background(), agent, sess)
	require.Error(t, err)
}

func TestResumeRejectsStructuralChange(t *testing.T) {
	approve := &tool.Tool{
		Name:        "approve",
		YieldSchema: json.RawMessage(`{"type":"object"}`),
		Prepare: func(_ context.Context, _ *tool.Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
		Finalize: func(_ context.Context, _ *tool.Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		},
	}
	adapter := &scriptedAdapter{steps: []model.StepResult{
		toolCallStep("call-1", "approve", json.RawMessage(`{}`)),
	}}
	sv := New(map[string]model.Adapter{"test": adapter})
	agent := runnable.NewAgent("gatekeeper", model.Config{Provider: "test"})
	agent.Tools = []*tool.Tool{approve}

	sess := newTestSession()
	_, err := sv.Run(context.Background(), agent, sess, nil)
	require.NoError(t, err)

	_, err = sess.AddToolInput("call-1", json.RawMessage(`{"ok":true}`), "tester")
	require.NoError(t, err)

	// Renaming a tool changes the fingerprint: resume must reject rather than
	// silently replay against a different pipeline shape.
	renamed := &tool.Tool{Name: "approve-v2"}
	changedAgent := runnable.NewAgent("gatekeeper", model.Config{Provider: "test"})
	changedAgent.Tools = []*tool.Tool{renamed}

	_, err = sv.Resume(context.Background(), changedAgent, sess)
	require.Error(t, err)
	var pscErr *PipelineStructureChangedError
	require.ErrorAs(t, err, &pscErr)
}
