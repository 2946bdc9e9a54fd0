package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/flow/errs"
	"goa.design/flow/event"
	"goa.design/flow/model"
	"goa.design/flow/session"
)

func calcTool() *Tool {
	return &Tool{
		Name:   "add",
		Schema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`),
		Execute: func(_ context.Context, _ *Context, args json.RawMessage) (json.RawMessage, error) {
			var in struct{ A, B float64 }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return json.Marshal(in.A + in.B)
		},
	}
}

func TestResolveNonYieldingToolProducesResult(t *testing.T) {
	sess := session.New("s1", "demo", nil)
	_, err := sess.AppendEvent(event.Event{Type: event.TypeInvocationStart, InvocationID: "inv-1"})
	require.NoError(t, err)

	eng := &Engine{Registry: Registry{"add": calcTool()}}
	outcomes, err := eng.Resolve(context.Background(), sess, "inv-1", []model.ToolCallRequest{
		{CallID: "call-1", Name: "add", Args: json.RawMessage(`{"a":1,"b":2}`)},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NotNil(t, outcomes[0].ResultEvent)
	res, ok := outcomes[0].ResultEvent.AsToolResult()
	require.True(t, ok)
	require.Empty(t, res.Error)
	require.JSONEq(t, "3", string(res.Result))
}

func TestResolveInvalidArgumentsRejectsWithoutExecuting(t *testing.T) {
	sess := session.New("s1", "demo", nil)
	_, err := sess.AppendEvent(event.Event{Type: event.TypeInvocationStart, InvocationID: "inv-1"})
	require.NoError(t, err)

	called := false
	bad := calcTool()
	bad.Execute = func(_ context.Context, _ *Context, _ json.RawMessage) (json.RawMessage, error) {
		called = true
		return nil, nil
	}
	eng := &Engine{Registry: Registry{"add": bad}}
	outcomes, err := eng.Resolve(context.Background(), sess, "inv-1", []model.ToolCallRequest{
		{CallID: "call-1", Name: "add", Args: json.RawMessage(`{"a":1}`)},
	})
	require.NoError(t, err)
	require.False(t, called)
	res, ok := outcomes[0].ResultEvent.AsToolResult()
	require.True(t, ok)
	require.NotEmpty(t, res.Error)
}

func TestResolveUnknownToolRejected(t *testing.T) {
	sess := session.New("s1", "demo", nil)
	eng := &Engine{Registry: Registry{}}
	outcomes, err := eng.Resolve(context.Background(), sess, "inv-1", []model.ToolCallRequest{
		{CallID: "call-1", Name: "missing"},
	})
	require.NoError(t, err)
	res, ok := outcomes[0].ResultEvent.AsToolResult()
	require.True(t, ok)
	require.Contains(t, res.Error, "unknown tool")
}

func TestResolveYieldingToolProducesYieldEvent(t *testing.T) {
	sess := session.New("s1", "demo", nil)
	yt := &Tool{
		Name:        "approve",
		YieldSchema: json.RawMessage(`{"type":"object"}`),
		Prepare: func(_ context.Context, _ *Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
		Finalize: func(_ context.Context, _ *Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		},
	}
	eng := &Engine{Registry: Registry{"approve": yt}}
	outcomes, err := eng.Resolve(context.Background(), sess, "inv-1", []model.ToolCallRequest{
		{CallID: "call-1", Name: "approve", Args: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)
	require.NotNil(t, outcomes[0].YieldEvent)
	require.Nil(t, outcomes[0].ResultEvent)
}

func TestResolveRunsMiddlewareAroundExecute(t *testing.T) {
	sess := session.New("s1", "demo", nil)
	var order []string
	mw := func(next ExecuteFunc) ExecuteFunc {
		return func(ctx context.Context, tc *Context, args json.RawMessage) (json.RawMessage, error) {
			order = append(order, "before")
			out, err := next(ctx, tc, args)
			order = append(order, "after")
			return out, err
		}
	}
	eng := &Engine{Registry: Registry{"add": calcTool()}, Middleware: []Middleware{mw}}
	outcomes, err := eng.Resolve(context.Background(), sess, "inv-1", []model.ToolCallRequest{
		{CallID: "call-1", Name: "add", Args: json.RawMessage(`{"a":1,"b":2}`)},
	})
	require.NoError(t, err)
	require.JSONEq(t, "3", string(mustResult(t, outcomes[0])))
	require.Equal(t, []string{"before", "after"}, order)
}

func TestResolveErrorHandlerFallbackSubstitutesResult(t *testing.T) {
	sess := session.New("s1", "demo", nil)
	failing := &Tool{
		Name:   "flaky",
		Schema: json.RawMessage(`{"type":"object"}`),
		Execute: func(context.Context, *Context, json.RawMessage) (json.RawMessage, error) {
			return nil, errs.New(errs.ToolFatal, "boom")
		},
	}
	eng := &Engine{
		Registry: Registry{"flaky": failing},
		ErrorHandlers: errs.Chain{
			{
				Name:      "fallback-on-fatal",
				Predicate: func(err error) bool { e, ok := err.(*errs.Error); return ok && e.Kind == errs.ToolFatal },
				Decide: func(context.Context, error) errs.Decision {
					return errs.Decision{Recovery: errs.RecoveryFallback, Fallback: "default"}
				},
			},
		},
	}
	outcomes, err := eng.Resolve(context.Background(), sess, "inv-1", []model.ToolCallRequest{
		{CallID: "call-1", Name: "flaky", Args: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)
	res, ok := outcomes[0].ResultEvent.AsToolResult()
	require.True(t, ok)
	require.Empty(t, res.Error)
	require.JSONEq(t, `"default"`, string(res.Result))
}

func TestResolveErrorHandlerSkipClearsError(t *testing.T) {
	sess := session.New("s1", "demo", nil)
	failing := &Tool{
		Name:   "flaky",
		Schema: json.RawMessage(`{"type":"object"}`),
		Retry:  errs.BackoffPolicy{MaxAttempts: 1},
		Execute: func(context.Context, *Context, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("boom")
		},
	}
	eng := &Engine{
		Registry: Registry{"flaky": failing},
		ErrorHandlers: errs.Chain{
			{Name: "skip-all", Predicate: func(error) bool { return true }, Decide: func(context.Context, error) errs.Decision {
				return errs.Decision{Recovery: errs.RecoverySkip}
			}},
		},
	}
	outcomes, err := eng.Resolve(context.Background(), sess, "inv-1", []model.ToolCallRequest{
		{CallID: "call-1", Name: "flaky", Args: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)
	res, ok := outcomes[0].ResultEvent.AsToolResult()
	require.True(t, ok)
	require.Empty(t, res.Error)
	require.JSONEq(t, "null", string(res.Result))
}

func mustResult(t *testing.T, oc Outcome) json.RawMessage {
	t.Helper()
	res, ok := oc.ResultEvent.AsToolResult()
	require.True(t, ok)
	return res.Result
}

func TestFinalizeCompletesYieldedCall(t *testing.T) {
	sess := session.New("s1", "demo", nil)
	yt := &Tool{
		Name:        "approve",
		YieldSchema: json.RawMessage(`{"type":"object"}`),
		Finalize: func(_ context.Context, _ *Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		},
	}
	eng := &Engine{Registry: Registry{"approve": yt}}
	re, err := eng.Finalize(context.Background(), sess, "inv-1", "call-1", "approve", json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	res, ok := re.AsToolResult()
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(res.Result))
}
