package supervisor

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/flow/errs"
	"goa.design/flow/event"
	"goa.design/flow/handoff"
	"goa.design/flow/model"
	"goa.design/flow/runnable"
	"goa.design/flow/runresult"
	"goa.design/flow/session"
	"goa.design/flow/tool"
)

// stepAgentLoop drives one Agent's step loop: render context, call the
// model, resolve any tool calls, and repeat until the model produces a
// terminal response or EffectiveMaxIterations is reached.
func (sv *Supervisor) stepAgentLoop(ctx context.Context, sess *session.Session, a *runnable.Agent, invocationID string, startStepIndex int) (outcome, error) {
	engine := sv.buildToolEngine(a)

	for stepIndex := startStepIndex; ; stepIndex++ {
		if stepIndex >= a.EffectiveMaxIterations() {
			return outcome{signal: runnable.Complete(nil), endReason: event.EndMaxIterations}, nil
		}
		if a.Hooks.OnStepStart != nil {
			a.Hooks.OnStepStart(stepIndex)
		}

		reportPhase(ctx, runresult.PhaseRendering)
		draft, err := a.Context.Render(ctx, sess, invocationID, a.Name(), toolSchemas(a.Tools))
		if err != nil {
			return outcome{}, err
		}
		if a.ToolChoice != nil {
			draft.ToolChoice = *a.ToolChoice
		}
		rendered := draft.ToRenderedInput()

		if _, err := sess.AppendEvent(event.Event{
			Type:         event.TypeModelStart,
			InvocationID: invocationID,
			Payload: event.ModelStart{
				Messages:     rendered.Messages,
				Tools:        a.ToolNames(),
				OutputSchema: rendered.OutputSchema,
				StepIndex:    stepIndex,
			},
		}); err != nil {
			return outcome{}, err
		}

		adapter, ok := sv.Adapters[a.Model.Provider]
		if !ok {
			return outcome{}, errs.Newf(errs.ModelFatal, "no adapter registered for provider %q", a.Model.Provider)
		}

		reportPhase(ctx, runresult.PhaseStreaming)
		result, stepErr := sv.runModelStep(ctx, sess, invocationID, adapter, rendered, a.Model)

		if a.Hooks.OnStepEnd != nil {
			a.Hooks.OnStepEnd(stepIndex)
		}

		if stepErr != nil {
			if _, eerr := sess.AppendEvent(event.Event{
				Type:         event.TypeModelEnd,
				InvocationID: invocationID,
				Payload:      event.ModelEnd{FinishReason: event.FinishError, Error: stepErr.Error(), ModelName: a.Model.Name},
			}); eerr != nil {
				return outcome{}, eerr
			}
			return outcome{}, stepErr
		}

		for _, se := range result.StepEvents {
			se.InvocationID = invocationID
			if _, err := sess.AppendEvent(se); err != nil {
				return outcome{}, err
			}
		}
		if _, err := sess.AppendEvent(event.Event{
			Type:         event.TypeModelEnd,
			InvocationID: invocationID,
			Payload: event.ModelEnd{
				Usage:        result.Usage,
				FinishReason: result.FinishReason,
				ModelName:    result.ModelName,
			},
		}); err != nil {
			return outcome{}, err
		}

		if result.Terminal {
			output, perr := parseOutput(a, result)
			if perr != nil {
				return outcome{signal: runnable.Fail(perr)}, nil
			}
			return outcome{signal: runnable.Complete(output)}, nil
		}

		reportPhase(ctx, runresult.PhaseResolvingTool)
		toolOut, err := sv.resolveToolBatch(ctx, sess, engine, invocationID, result.ToolCalls)
		if err != nil {
			return outcome{}, err
		}
		if toolOut.yielded {
			return toolOut, nil
		}
	}
}

// runModelStep issues one adapter call, forwarding streamed deltas to the
// session as trace events, and returns the canonical StepResult once the
// call finishes. Retry/failover for ModelTransient failures is the
// adapter's own responsibility; the supervisor surfaces whatever the
// adapter ultimately returns.
func (sv *Supervisor) runModelStep(ctx context.Context, sess *session.Session, invocationID string, adapter model.Adapter, rendered model.RenderedInput, cfg model.Config) (model.StepResult, error) {
	stream, err := adapter.Step(ctx, rendered, cfg)
	if err != nil {
		return model.StepResult{}, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for se := range stream.Events {
			var typ event.Type
			switch se.Kind {
			case model.StreamAssistantDelta:
				typ = event.TypeAssistantDelta
			case model.StreamThoughtDelta:
				typ = event.TypeThoughtDelta
			default:
				continue
			}
			_, _ = sess.AppendEvent(event.Event{Type: typ, InvocationID: invocationID, Payload: event.Delta{Text: se.Text}})
		}
	}()

	result, err := stream.Wait(ctx)
	<-done
	return result, err
}

// resolveToolBatch runs one agent step's tool calls through the Tool
// Engine, appends every produced event, follows tool-level transfers, and
// reports whether the invocation must now yield.
func (sv *Supervisor) resolveToolBatch(ctx context.Context, sess *session.Session, engine *tool.Engine, invocationID string, calls []model.ToolCallRequest) (outcome, error) {
	outcomes, err := engine.Resolve(ctx, sess, invocationID, calls)
	if err != nil {
		return outcome{}, err
	}

	var pendingCallIDs []string
	for _, oc := range outcomes {
		if oc.ToolCallEvent.Type != "" {
			if _, err := sess.AppendEvent(oc.ToolCallEvent); err != nil {
				return outcome{}, err
			}
		}
		if oc.YieldEvent != nil {
			if _, err := sess.AppendEvent(*oc.YieldEvent); err != nil {
				return outcome{}, err
			}
			pendingCallIDs = append(pendingCallIDs, oc.CallID)
			continue
		}
		if oc.Transfer != nil {
			// A tool's execute/finalize reported a transfer target: the
			// supervisor calls it synchronously and records the CallResult
			// as this call's semantic tool_result, distinct from a
			// top-level agent transfer.
			re, err := sv.toolTransferResult(ctx, oc, invocationID)
			if err != nil {
				return outcome{}, err
			}
			if _, err := sess.AppendEvent(*re); err != nil {
				return outcome{}, err
			}
			continue
		}
		if oc.ResultEvent != nil {
			if _, err := sess.AppendEvent(*oc.ResultEvent); err != nil {
				return outcome{}, err
			}
		}
	}
	if len(pendingCallIDs) > 0 {
		return outcome{yielded: true, pendingCallIDs: pendingCallIDs}, nil
	}
	return outcome{}, nil
}

// toolTransferResult runs a tool call's Transfer target via Call and
// projects the result into the tool_result event the call's outcome is
// recorded as.
func (sv *Supervisor) toolTransferResult(ctx context.Context, oc tool.Outcome, invocationID string) (*event.Event, error) {
	cr, err := sv.Call(ctx, oc.Transfer, handoff.Options{})
	res := event.ToolResult{CallID: oc.CallID}
	if tc, ok := oc.ToolCallEvent.AsToolCall(); ok {
		res.Name = tc.Name
	}
	if err != nil {
		res.Error = err.Error()
		if ee, ok := err.(*errs.Error); ok {
			res.ErrorKind = string(ee.Kind)
		}
	} else {
		out, merr := json.Marshal(cr.Output)
		if merr != nil {
			res.Error = merr.Error()
		} else {
			res.Result = out
		}
	}
	re := event.Event{Type: event.TypeToolResult, InvocationID: invocationID, Payload: res}
	return &re, nil
}

// parseOutput extracts an Agent's structured output from its terminal
// StepResult, according to a.Output.Mode. A nil a.Output means the agent
// has no structured output contract: the raw terminal assistant text (if
// any) is returned verbatim.
func parseOutput(a *runnable.Agent, result model.StepResult) (any, error) {
	if a.Output == nil {
		return terminalText(result), nil
	}
	switch a.Output.Mode {
	case runnable.OutputModeTool:
		return parseToolOutput(a, result)
	default:
		return parseJSONOutput(a, terminalText(result))
	}
}

func terminalText(result model.StepResult) string {
	for i := len(result.StepEvents) - 1; i >= 0; i-- {
		if result.StepEvents[i].Type == event.TypeAssistant {
			if m, ok := result.StepEvents[i].AsMessage(); ok {
				return m.Text
			}
		}
	}
	return ""
}

// parseToolOutput handles OutputModeTool: the model is expected to report
// its structured output as a call to a reserved tool rather than free
// text. Its arguments are decoded from JSON and returned as they are; they
// are not validated against any schema.
const outputToolName = "report_output"

func parseToolOutput(a *runnable.Agent, result model.StepResult) (any, error) {
	for _, tc := range result.ToolCalls {
		if tc.Name == outputToolName {
			var v any
			if err := json.Unmarshal(tc.Args, &v); err != nil {
				return nil, errs.Wrap(errs.OutputParse, "agent "+a.Name()+": malformed "+outputToolName+" arguments", err)
			}
			return v, nil
		}
	}
	return nil, errs.Newf(errs.OutputParse, "agent %q: terminal step carried no %s call", a.Name(), outputToolName)
}

func parseJSONOutput(a *runnable.Agent, text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, errs.Wrap(errs.OutputParse, "agent "+a.Name()+": terminal output is not valid JSON", err)
	}
	if len(a.Output.Schema) > 0 {
		compiler := jsonschema.NewCompiler()
		var doc any
		if err := json.Unmarshal(a.Output.Schema, &doc); err != nil {
			return nil, errs.Wrap(errs.OutputParse, "agent "+a.Name()+": invalid output schema", err)
		}
		name := a.Name() + ":output"
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, errs.Wrap(errs.OutputParse, "agent "+a.Name()+": invalid output schema", err)
		}
		compiled, err := compiler.Compile(name)
		if err != nil {
			return nil, errs.Wrap(errs.OutputParse, "agent "+a.Name()+": invalid output schema", err)
		}
		if err := compiled.Validate(v); err != nil {
			return nil, errs.Wrap(errs.OutputParse, "agent "+a.Name()+": output does not match schema", err)
		}
	}
	return v, nil
}
