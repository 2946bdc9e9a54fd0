package supervisor

import (
	"context"
	"encoding/json"
	"sync"

	"goa.design/flow/event"
	"goa.design/flow/model"
)

// scriptedAdapter replays a fixed sequence of StepResults (or errors), one
// per call to Step, in order. It never inspects RenderedInput: tests assert
// behavior from the supervisor's side of the contract, not wire shape.
type scriptedAdapter struct {
	mu    sync.Mutex
	steps []model.StepResult
	errs  []error
	calls int
}

func (a *scriptedAdapter) Step(ctx context.Context, rendered model.RenderedInput, cfg model.Config) (*model.Stream, error) {
	a.mu.Lock()
	idx := a.calls
	a.calls++
	a.mu.Unlock()

	ch := make(chan model.StreamEvent)
	close(ch)
	return model.NewStream(ch, func(context.Context) (model.StepResult, error) {
		if idx < len(a.errs) && a.errs[idx] != nil {
			return model.StepResult{}, a.errs[idx]
		}
		if idx >= len(a.steps) {
			return model.StepResult{Terminal: true}, nil
		}
		return a.steps[idx], nil
	}), nil
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// assistantStep builds a terminal (or non-terminal) StepResult carrying a
// single assistant message, mirroring what an Adapter returns once a model
// call finishes producing free text.
func assistantStep(text string, terminal bool) model.StepResult {
	return model.StepResult{
		StepEvents: []event.Event{
			{Type: event.TypeAssistant, Payload: event.Message{Text: text}},
		},
		Terminal:     terminal,
		FinishReason: event.FinishStop,
		ModelName:    "scripted-model",
	}
}

// toolCallStep builds a non-terminal StepResult requesting one tool call.
// The tool_call event itself is left to the Tool Engine to produce (it
// constructs its own Outcome.ToolCallEvent); ToolCalls is all the agent
// loop's resolveToolBatch consults.
func toolCallStep(callID, name string, args json.RawMessage) model.StepResult {
	return model.StepResult{
		ToolCalls:    []model.ToolCallRequest{{CallID: callID, Name: name, Args: args}},
		Terminal:     false,
		FinishReason: event.FinishToolCalls,
		ModelName:    "scripted-model",
	}
}
