package openai

import (
	"context"
	"encoding/json"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"goa.design/flow/event"
	"goa.design/flow/model"
)

// drainStream reads every chunk off stream, forwarding assistant text
// deltas to events as they arrive, and accumulates the canonical
// model.StepResult returned once the stream closes.
func drainStream(ctx context.Context, stream *ssestream.Stream[oai.ChatCompletionChunk], modelName string, events chan<- model.StreamEvent) (model.StepResult, error) {
	acc := &resultAccumulator{
		toolCalls: make(map[int64]*toolCallBuffer),
		modelName: modelName,
	}
	defer stream.Close()

	for stream.Next() {
		select {
		case <-ctx.Done():
			return model.StepResult{}, ctx.Err()
		default:
		}
		if err := acc.handle(ctx, stream.Current(), events); err != nil {
			return model.StepResult{}, err
		}
	}
	if err := stream.Err(); err != nil {
		return model.StepResult{}, err
	}
	return acc.finish(), nil
}

// resultAccumulator folds the OpenAI Chat Completions chunk stream into the
// canonical StepResult. Tool call fragments arrive keyed by their position
// in the Delta.ToolCalls slice (Index), not by a stable id: the id and
// function name are only guaranteed present on the first chunk mentioning
// that index, so the buffer is keyed by index and carries whatever id/name
// it has seen so far.
type resultAccumulator struct {
	text         strings.Builder
	toolCalls    map[int64]*toolCallBuffer
	order        []int64
	usage        event.Usage
	finishReason string
	modelName    string
}

type toolCallBuffer struct {
	id   string
	name string
	args strings.Builder
}

func (a *resultAccumulator) handle(ctx context.Context, chunk oai.ChatCompletionChunk, events chan<- model.StreamEvent) error {
	if len(chunk.Choices) == 0 {
		a.recordUsage(chunk)
		return nil
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		a.finishReason = choice.FinishReason
	}
	if choice.Delta.Content != "" {
		a.text.WriteString(choice.Delta.Content)
		if err := emit(ctx, events, model.StreamEvent{Kind: model.StreamAssistantDelta, Text: choice.Delta.Content}); err != nil {
			return err
		}
	}
	for _, tc := range choice.Delta.ToolCalls {
		buf, ok := a.toolCalls[tc.Index]
		if !ok {
			buf = &toolCallBuffer{}
			a.toolCalls[tc.Index] = buf
			a.order = append(a.order, tc.Index)
		}
		if tc.ID != "" {
			buf.id = tc.ID
		}
		if tc.Function.Name != "" {
			buf.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			buf.args.WriteString(tc.Function.Arguments)
		}
	}
	a.recordUsage(chunk)
	return nil
}

func (a *resultAccumulator) recordUsage(chunk oai.ChatCompletionChunk) {
	if chunk.Usage.TotalTokens == 0 && chunk.Usage.PromptTokens == 0 && chunk.Usage.CompletionTokens == 0 {
		return
	}
	a.usage = event.Usage{
		InputTokens:  int(chunk.Usage.PromptTokens),
		OutputTokens: int(chunk.Usage.CompletionTokens),
	}
}

func (a *resultAccumulator) finish() model.StepResult {
	var stepEvents []event.Event
	if a.text.Len() > 0 {
		stepEvents = append(stepEvents, event.Event{
			Type:    event.TypeAssistant,
			Payload: event.Message{Text: a.text.String()},
		})
	}
	var calls []model.ToolCallRequest
	for _, idx := range a.order {
		buf := a.toolCalls[idx]
		calls = append(calls, model.ToolCallRequest{
			CallID: buf.id,
			Name:   buf.name,
			Args:   decodeArgs(buf.args.String()),
		})
	}
	return model.StepResult{
		StepEvents:   stepEvents,
		ToolCalls:    calls,
		Terminal:     len(calls) == 0,
		Usage:        a.usage,
		FinishReason: mapFinishReason(a.finishReason),
		ModelName:    a.modelName,
	}
}

func mapFinishReason(reason string) event.FinishReason {
	switch reason {
	case "length":
		return event.FinishLength
	case "tool_calls", "function_call":
		return event.FinishToolCalls
	case "content_filter":
		return event.FinishContentFilter
	case "stop", "":
		return event.FinishStop
	default:
		return event.FinishStop
	}
}

func decodeArgs(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(trimmed)
}

func emit(ctx context.Context, events chan<- model.StreamEvent, se model.StreamEvent) error {
	select {
	case events <- se:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
