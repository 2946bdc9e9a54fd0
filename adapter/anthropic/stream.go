package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/flow/event"
	"goa.design/flow/model"
)

// drainStream reads every event off stream, forwarding text/thinking deltas
// to events as they arrive, and accumulates the canonical model.StepResult
// returned once the stream closes.
func drainStream(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string, modelName string, events chan<- model.StreamEvent) (model.StepResult, error) {
	acc := &resultAccumulator{
		toolBlocks: make(map[int]*toolBuffer),
		nameMap:    nameMap,
		modelName:  modelName,
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

// resultAccumulator folds the Anthropic SSE event sequence into the
// canonical StepResult: one assistant Message carrying the full text (when
// any text was produced), one ToolCallRequest per tool_use block, usage, and
// the mapped finish reason.
type resultAccumulator struct {
	text       strings.Builder
	toolBlocks map[int]*toolBuffer
	toolCalls  []model.ToolCallRequest
	usage      event.Usage
	stopReason string
	nameMap    map[string]string
	modelName  string
}

type toolBuffer struct {
	id        string
	name      string
	fragments strings.Builder
}

func (a *resultAccumulator) handle(ctx context.Context, ev sdk.MessageStreamEventUnion, events chan<- model.StreamEvent) error {
	switch e := ev.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := e.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			name := toolUse.Name
			if canonical, ok := a.nameMap[name]; ok {
				name = canonical
			}
			a.toolBlocks[int(e.Index)] = &toolBuffer{id: toolUse.ID, name: name}
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		switch d := e.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if d.Text == "" {
				return nil
			}
			a.text.WriteString(d.Text)
			return emit(ctx, events, model.StreamEvent{Kind: model.StreamAssistantDelta, Text: d.Text})
		case sdk.InputJSONDelta:
			if tb := a.toolBlocks[int(e.Index)]; tb != nil && d.PartialJSON != "" {
				tb.fragments.WriteString(d.PartialJSON)
			}
			return nil
		case sdk.ThinkingDelta:
			if d.Thinking == "" {
				return nil
			}
			return emit(ctx, events, model.StreamEvent{Kind: model.StreamThoughtDelta, Text: d.Thinking})
		default:
			return nil
		}
	case sdk.ContentBlockStopEvent:
		if tb := a.toolBlocks[int(e.Index)]; tb != nil {
			delete(a.toolBlocks, int(e.Index))
			a.toolCalls = append(a.toolCalls, model.ToolCallRequest{
				CallID: tb.id,
				Name:   tb.name,
				Args:   decodeToolArgs(tb.fragments.String()),
			})
		}
		return nil
	case sdk.MessageDeltaEvent:
		a.stopReason = string(e.Delta.StopReason)
		a.usage = event.Usage{
			InputTokens:  int(e.Usage.InputTokens),
			OutputTokens: int(e.Usage.OutputTokens),
			CachedTokens: int(e.Usage.CacheReadInputTokens),
		}
		return nil
	default:
		return nil
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
	return model.StepResult{
		StepEvents:   stepEvents,
		ToolCalls:    a.toolCalls,
		Terminal:     len(a.toolCalls) == 0,
		Usage:        a.usage,
		FinishReason: mapFinishReason(a.stopReason),
		ModelName:    a.modelName,
	}
}

func mapFinishReason(stopReason string) event.FinishReason {
	switch stopReason {
	case "max_tokens":
		return event.FinishLength
	case "tool_use":
		return event.FinishToolCalls
	case "end_turn", "stop_sequence", "":
		return event.FinishStop
	default:
		return event.FinishStop
	}
}

func decodeToolArgs(raw string) json.RawMessage {
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
