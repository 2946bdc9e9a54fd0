package bedrock

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/flow/event"
	"goa.design/flow/model"
)

// drainStream reads every event off out's stream, forwarding assistant text
// deltas to events as they arrive, and accumulates the canonical
// model.StepResult returned once the stream closes.
func drainStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, modelName string, events chan<- model.StreamEvent) (model.StepResult, error) {
	stream := out.GetStream()
	defer stream.Close()

	acc := &resultAccumulator{modelName: modelName}
	eventChan := stream.Events()

	for {
		select {
		case <-ctx.Done():
			return model.StepResult{}, ctx.Err()
		case ev, ok := <-eventChan:
			if !ok {
				if err := stream.Err(); err != nil {
					return model.StepResult{}, err
				}
				return acc.finish(), nil
			}
			if err := acc.handle(ctx, ev, events); err != nil {
				return model.StepResult{}, err
			}
		}
	}
}

// resultAccumulator folds the Bedrock Converse event stream into the
// canonical StepResult. Tool use input arrives as partial JSON string
// fragments on ContentBlockDelta events and is finalized at
// ContentBlockStop, mirroring Anthropic's own block-indexed framing (Bedrock
// routes Claude models through the same content-block model under the
// Converse API).
type resultAccumulator struct {
	text         strings.Builder
	toolCall     *pendingToolCall
	toolCalls    []model.ToolCallRequest
	usage        event.Usage
	stopReason   string
	modelName    string
}

type pendingToolCall struct {
	id     string
	name   string
	args strings.Builder
}

func (a *resultAccumulator) handle(ctx context.Context, ev types.ConverseStreamOutput, events chan<- model.StreamEvent) error {
	switch v := ev.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		if toolUse, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			a.toolCall = &pendingToolCall{
				id:   aws.ToString(toolUse.Value.ToolUseId),
				name: aws.ToString(toolUse.Value.Name),
			}
		}
		return nil
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch delta := v.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			a.text.WriteString(delta.Value)
			return emit(ctx, events, model.StreamEvent{Kind: model.StreamAssistantDelta, Text: delta.Value})
		case *types.ContentBlockDeltaMemberToolUse:
			if a.toolCall != nil && delta.Value.Input != nil {
				a.toolCall.args.WriteString(*delta.Value.Input)
			}
			return nil
		}
		return nil
	case *types.ConverseStreamOutputMemberContentBlockStop:
		if a.toolCall != nil {
			a.toolCalls = append(a.toolCalls, model.ToolCallRequest{
				CallID: a.toolCall.id,
				Name:   a.toolCall.name,
				Args:   decodeArgs(a.toolCall.args.String()),
			})
			a.toolCall = nil
		}
		return nil
	case *types.ConverseStreamOutputMemberMessageStop:
		a.stopReason = string(v.Value.StopReason)
		return nil
	case *types.ConverseStreamOutputMemberMetadata:
		if u := v.Value.Usage; u != nil {
			a.usage = event.Usage{
				InputTokens:  int(aws.ToInt32(u.InputTokens)),
				OutputTokens: int(aws.ToInt32(u.OutputTokens)),
			}
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
	case "content_filtered":
		return event.FinishContentFilter
	case "end_turn", "stop_sequence", "":
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
