// Package model defines the provider-agnostic streaming step contract
// consumed by the agent step loop. The engine never inspects
// a provider's wire shapes; Adapter implementations (see adapter/anthropic,
// adapter/openai, adapter/bedrock) own serialising render.Context to their
// provider's request format and parsing the reply back into canonical
// Event-shaped results.
package model

import (
	"context"
	"encoding/json"

	"goa.design/flow/event"
)

// Config selects and configures the model used for one agent step.
type Config struct {
	// Provider identifies the adapter family (e.g. "anthropic", "openai",
	// "bedrock"). Used by fingerprint.Hash to include provider identity.
	Provider string
	// Name is the provider-specific model identifier (e.g.
	// "claude-sonnet-4-5-20250929").
	Name string
	// Temperature, MaxTokens are passed through verbatim to the adapter.
	Temperature float64
	MaxTokens   int
}

// StreamEventKind identifies the kind of incremental chunk an adapter emits
// while streaming: zero or more assistant_delta/thought_delta events lead up
// to the final StepResult.
type StreamEventKind string

const (
	StreamAssistantDelta StreamEventKind = "assistant_delta"
	StreamThoughtDelta   StreamEventKind = "thought_delta"
)

// StreamEvent is one incremental chunk forwarded to onStream subscribers
// while a model call is in flight. Deltas are never canonical: the
// canonical text is the assistant/thought event returned in
// StepResult.StepEvents once the call finishes.
type StreamEvent struct {
	Kind StreamEventKind
	Text string
}

// ToolCallRequest is one tool invocation the model asked for.
type ToolCallRequest struct {
	CallID string
	Name   string
	Args   json.RawMessage
}

// StepResult is returned once an Adapter.Step call finishes.
type StepResult struct {
	// StepEvents are the canonical thought/assistant events this step
	// produced, ready to append to the session's log. They hold no tool_call
	// events; the Tool Engine builds those from ToolCalls.
	StepEvents []event.Event
	// ToolCalls lists the tool calls the model requested, already parsed,
	// for the Tool Engine.
	ToolCalls []ToolCallRequest
	// Terminal is true when the model produced no tool calls — the agent
	// step loop should parse Output (if configured) and end.
	Terminal bool
	Usage    event.Usage
	FinishReason event.FinishReason
	ModelName    string
}

// Stream is returned by Adapter.Step: callers read incremental chunks from
// Events (closed when the call finishes) and then call Wait to obtain the
// canonical StepResult.
type Stream struct {
	Events <-chan StreamEvent
	wait   func(ctx context.Context) (StepResult, error)
}

// NewStream constructs a Stream from an events channel and a function that
// blocks until the underlying call finishes.
func NewStream(events <-chan StreamEvent, wait func(ctx context.Context) (StepResult, error)) *Stream {
	return &Stream{Events: events, wait: wait}
}

// Wait blocks until the step finishes (or ctx is cancelled) and returns the
// canonical result. Calling Wait before Events is closed is valid; Wait
// drains Events itself if the caller did not.
func (s *Stream) Wait(ctx context.Context) (StepResult, error) {
	return s.wait(ctx)
}

// Adapter is the streaming step contract consumed by the agent step loop.
// Implementations translate a rendered context to the
// provider's wire format, parse the reply, and surface structured tool
// calls; the engine never inspects provider-specific shapes.
//
// ctx carries cancellation: a parent invocation cancel propagates here,
// and in-flight calls must abort promptly.
type Adapter interface {
	// Step issues one model call. rendered is produced by render.Pipeline
	// and is a provider-agnostic view of messages/tools/schema; adapters
	// own the translation to their own request shape.
	Step(ctx context.Context, rendered RenderedInput, cfg Config) (*Stream, error)
}

// RenderedInput is the provider-agnostic input an Adapter consumes. It is
// the minimal projection of render.Context an adapter needs, decoupling
// this package from render (which in turn depends on session/event) so
// adapters do not need to import the renderer.
type RenderedInput struct {
	Messages     []event.RenderedMessage
	Tools        []ToolSchema
	ToolChoice   ToolChoice
	OutputSchema json.RawMessage
}

// ToolSchema is the minimal tool description an Adapter needs to advertise
// tool-use to the provider.
type ToolSchema struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ToolChoiceMode enumerates the forced tool-choice modes a renderer stage
// can set: auto, none, required, or a specific named tool.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNamed    ToolChoiceMode = "named"
)

// ToolChoice carries the forced tool-choice mode and, for ToolChoiceNamed,
// the specific tool name.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}
