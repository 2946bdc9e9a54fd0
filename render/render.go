// Package render implements the Context Renderer: a pipeline of pure
// stages that project a Session's events, tools, and schema into a
// model-ready Context.
package render

import (
	"context"
	"encoding/json"

	"goa.design/flow/event"
	"goa.design/flow/model"
	"goa.design/flow/session"
)

// HistoryScope controls which prior events IncludeHistory includes.
type HistoryScope string

const (
	// ScopeAll includes every event in the log.
	ScopeAll HistoryScope = "all"
	// ScopeInvocation includes only events carrying the current
	// invocationId or one of its descendants, plus events that carry no
	// invocationId at all.
	ScopeInvocation HistoryScope = "invocation"
	// ScopeSession is an alias for ScopeAll kept for readability at call
	// sites that mean "the whole session".
	ScopeSession HistoryScope = "session"
)

// Context is the mutable draft a Stage receives, and the final projection
// consumed by a model.Adapter.
type Context struct {
	InvocationID string
	AgentName    string
	// Events is the ordered list of events the stages have selected/built
	// for the model to see.
	Events []*event.Event
	// Tools is the full candidate tool set for this agent.
	Tools []model.ToolSchema
	// AllowedTools, when non-nil, restricts Tools to this subset of names
	// (set by limitTools).
	AllowedTools []string
	ToolChoice   model.ToolChoice
	OutputSchema json.RawMessage
	// Agent carries an opaque, caller-defined value stages can stash
	// agent-specific context in.
	Agent any
}

// EffectiveTools returns Tools filtered by AllowedTools when set.
func (c *Context) EffectiveTools() []model.ToolSchema {
	if c.AllowedTools == nil {
		return c.Tools
	}
	allowed := make(map[string]bool, len(c.AllowedTools))
	for _, n := range c.AllowedTools {
		allowed[n] = true
	}
	out := make([]model.ToolSchema, 0, len(c.Tools))
	for _, t := range c.Tools {
		if allowed[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// ToRenderedInput projects Context into the minimal shape model.Adapter
// implementations consume, decoupling adapters from this package.
func (c *Context) ToRenderedInput() model.RenderedInput {
	msgs := make([]event.RenderedMessage, 0, len(c.Events))
	for _, e := range c.Events {
		if m, ok := e.AsMessage(); ok {
			msgs = append(msgs, event.RenderedMessage{Role: string(e.Type), Text: m.Text})
		}
	}
	tools := c.EffectiveTools()
	return model.RenderedInput{
		Messages:     msgs,
		Tools:        tools,
		ToolChoice:   c.ToolChoice,
		OutputSchema: c.OutputSchema,
	}
}

// StageFunc is one pure transformation applied to a draft Context, given the
// current Session for read access to events/state.
type StageFunc func(ctx context.Context, draft *Context, sess *session.Session) error

// Stage pairs a StageFunc with the name the fingerprint package hashes to
// detect pipeline-shape changes across a resume. The factories in
// stages.go are the only supported way to construct one, so every Stage in
// practice carries a stable, recognisable Name.
type Stage struct {
	Name string
	Fn   StageFunc
}

// Pipeline is an ordered sequence of Stages, applied in declaration order.
type Pipeline []Stage

// Render runs the pipeline over sess, seeding the draft with the
// invocation/agent identity and starting tool set, and returns the final
// Context.
func (p Pipeline) Render(ctx context.Context, sess *session.Session, invocationID, agentName string, tools []model.ToolSchema) (*Context, error) {
	draft := &Context{
		InvocationID: invocationID,
		AgentName:    agentName,
		Tools:        tools,
		ToolChoice:   model.ToolChoice{Mode: model.ToolChoiceAuto},
	}
	for _, stage := range p {
		if err := stage.Fn(ctx, draft, sess); err != nil {
			return nil, err
		}
	}
	return draft, nil
}

// StageNames returns each stage's declared Name, in pipeline order.
func (p Pipeline) StageNames() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = s.Name
	}
	return out
}
