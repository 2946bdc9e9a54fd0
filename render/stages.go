package render

import (
	"context"
	"encoding/json"

	"goa.design/flow/event"
	"goa.design/flow/model"
	"goa.design/flow/session"
)

// InjectSystemMessage prepends a system event built from text or, when fn is
// non-nil, from fn(sess).
func InjectSystemMessage(text string, fn func(sess *session.Session) string) Stage {
	return Stage{
		Name: "injectSystemMessage",
		Fn: func(_ context.Context, draft *Context, sess *session.Session) error {
			t := text
			if fn != nil {
				t = fn(sess)
			}
			e := &event.Event{Type: event.TypeSystem, Payload: event.Message{Text: t}}
			draft.Events = append([]*event.Event{e}, draft.Events...)
			return nil
		},
	}
}

// InjectUserMessage appends a user event built from text or fn(sess).
func InjectUserMessage(text string, fn func(sess *session.Session) string) Stage {
	return Stage{
		Name: "injectUserMessage",
		Fn: func(_ context.Context, draft *Context, sess *session.Session) error {
			t := text
			if fn != nil {
				t = fn(sess)
			}
			draft.Events = append(draft.Events, &event.Event{Type: event.TypeUser, Payload: event.Message{Text: t}})
			return nil
		},
	}
}

// descendants returns the set of invocationIDs under root (root included),
// derived purely from invocation_start.ParentInvocationID in the log —
// render does not depend on supervisor's materialised tree.
func descendants(events []*event.Event, root string) map[string]bool {
	children := make(map[string][]string)
	for _, e := range events {
		if e.Type != event.TypeInvocationStart {
			continue
		}
		if is, ok := e.AsInvocationStart(); ok && is.ParentInvocationID != "" {
			children[is.ParentInvocationID] = append(children[is.ParentInvocationID], e.InvocationID)
		}
	}
	set := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range children[id] {
			if !set[c] {
				set[c] = true
				queue = append(queue, c)
			}
		}
	}
	return set
}

// IncludeHistory includes prior events filtered by scope.
func IncludeHistory(scope HistoryScope) Stage {
	return Stage{
		Name: "includeHistory:" + string(scope),
		Fn: func(_ context.Context, draft *Context, sess *session.Session) error {
			all := sess.Events()
			if scope == ScopeAll || scope == ScopeSession {
				draft.Events = append(draft.Events, all...)
				return nil
			}
			allowed := descendants(all, draft.InvocationID)
			for _, e := range all {
				if e.InvocationID == "" || allowed[e.InvocationID] {
					draft.Events = append(draft.Events, e)
				}
			}
			return nil
		},
	}
}

// WrapUserMessages rewrites every user-role event's text via fn in place.
func WrapUserMessages(fn func(text string) string) Stage {
	return Stage{
		Name: "wrapUserMessages",
		Fn: func(_ context.Context, draft *Context, _ *session.Session) error {
			for _, e := range draft.Events {
				if e.Type != event.TypeUser {
					continue
				}
				if m, ok := e.AsMessage(); ok {
					e.Payload = event.Message{Text: fn(m.Text), Opaque: m.Opaque}
				}
			}
			return nil
		},
	}
}

// EnrichUserMessages appends annotation text produced by fn to every
// user-role event, without replacing the original content.
func EnrichUserMessages(fn func(text string) string) Stage {
	return Stage{
		Name: "enrichUserMessages",
		Fn: func(_ context.Context, draft *Context, _ *session.Session) error {
			for _, e := range draft.Events {
				if e.Type != event.TypeUser {
					continue
				}
				if m, ok := e.AsMessage(); ok {
					annotation := fn(m.Text)
					if annotation == "" {
						continue
					}
					e.Payload = event.Message{Text: m.Text + "\n" + annotation, Opaque: m.Opaque}
				}
			}
			return nil
		},
	}
}

// dropEvents removes every event e for which pred(e) is true, preserving
// order of the rest.
func dropEvents(draft *Context, pred func(*event.Event) bool) {
	kept := draft.Events[:0]
	for _, e := range draft.Events {
		if !pred(e) {
			kept = append(kept, e)
		}
	}
	draft.Events = kept
}

// PruneReasoning drops thought/thought_delta events.
func PruneReasoning() Stage {
	return Stage{
		Name: "pruneReasoning",
		Fn: func(_ context.Context, draft *Context, _ *session.Session) error {
			dropEvents(draft, func(e *event.Event) bool {
				return e.Type == event.TypeThought || e.Type == event.TypeThoughtDelta
			})
			return nil
		},
	}
}

// PruneUserMessages drops user events matching pred, or all user events when
// pred is nil.
func PruneUserMessages(pred func(text string) bool) Stage {
	return Stage{
		Name: "pruneUserMessages",
		Fn: func(_ context.Context, draft *Context, _ *session.Session) error {
			dropEvents(draft, func(e *event.Event) bool {
				if e.Type != event.TypeUser {
					return false
				}
				if pred == nil {
					return true
				}
				m, _ := e.AsMessage()
				return pred(m.Text)
			})
			return nil
		},
	}
}

// ExcludeChildInvocationEvents drops every event belonging to a descendant
// of the current invocation, keeping only this invocation's own events plus
// the pre-invocation zone.
func ExcludeChildInvocationEvents() Stage {
	return Stage{
		Name: "excludeChildInvocationEvents",
		Fn: func(_ context.Context, draft *Context, sess *session.Session) error {
			own := descendants(sess.Events(), draft.InvocationID)
			dropEvents(draft, func(e *event.Event) bool {
				return e.InvocationID != "" && e.InvocationID != draft.InvocationID && own[e.InvocationID]
			})
			return nil
		},
	}
}

// ExcludeChildInvocationInstructions drops only the system/instruction
// events of descendant invocations, keeping their user/assistant turns
// visible.
func ExcludeChildInvocationInstructions() Stage {
	return Stage{
		Name: "excludeChildInvocationInstructions",
		Fn: func(_ context.Context, draft *Context, sess *session.Session) error {
			own := descendants(sess.Events(), draft.InvocationID)
			dropEvents(draft, func(e *event.Event) bool {
				if e.Type != event.TypeSystem {
					return false
				}
				return e.InvocationID != "" && e.InvocationID != draft.InvocationID && own[e.InvocationID]
			})
			return nil
		},
	}
}

// LimitTools reduces the tool set to names for which predicate returns true.
func LimitTools(predicate func(name string) bool) Stage {
	return Stage{
		Name: "limitTools",
		Fn: func(_ context.Context, draft *Context, _ *session.Session) error {
			var allowed []string
			for _, t := range draft.Tools {
				if predicate(t.Name) {
					allowed = append(allowed, t.Name)
				}
			}
			draft.AllowedTools = allowed
			return nil
		},
	}
}

// SetToolChoice forces the tool-choice mode.
func SetToolChoice(choice model.ToolChoice) Stage {
	return Stage{
		Name: "setToolChoice",
		Fn: func(_ context.Context, draft *Context, _ *session.Session) error {
			draft.ToolChoice = choice
			return nil
		},
	}
}

// RenderSchema sets the requested structured-output schema.
func RenderSchema(schema json.RawMessage) Stage {
	return Stage{
		Name: "renderSchema",
		Fn: func(_ context.Context, draft *Context, _ *session.Session) error {
			draft.OutputSchema = schema
			return nil
		},
	}
}
