// Package event defines the immutable, append-only event record that backs
// every Session's history. Events are the canonical record of a run: the
// Context Renderer projects a subset of them into model input, and the
// Supervisor replays them to rebuild the invocation tree and session state.
package event

import "time"

// Type identifies the kind of fact an Event records.
type Type string

// Event kinds. Every Event's Payload type is determined by Type; see
// payloads.go for the per-kind payload and its As* accessor.
const (
	TypeUser             Type = "user"
	TypeAssistant        Type = "assistant"
	TypeSystem           Type = "system"
	TypeThought          Type = "thought"
	TypeToolCall         Type = "tool_call"
	TypeToolResult       Type = "tool_result"
	TypeToolYield        Type = "tool_yield"
	TypeToolInput        Type = "tool_input"
	TypeStateChange      Type = "state_change"
	TypeModelStart       Type = "model_start"
	TypeModelEnd         Type = "model_end"
	TypeInvocationStart  Type = "invocation_start"
	TypeInvocationEnd    Type = "invocation_end"
	TypeInvocationYield  Type = "invocation_yield"
	TypeInvocationResume Type = "invocation_resume"
	TypeAssistantDelta   Type = "assistant_delta"
	TypeThoughtDelta     Type = "thought_delta"
)

// ID is an opaque, strictly ordered token. Within one Session, an Event's ID
// compares greater than any previously issued Event's ID. IDs are assigned by
// the Session (never by callers) so ordering is centrally enforced.
type ID string

// Event is an immutable record appended to a Session's event log.
//
// Every field except ID, CreatedAt, Type, and InvocationID is carried inside
// the type-specific Payload (see payloads.go); Event itself only holds the
// envelope common to all kinds.
type Event struct {
	// ID is assigned by the Session at append time. It is the ordering
	// authority: a higher ID never precedes a lower one in the log.
	ID ID
	// CreatedAt is a monotonic wall-clock timestamp for display purposes only;
	// the log's position (ID order), not CreatedAt, is authoritative for
	// ordering.
	CreatedAt time.Time
	// Type identifies which payload this event carries.
	Type Type
	// InvocationID is the invocation this event belongs to. Empty only for
	// the pre-invocation zone: user/system messages appended before any
	// invocation has opened (e.g. the initial run input).
	InvocationID string
	// Payload is the type-specific body. Callers type-switch on Type to pick
	// the concrete payload accessor (see payloads.go), or use the As* helpers.
	Payload any
}

// Message carries a textual turn (user, assistant, system, thought).
type Message struct {
	// Text is the rendered content. Empty for opaque thought events that
	// only carry provider-internal context.
	Text string
	// Opaque carries provider-internal context (encrypted content or a
	// signature) for thought events the engine must round-trip but never
	// interpret.
	Opaque []byte
}

// AsMessage returns the Message payload and true if e carries one.
func (e *Event) AsMessage() (Message, bool) {
	m, ok := e.Payload.(Message)
	return m, ok
}
