// Package session implements the durable conversational container: an
// ordered event log, scoped state, lifecycle status, and the
// pendingYieldingCalls index. A Session is the unit of isolation — there is
// no global mutable state in the engine outside of it.
package session

import (
	"sync"
	"time"

	"goa.design/flow/event"
	"goa.design/flow/state"
)

// Status is the Session's lifecycle state.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusRunning        Status = "running"
	StatusAwaitingInput  Status = "awaiting_input"
	StatusCompleted      Status = "completed"
	StatusError          Status = "error"
)

// PendingCall is one entry in the pendingYieldingCalls index: a yielding
// tool_call with no matching tool_input yet.
type PendingCall struct {
	CallID       string
	Name         string
	InvocationID string
	Labels       map[string]string
}

// Session owns an append-only event log, scoped state, and lifecycle status
// for one conversation/run. All mutation goes through its exported methods;
// there is no public way to splice or reorder the log.
type Session struct {
	mu sync.Mutex

	id      string
	appName string
	version string

	seq    *event.Sequencer
	events []*event.Event

	state *state.Store

	status Status

	// pendingByCall indexes pendingYieldingCalls by CallID. Rebuilt whenever
	// the log is loaded from storage (see Load), and maintained
	// incrementally by appendLocked.
	pendingByCall map[string]PendingCall
	// openInvocations tracks invocations with a start but no terminal event
	// yet (end, or yield not yet resumed), so appendEvent can validate that
	// InvocationID refers to an open invocation or the pre-invocation zone.
	openInvocations map[string]bool

	subscribers []chan *event.Event
}

// New creates a fresh, empty Session.
func New(id, appName string, schema state.Schema) *Session {
	return &Session{
		id:              id,
		appName:         appName,
		seq:             event.NewSequencer(),
		state:           state.New(schema),
		status:          StatusIdle,
		pendingByCall:   make(map[string]PendingCall),
		openInvocations: make(map[string]bool),
	}
}

// ID returns the session's durable identifier.
func (s *Session) ID() string { return s.id }

// AppName returns the owning application's name.
func (s *Session) AppName() string { return s.appName }

// Version returns the session schema version, if any.
func (s *Session) Version() string { return s.version }

// SetVersion sets the session schema version (used when loading a session
// whose root invocation_start recorded one).
func (s *Session) SetVersion(v string) { s.version = v }

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the session's lifecycle status. Status transitions
// are serialised by the same lock as event appends and state writes: only
// one mutation task runs at a time within a session.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// State returns the session's state store. Callers must hold no assumptions
// about concurrent access beyond the fact that the supervisor serialises
// all mutation within one session.
func (s *Session) State() *state.Store { return s.state }

// Events returns a snapshot (read-only copy) of the event log.
func (s *Session) Events() []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// PendingCalls returns a snapshot of the pendingYieldingCalls index.
func (s *Session) PendingCalls() []PendingCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingCall, 0, len(s.pendingByCall))
	for _, pc := range s.pendingByCall {
		out = append(out, pc)
	}
	return out
}

// IsPending reports whether callID is currently pending.
func (s *Session) IsPending(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pendingByCall[callID]
	return ok
}

// Subscribe registers a channel that receives every event appended from this
// point forward, in append order. The engine buffers in memory and forwards
// to subscribers with no backpressure to the provider: delivery to a full
// channel is dropped rather than blocking the appender — callers that
// cannot tolerate drops should size ch generously or drain it promptly.
func (s *Session) Subscribe(ch chan *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, ch)
}

func nowFunc() time.Time { return time.Now() }
