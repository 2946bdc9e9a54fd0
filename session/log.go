package session

import (
	"goa.design/flow/event"
)

// AppendEvent validates and appends e, assigning its ID and CreatedAt, and
// notifies subscribers. On success it returns the stored event
// (with ID/CreatedAt populated); the caller's e is not mutated in place so
// concurrent appenders never race on a shared pointer.
func (s *Session) AppendEvent(e event.Event) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(e)
}

func (s *Session) appendLocked(e event.Event) (*event.Event, error) {
	if e.InvocationID != "" && !s.openInvocations[e.InvocationID] && e.Type != event.TypeInvocationStart {
		return nil, ErrInvocationNotOpen(e.InvocationID)
	}

	switch e.Type {
	case event.TypeInvocationStart:
		s.openInvocations[e.InvocationID] = true
	case event.TypeInvocationEnd:
		delete(s.openInvocations, e.InvocationID)
	case event.TypeToolCall:
		if tc, ok := e.AsToolCall(); ok && tc.Yields {
			// Recorded as pending once the matching tool_yield lands, not
			// on tool_call itself: prepare runs first.
			_ = tc
		}
	case event.TypeToolYield:
		if ty, ok := e.AsToolYield(); ok {
			s.pendingByCall[ty.CallID] = PendingCall{
				CallID:       ty.CallID,
				Name:         ty.Name,
				InvocationID: e.InvocationID,
				Labels:       ty.Labels,
			}
		}
	case event.TypeToolInput:
		if ti, ok := e.AsToolInput(); ok {
			delete(s.pendingByCall, ti.CallID)
		}
	case event.TypeToolResult:
		if tr, ok := e.AsToolResult(); ok {
			if !s.hasToolCallLocked(tr.CallID) {
				return nil, ErrOrphanResult(tr.CallID)
			}
		}
	}

	e.ID = s.seq.Next()
	e.CreatedAt = nowFunc()
	s.events = append(s.events, &e)
	s.notifyLocked(&e)
	return &e, nil
}

// hasToolCallLocked checks global existence of a prior tool_call with this
// CallID. The stronger form of this check — the call must be within the
// same invocation or an ancestor — is enforced by supervisor.BuildTree,
// which has the parent/child edges this package does not track.
func (s *Session) hasToolCallLocked(callID string) bool {
	for _, e := range s.events {
		if e.Type == event.TypeToolCall {
			if tc, ok := e.AsToolCall(); ok && tc.CallID == callID {
				return true
			}
		}
	}
	return false
}

func (s *Session) notifyLocked(e *event.Event) {
	for _, ch := range s.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// AddMessage is a convenience wrapper that appends a user event.
func (s *Session) AddMessage(text string, invocationID string) (*event.Event, error) {
	return s.AppendEvent(event.Event{
		Type:         event.TypeUser,
		InvocationID: invocationID,
		Payload:      event.Message{Text: text},
	})
}

// AddToolInput validates that a matching tool_yield exists and callID is
// pending, then appends a tool_input event and removes callID from
// pendingYieldingCalls.
func (s *Session) AddToolInput(callID string, input []byte, requestedBy string) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, pending := s.pendingByCall[callID]
	if !pending {
		return nil, ErrUnknownPendingCall(callID)
	}

	return s.appendLocked(event.Event{
		Type:         event.TypeToolInput,
		InvocationID: pc.InvocationID,
		Payload: event.ToolInput{
			CallID:      callID,
			Input:       input,
			RequestedBy: requestedBy,
		},
	})
}
