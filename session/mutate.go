package session

import (
	"goa.design/flow/event"
	"goa.design/flow/state"
)

// WriteState writes one key in scope through the session's Store and, if the
// write produced a change, appends the corresponding state_change event.
// invocationID attributes the change to the invocation in progress, or may
// be empty for system-level writes outside any invocation.
func (s *Session) WriteState(invocationID, scope, key string, value any, source string) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.state.Write(scope, key, value, source)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return s.appendLocked(stateChangeEvent(invocationID, []state.Change{*c}))
}

// UpdateState applies a batch of assignments atomically through the
// session's Store and appends one state_change event carrying every
// committed entry.
func (s *Session) UpdateState(invocationID, scope string, changes []state.KeyValue, source string) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, err := s.state.Update(scope, changes, source)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, nil
	}
	return s.appendLocked(stateChangeEvent(invocationID, cs))
}

// DeleteState removes key from scope through the session's Store and
// appends a state_change event with NewValue == nil.
func (s *Session) DeleteState(invocationID, scope, key, source string) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.state.Delete(scope, key, source)
	if c == nil {
		return nil, nil
	}
	return s.appendLocked(stateChangeEvent(invocationID, []state.Change{*c}))
}

func stateChangeEvent(invocationID string, changes []state.Change) event.Event {
	entries := make([]event.StateChangeEntry, len(changes))
	for i, c := range changes {
		entries[i] = event.StateChangeEntry{Key: c.Key, OldValue: c.OldValue, NewValue: c.NewValue}
	}
	return event.Event{
		Type:         event.TypeStateChange,
		InvocationID: invocationID,
		Payload: event.StateChange{
			Scope:   changes[0].Scope,
			Source:  changes[0].Source,
			Changes: entries,
		},
	}
}
