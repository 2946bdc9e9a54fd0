package session

import (
	"strconv"

	"goa.design/flow/event"
	"goa.design/flow/state"
)

// Load reconstructs a Session from a persisted event log and state
// snapshot, rebuilding the pendingYieldingCalls and open-invocation indexes
// purely from the events: both are derived indexes, never themselves
// persisted.
func Load(id, appName, version string, events []*event.Event, schema state.Schema) *Session {
	s := New(id, appName, schema)
	s.version = version
	s.events = append([]*event.Event(nil), events...)

	var maxSeq int64
	for _, e := range s.events {
		if n, err := strconv.ParseInt(string(e.ID), 10, 64); err == nil && n > maxSeq {
			maxSeq = n
		}
		switch e.Type {
		case event.TypeInvocationStart:
			s.openInvocations[e.InvocationID] = true
		case event.TypeInvocationEnd:
			delete(s.openInvocations, e.InvocationID)
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
		case event.TypeStateChange:
			if sc, ok := e.AsStateChange(); ok {
				for _, entry := range sc.Changes {
					s.state.Apply(state.Change{
						Scope:    sc.Scope,
						Source:   sc.Source,
						Key:      entry.Key,
						OldValue: entry.OldValue,
						NewValue: entry.NewValue,
					})
				}
			}
		}
	}
	s.seq = event.RestoreSequencer(maxSeq)
	return s
}
