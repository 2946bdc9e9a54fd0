// Package sessionstore defines the session-service contract: durable
// storage for a Session's event log plus lightweight listing, so a
// Supervisor can run against a restart-surviving backend instead of the
// in-process Session held only in memory.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"goa.design/flow/event"
	"goa.design/flow/session"
	"goa.design/flow/state"
)

// ErrNotFound is returned by LoadSession when no record exists for the
// given id.
var ErrNotFound = errors.New("sessionstore: session not found")

// Record is the durable representation of a Session: its identity plus the
// complete ordered event log. State is never persisted separately — Session
// rebuilds it by replaying state_change events, the same way session.Load
// does for an in-memory restart.
type Record struct {
	ID      string
	AppName string
	Version string
	Events  []*event.Event
}

// SessionSummary is the lightweight projection ListSessions returns instead
// of full event logs, mirroring the pack's RunMeta-over-full-log pattern.
type SessionSummary struct {
	ID         string
	AppName    string
	Status     session.Status
	EventCount int
	UpdatedAt  time.Time
}

// Store is the durable session-service contract. Implementations must be
// safe for concurrent use by multiple Supervisor instances.
type Store interface {
	// CreateSession persists a brand-new, empty session record.
	CreateSession(ctx context.Context, id, appName string) error
	// AppendEvents appends events to the durable log for id, atomically
	// with respect to concurrent AppendEvents calls on the same id.
	AppendEvents(ctx context.Context, id string, events []*event.Event) error
	// LoadSession returns the full Record for id, or ErrNotFound.
	LoadSession(ctx context.Context, id string) (Record, error)
	// ListSessions returns summaries for every session belonging to
	// appName, newest first.
	ListSessions(ctx context.Context, appName string) ([]SessionSummary, error)
}

// Rehydrate reconstructs a *session.Session from a Record using the given
// state schema, the same reconstruction path session.Load implements for a
// purely in-memory restart.
func Rehydrate(rec Record, schema state.Schema) *session.Session {
	return session.Load(rec.ID, rec.AppName, rec.Version, rec.Events, schema)
}

// DeriveStatus inspects an event log for the most recent lifecycle-relevant
// event, so backends that don't track status separately can still populate
// SessionSummary.Status.
func DeriveStatus(events []*event.Event) session.Status {
	status := session.StatusIdle
	for _, e := range events {
		switch e.Type {
		case event.TypeInvocationStart:
			status = session.StatusRunning
		case event.TypeInvocationEnd:
			if end, ok := e.AsInvocationEnd(); ok && end.Error != "" {
				status = session.StatusError
			} else {
				status = session.StatusCompleted
			}
		case event.TypeToolYield:
			status = session.StatusAwaitingInput
		case event.TypeToolInput:
			status = session.StatusRunning
		}
	}
	return status
}
