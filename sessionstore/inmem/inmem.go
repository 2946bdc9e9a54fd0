// Package inmem implements sessionstore.Store with a process-local map,
// useful for tests and single-process deployments that don't need restart
// durability.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"goa.design/flow/event"
	"goa.design/flow/sessionstore"
)

// Store is a sessionstore.Store backed by an in-memory map. The zero value
// is not usable; construct with New.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	appName string
	version string
	events  []*event.Event
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

// CreateSession implements sessionstore.Store.
func (s *Store) CreateSession(_ context.Context, id, appName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return nil
	}
	s.sessions[id] = &entry{appName: appName}
	return nil
}

// AppendEvents implements sessionstore.Store.
func (s *Store) AppendEvents(_ context.Context, id string, events []*event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return sessionstore.ErrNotFound
	}
	e.events = append(e.events, events...)
	return nil
}

// LoadSession implements sessionstore.Store.
func (s *Store) LoadSession(_ context.Context, id string) (sessionstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return sessionstore.Record{}, sessionstore.ErrNotFound
	}
	return sessionstore.Record{
		ID:      id,
		AppName: e.appName,
		Version: e.version,
		Events:  append([]*event.Event(nil), e.events...),
	}, nil
}

// ListSessions implements sessionstore.Store.
func (s *Store) ListSessions(_ context.Context, appName string) ([]sessionstore.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []sessionstore.SessionSummary
	for id, e := range s.sessions {
		if e.appName != appName {
			continue
		}
		var updated time.Time
		if n := len(e.events); n > 0 {
			updated = e.events[n-1].CreatedAt
		}
		out = append(out, sessionstore.SessionSummary{
			ID:         id,
			AppName:    e.appName,
			Status:     sessionstore.DeriveStatus(e.events),
			EventCount: len(e.events),
			UpdatedAt:  updated,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
