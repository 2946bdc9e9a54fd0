// Package state implements the scoped key/value Store backing session
// state. Assignments are serialised by the caller (the supervisor holds the
// per-session lock) and emit change events the Session appends to its log;
// Store itself has no locking or event-log dependency so it can be replayed
// in isolation — replaying every emitted Change reconstructs the exact same
// store a fresh Apply sequence would produce.
package state

import (
	"encoding/json"
	"reflect"
)

// DefaultScope is used when a caller does not specify one.
const DefaultScope = "session"

// Change is one committed mutation, ready to be embedded in a
// event.StateChange payload by the caller.
type Change struct {
	Scope    string
	Source   string
	Key      string
	OldValue any
	NewValue any
}

// Validator checks a candidate value for one (scope, key) pair.
type Validator func(value any) error

// Schema maps scope -> key -> Validator. A nil Schema accepts any value.
type Schema map[string]map[string]Validator

// ValidationError reports a Schema validation failure. No event is
// emitted when this is returned.
type ValidationError struct {
	Scope, Key string
	Cause      error
}

func (e *ValidationError) Error() string {
	return "state: validation failed for " + e.Scope + "." + e.Key + ": " + e.Cause.Error()
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// Store is the scoped key/value state for one Session. It is not
// concurrency-safe on its own: the supervisor is responsible for
// serialising access across an entire Session (writes, event appends, and
// status transitions share one lock).
type Store struct {
	schema Schema
	scopes map[string]map[string]any
}

// New returns an empty Store. A nil schema accepts any value in Write/Update.
func New(schema Schema) *Store {
	return &Store{schema: schema, scopes: make(map[string]map[string]any)}
}

// Read returns the value at (scope, key) and whether it is present.
func (s *Store) Read(scope, key string) (any, bool) {
	if scope == "" {
		scope = DefaultScope
	}
	m, ok := s.scopes[scope]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// Snapshot returns a deep-enough copy of one scope's key/value pairs,
// suitable for a session-store state snapshot.
func (s *Store) Snapshot(scope string) map[string]any {
	if scope == "" {
		scope = DefaultScope
	}
	m := s.scopes[scope]
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Scopes returns the names of every scope that has at least one key.
func (s *Store) Scopes() []string {
	out := make([]string, 0, len(s.scopes))
	for scope, m := range s.scopes {
		if len(m) > 0 {
			out = append(out, scope)
		}
	}
	return out
}

func (s *Store) validate(scope, key string, value any) error {
	if s.schema == nil {
		return nil
	}
	byKey, ok := s.schema[scope]
	if !ok {
		return nil
	}
	v, ok := byKey[key]
	if !ok || v == nil {
		return nil
	}
	if err := v(value); err != nil {
		return &ValidationError{Scope: scope, Key: key, Cause: err}
	}
	return nil
}

// equalValues reports structural equality: no event is emitted if the new
// value structurally equals the old one. JSON-shaped values
// (map[string]any, []any, etc.) compare by deep equality; this also makes
// round-tripping through JSON (as a session snapshot does) stable.
func equalValues(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Fall back to JSON comparison so e.g. float64(1) == json.Number("1")
	// after a snapshot round-trip still counts as equal.
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(ab) == string(bb)
}

// Write assigns one key within scope and returns the committed Change, or
// nil if newValue structurally equals the prior value (no-op, no event).
func (s *Store) Write(scope, key string, value any, source string) (*Change, error) {
	if scope == "" {
		scope = DefaultScope
	}
	if err := s.validate(scope, key, value); err != nil {
		return nil, err
	}
	m, ok := s.scopes[scope]
	if !ok {
		m = make(map[string]any)
		s.scopes[scope] = m
	}
	old, existed := m[key]
	if existed && equalValues(old, value) {
		return nil, nil
	}
	m[key] = value
	var oldVal any
	if existed {
		oldVal = old
	}
	return &Change{Scope: scope, Source: source, Key: key, OldValue: oldVal, NewValue: value}, nil
}

// KeyValue is one assignment within an Update batch.
type KeyValue struct {
	Key   string
	Value any
}

// Update atomically applies a batch of assignments within one scope: either
// all validate and commit, emitting the returned Changes as one logical
// batch, or none do.
func (s *Store) Update(scope string, changes []KeyValue, source string) ([]Change, error) {
	if scope == "" {
		scope = DefaultScope
	}
	for _, c := range changes {
		if err := s.validate(scope, c.Key, c.Value); err != nil {
			return nil, err
		}
	}
	m, ok := s.scopes[scope]
	if !ok {
		m = make(map[string]any)
		s.scopes[scope] = m
	}
	var out []Change
	for _, c := range changes {
		old, existed := m[c.Key]
		if existed && equalValues(old, c.Value) {
			continue
		}
		var oldVal any
		if existed {
			oldVal = old
		}
		m[c.Key] = c.Value
		out = append(out, Change{Scope: scope, Source: source, Key: c.Key, OldValue: oldVal, NewValue: c.Value})
	}
	return out, nil
}

// Delete removes key from scope, returning the committed Change (NewValue is
// nil), or nil if the key was already absent.
func (s *Store) Delete(scope, key, source string) *Change {
	if scope == "" {
		scope = DefaultScope
	}
	m, ok := s.scopes[scope]
	if !ok {
		return nil
	}
	old, existed := m[key]
	if !existed {
		return nil
	}
	delete(m, key)
	return &Change{Scope: scope, Source: source, Key: key, OldValue: old, NewValue: nil}
}

// Apply replays a single Change into the store without validation or event
// emission — used by resume/replay to reconstruct state purely from the
// log.
func (s *Store) Apply(c Change) {
	m, ok := s.scopes[c.Scope]
	if !ok {
		m = make(map[string]any)
		s.scopes[c.Scope] = m
	}
	if c.NewValue == nil {
		delete(m, c.Key)
		return
	}
	m[c.Key] = c.NewValue
}
