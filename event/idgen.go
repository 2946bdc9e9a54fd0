package event

import (
	"fmt"
	"sync/atomic"
)

// Sequencer issues per-session, strictly increasing Event IDs.
//
// IDs are fixed-width decimal strings so that lexical and numeric ordering
// agree — callers that only ever compare IDs as opaque strings (e.g. a
// session-store cursor) still get the correct order, matching the
// runlog.Store cursor contract this is grounded on.
type Sequencer struct {
	seq atomic.Int64
}

// NewSequencer returns a Sequencer starting at zero. RestoreSequencer reconstructs one
// from a persisted high-water mark, e.g. the last event ID in a loaded
// session's log.
func NewSequencer() *Sequencer { return &Sequencer{} }

// RestoreSequencer reconstructs a Sequencer positioned after highWaterMark,
// such that the next Next() call issues a strictly greater ID.
func RestoreSequencer(highWaterMark int64) *Sequencer {
	s := &Sequencer{}
	s.seq.Store(highWaterMark)
	return s
}

// Next returns the next ID in the sequence.
func (s *Sequencer) Next() ID {
	n := s.seq.Add(1)
	return ID(fmt.Sprintf("%020d", n))
}
