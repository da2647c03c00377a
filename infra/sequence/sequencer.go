package sequence

import "sync/atomic"

// Sequencer issues strictly monotonic sequence numbers. It is
// deterministic and replay-safe: recovery resets it to the last
// durable sequence before new traffic is accepted.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose next issued value is start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset rewinds or advances the sequencer. Used after WAL replay and
// to roll back provisional assignments when an append fails.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}
