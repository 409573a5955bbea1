package obs

import (
	"sync/atomic"
)

// Sequencer hands out monotonically increasing journal sequence numbers.
type Sequencer struct {
	last uint64
}

// NewSequencer returns a sequencer that continues after last.
func NewSequencer(last uint64) *Sequencer {
	return &Sequencer{last: last}
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	if s == nil {
		return 0
	}
	return atomic.AddUint64(&s.last, 1)
}

// Last returns the most recently issued sequence number.
func (s *Sequencer) Last() uint64 {
	if s == nil {
		return 0
	}
	return atomic.LoadUint64(&s.last)
}
