package gaze

import (
	"math"
	"sync/atomic"
)

// SampleSlot is the wait-free latest-value register bridging the producer
// goroutine (backend reader) to the consumer tick. Each axis lives in its
// own atomic 64-bit cell holding the IEEE-754 bit pattern of the float64
// coordinate, so writes and reads never block and never tear.
//
// Semantics are deliberately weak: single writer, single reader, last write
// wins. A reader may observe an x from one sample paired with a y from the
// next; at gaze sample rates the two are at most one frame apart, which is
// below the noise floor the downstream filters already absorb. Go's atomics
// are sequentially consistent, which is stronger than the relaxed ordering
// this register needs.
type SampleSlot struct {
	x      atomic.Uint64
	y      atomic.Uint64
	writes atomic.Uint64
}

// Store publishes a new raw target. Called from the producer goroutine.
func (s *SampleSlot) Store(x, y float64) {
	s.x.Store(math.Float64bits(x))
	s.y.Store(math.Float64bits(y))
	s.writes.Add(1)
}

// Load returns the most recently published raw target. Called from the
// consumer tick.
func (s *SampleSlot) Load() (x, y float64) {
	return math.Float64frombits(s.x.Load()), math.Float64frombits(s.y.Load())
}

// Writes returns the number of samples published since construction.
// The consumer uses this to avoid acting on the zero value before the
// backend has produced anything.
func (s *SampleSlot) Writes() uint64 {
	return s.writes.Load()
}
