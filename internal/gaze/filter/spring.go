package filter

import "github.com/openlook/gazeline/internal/gaze"

// Spring stiffness bounds. Lower values favour smoothness, higher values
// favour low lag; outside this band the pointer either floats or shakes.
const (
	MinSpringStiffness = 0.35
	MaxSpringStiffness = 0.55
)

// DefaultSpringStiffness is the midpoint default.
const DefaultSpringStiffness = 0.45

// Spring integrates the displayed point toward the filtered target by a
// constant fraction per tick. State is only the running display value.
type Spring struct {
	stiffness float64
	display   gaze.Point
	primed    bool
}

// NewSpring creates a spring integrator; stiffness is clamped into
// [MinSpringStiffness, MaxSpringStiffness].
func NewSpring(stiffness float64) *Spring {
	if stiffness < MinSpringStiffness {
		stiffness = MinSpringStiffness
	}
	if stiffness > MaxSpringStiffness {
		stiffness = MaxSpringStiffness
	}
	return &Spring{stiffness: stiffness}
}

// Apply advances the display point one tick toward target and returns it.
// The first target primes the display directly so the pointer does not fly
// in from the origin.
func (s *Spring) Apply(target gaze.Point) gaze.Point {
	if !s.primed {
		s.display = target
		s.primed = true
		return s.display
	}
	s.display.X += (target.X - s.display.X) * s.stiffness
	s.display.Y += (target.Y - s.display.Y) * s.stiffness
	return s.display
}

// Display returns the current display point without advancing it.
func (s *Spring) Display() gaze.Point {
	return s.display
}

// Stiffness returns the clamped stiffness in use.
func (s *Spring) Stiffness() float64 {
	return s.stiffness
}

// Reset clears the display state so the next Apply primes fresh.
func (s *Spring) Reset() {
	s.display = gaze.Point{}
	s.primed = false
}
