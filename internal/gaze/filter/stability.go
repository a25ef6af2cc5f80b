package filter

import (
	"math"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/timeutil"
)

// StabilityConfig holds the fixation-detection tuning constants.
type StabilityConfig struct {
	// Radius is the maximum drift in pixels for a dwell to stay stable.
	Radius float64
	// RequiredDuration is how long the point must dwell before hover fires.
	RequiredDuration time.Duration
	// Cooldown suppresses re-fires after a hover while downstream work runs.
	Cooldown time.Duration
	// HistorySize bounds the recent-movement ring used for jitter metrics.
	HistorySize int
}

// DefaultStabilityConfig returns the tuned constants.
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{
		Radius:           30,
		RequiredDuration: 150 * time.Millisecond,
		Cooldown:         2 * time.Second,
		HistorySize:      10,
	}
}

// Stability detects fixation: a smoothed point dwelling within Radius of a
// reference for at least RequiredDuration. Hover fires once per episode; an
// excursion past the radius starts a new episode with a fresh timer, and a
// fixed cooldown after each fire absorbs the latency of whatever the hover
// triggered downstream.
type Stability struct {
	Config StabilityConfig

	clock timeutil.Clock

	reference    gaze.Point
	hasReference bool
	stableSince  time.Time

	episodeFired bool
	lastFire     time.Time
	hasFired     bool

	history []gaze.Point
}

// NewStability creates a detector. A nil clock selects the real clock.
func NewStability(cfg StabilityConfig, clock timeutil.Clock) *Stability {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultStabilityConfig().HistorySize
	}
	return &Stability{
		Config:  cfg,
		clock:   clock,
		history: make([]gaze.Point, 0, cfg.HistorySize),
	}
}

// Observe feeds one smoothed point and reports whether hover fired on it.
func (s *Stability) Observe(p gaze.Point) bool {
	now := s.clock.Now()
	s.record(p)

	if !s.hasReference {
		s.reference = p
		s.hasReference = true
		s.stableSince = now
		return false
	}

	if p.DistanceTo(s.reference) > s.Config.Radius {
		// New episode: re-anchor on the new position, restart the timer.
		s.reference = p
		s.stableSince = now
		s.episodeFired = false
		return false
	}

	if s.episodeFired {
		return false
	}
	if s.hasFired && now.Sub(s.lastFire) < s.Config.Cooldown {
		return false
	}
	if now.Sub(s.stableSince) < s.Config.RequiredDuration {
		return false
	}

	s.episodeFired = true
	s.hasFired = true
	s.lastFire = now
	return true
}

// ResetEpisode re-arms the detector after the caller has finished handling
// a hover, allowing the current dwell to fire again once the cooldown has
// passed.
func (s *Stability) ResetEpisode() {
	s.episodeFired = false
	s.stableSince = s.clock.Now()
}

// Reset clears all state. Called when tracking is disabled.
func (s *Stability) Reset() {
	s.hasReference = false
	s.episodeFired = false
	s.hasFired = false
	s.reference = gaze.Point{}
	s.history = s.history[:0]
}

// record appends to the bounded movement history, dropping the oldest entry
// once full.
func (s *Stability) record(p gaze.Point) {
	if len(s.history) == s.Config.HistorySize {
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}
	s.history = append(s.history, p)
}

// Jitter returns the RMS distance of the recent movement history from its
// mean, in pixels. Zero until at least two points have been observed.
func (s *Stability) Jitter() float64 {
	if len(s.history) < 2 {
		return 0
	}
	var mx, my float64
	for _, p := range s.history {
		mx += p.X
		my += p.Y
	}
	n := float64(len(s.history))
	mx /= n
	my /= n

	var sum float64
	for _, p := range s.history {
		dx := p.X - mx
		dy := p.Y - my
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum / n)
}
