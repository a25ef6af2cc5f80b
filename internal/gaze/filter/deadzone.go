package filter

import (
	"time"

	"github.com/openlook/gazeline/internal/gaze"
)

// DeadZoneConfig holds the jitter-suppression tuning constants.
type DeadZoneConfig struct {
	// Radius is the hold radius in pixels. Motion inside it is noise.
	Radius float64
	// EscapeVelocity in px/s. Implied velocities above it are saccades and
	// bypass the zone entirely.
	EscapeVelocity float64
}

// DefaultDeadZoneConfig returns the tuned constants.
func DefaultDeadZoneConfig() DeadZoneConfig {
	return DeadZoneConfig{
		Radius:         15,
		EscapeVelocity: 50,
	}
}

// DeadZone suppresses micro-jitter around a held position while letting
// fast saccades through untouched. In between, output blends smoothly from
// the held position toward the measurement so breakouts do not pop.
type DeadZone struct {
	Config DeadZoneConfig

	stable    gaze.Point
	hasStable bool
}

// NewDeadZone creates a dead-zone filter with the given config.
func NewDeadZone(cfg DeadZoneConfig) *DeadZone {
	return &DeadZone{Config: cfg}
}

// Apply filters one position given the time elapsed since the previous one.
func (d *DeadZone) Apply(pos gaze.Point, elapsed time.Duration) gaze.Point {
	if !d.hasStable {
		d.stable = pos
		d.hasStable = true
		return pos
	}

	dist := pos.DistanceTo(d.stable)

	// Zero elapsed time means the implied velocity is unbounded; treat as
	// a saccade rather than dividing by zero.
	if elapsed <= 0 {
		d.stable = pos
		return pos
	}

	velocity := dist / elapsed.Seconds()
	if velocity > d.Config.EscapeVelocity {
		d.stable = pos
		return pos
	}

	if dist < d.Config.Radius {
		return d.stable
	}

	// Smooth breakout: blend toward the measurement proportionally to how
	// far past the radius it landed.
	blend := (dist - d.Config.Radius) / d.Config.Radius
	if blend > 1 {
		blend = 1
	}
	out := gaze.Point{
		X: d.stable.X + (pos.X-d.stable.X)*blend,
		Y: d.stable.Y + (pos.Y-d.stable.Y)*blend,
	}
	d.stable = out
	return out
}

// Reset clears the held position. Called when tracking is disabled.
func (d *DeadZone) Reset() {
	d.stable = gaze.Point{}
	d.hasStable = false
}
