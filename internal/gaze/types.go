package gaze

import (
	"fmt"
	"math"
	"time"
)

// Point is a position in screen coordinates (pixels, origin top-left).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the Euclidean distance between p and q in pixels.
func (p Point) DistanceTo(q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return math.Hypot(dx, dy)
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}

// EventType identifies the kind of sample a backend produced. The values
// match the type tags of the binary frame protocol.
type EventType int

const (
	// EventGaze is a raw gaze position sample.
	EventGaze EventType = 1
	// EventBlink is a blink event; position fields are ignored.
	EventBlink EventType = 2
)

func (e EventType) String() string {
	switch e {
	case EventGaze:
		return "gaze"
	case EventBlink:
		return "blink"
	default:
		return fmt.Sprintf("reserved(%d)", int(e))
	}
}

// RawSample is one unfiltered position report from a backend. Samples are
// ephemeral: they are consumed into the sample slot and discarded.
type RawSample struct {
	X          float64
	Y          float64
	ProducedAt time.Time
}

// CalibrationCorner is the progression state of an external calibration
// flow, as reported by the backend status stream. The flow itself is out of
// scope; only the enumerated state is surfaced.
type CalibrationCorner string

const (
	CornerNone        CalibrationCorner = "none"
	CornerTopLeft     CalibrationCorner = "topLeft"
	CornerTopRight    CalibrationCorner = "topRight"
	CornerBottomLeft  CalibrationCorner = "bottomLeft"
	CornerBottomRight CalibrationCorner = "bottomRight"
	CornerCenter      CalibrationCorner = "center"
	CornerDone        CalibrationCorner = "done"
)

// Estimate is the externally visible output of one scheduler tick.
type Estimate struct {
	// Display is the spring-integrated point consumers should present.
	Display Point `json:"display"`
	// RawTarget is the dead-zone output the display point is chasing.
	RawTarget Point `json:"raw_target"`
	// TrackingEnabled reports whether pipeline consumption is active.
	TrackingEnabled bool `json:"tracking_enabled"`
	// LowPower reports whether the scheduler is in the 15Hz mode.
	LowPower bool `json:"low_power"`
}

// EyePreference selects which eye the backend should favour when both are
// visible. Passed through to the embedded-library variant at init.
type EyePreference int

const (
	EyeBoth EyePreference = iota
	EyeLeft
	EyeRight
)

func (e EyePreference) String() string {
	switch e {
	case EyeLeft:
		return "left"
	case EyeRight:
		return "right"
	default:
		return "both"
	}
}
