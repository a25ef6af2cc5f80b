// Package source provides the backends that produce raw gaze samples.
//
// Two production variants satisfy the same contract: a helper subprocess
// streaming binary frames and JSON status lines on its stdout, and an
// embedded tracker library polled from a dedicated goroutine. A
// serial-attached sensor variant and a trace replay variant exist for
// bench rigs and offline work. The supervisor is written once against
// the RawSource interface and never cares which variant it drives.
package source

import (
	"context"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
)

// Frame is one decoded sample event from a backend.
type Frame struct {
	Type gaze.EventType
	X    float64
	Y    float64
}

// Status is an out-of-band backend status update. Calibration
// progression arrives this way; anything unrecognized is carried
// verbatim in Text with Corner set to CornerNone.
type Status struct {
	Text   string
	Corner gaze.CalibrationCorner
}

// Sink receives decoded backend output. Callbacks run on the producer
// goroutine, so implementations must return quickly and must not block.
type Sink interface {
	HandleFrame(Frame)
	HandleStatus(Status)
}

// RawSource is a backend that produces raw gaze samples.
type RawSource interface {
	// Available reports whether the backend can be launched in this
	// environment at all. Returns an error wrapping
	// gaze.ErrBackendUnavailable when it cannot.
	Available() error

	// Start launches the backend and begins delivering decoded output
	// to sink from a producer goroutine. It returns once the backend is
	// launched; delivery continues until Stop or backend failure.
	Start(ctx context.Context, sink Sink) error

	// Stop terminates the backend, gracefully first and forcefully
	// after a bounded grace period. Idempotent.
	Stop() error

	// Alive reports whether the backend is still producing.
	Alive() bool

	// LastOutput returns the arrival time of the most recent frame or
	// status update. The zero time means nothing has arrived yet.
	LastOutput() time.Time

	// Err returns the error that took the backend down, once Alive
	// reports false. Nil after a requested stop.
	Err() error
}

// ProcessBacked is implemented by sources that own an operating-system
// process. The supervisor records the pid in the orphan marker so a
// crashed session's backend can be cleaned up on the next launch.
type ProcessBacked interface {
	PID() int
}

// Pauser is implemented by sources whose backend can suspend sample
// production without a teardown.
type Pauser interface {
	Pause() error
	Resume() error
}
