package gaze

import "errors"

// Backend failure taxonomy. Sources return these from launch and polling
// paths; the supervisor classifies them to decide between bounded
// auto-recovery and a terminal failed state.
var (
	// ErrBackendUnavailable means the helper executable, embedded
	// library, or capture device is missing from the environment.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrHeartbeatTimeout means a running backend produced no output
	// within the heartbeat window.
	ErrHeartbeatTimeout = errors.New("backend heartbeat timeout")

	// ErrUnexpectedExit means the backend terminated without stop being
	// requested.
	ErrUnexpectedExit = errors.New("backend exited unexpectedly")

	// ErrInitializationFailed means the embedded library returned a nil
	// handle from init.
	ErrInitializationFailed = errors.New("backend initialization failed")

	// ErrDeviceError means the backend lost its capture device.
	ErrDeviceError = errors.New("backend device error")

	// ErrModelError means the backend's tracking model failed.
	ErrModelError = errors.New("backend model error")
)

// LaunchError reports a failed backend launch with the underlying reason.
// A launch failure on an explicit start surfaces immediately; it does not
// feed auto-recovery on its own.
type LaunchError struct {
	Reason string
}

func (e *LaunchError) Error() string {
	return "backend launch failed: " + e.Reason
}

// Recoverable reports whether the supervisor may answer err with a
// bounded automatic relaunch. Heartbeat timeouts, unexpected exits, and
// device glitches earn a retry; missing binaries and failed inits do not.
func Recoverable(err error) bool {
	return errors.Is(err, ErrHeartbeatTimeout) ||
		errors.Is(err, ErrUnexpectedExit) ||
		errors.Is(err, ErrDeviceError)
}
