package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlook/gazeline/internal/gaze"
)

func TestSubprocessAvailable(t *testing.T) {
	t.Parallel()

	src := NewSubprocess(SubprocessConfig{Path: "/bin/sh"})
	assert.NoError(t, src.Available())

	missing := NewSubprocess(SubprocessConfig{Path: "/no/such/helper"})
	assert.ErrorIs(t, missing.Available(), gaze.ErrBackendUnavailable)

	unset := NewSubprocess(SubprocessConfig{})
	assert.ErrorIs(t, unset.Available(), gaze.ErrBackendUnavailable)
}

func TestSubprocessStartMissingHelper(t *testing.T) {
	t.Parallel()

	src := NewSubprocess(SubprocessConfig{Path: "/no/such/helper"})
	err := src.Start(context.Background(), &captureSink{})
	assert.ErrorIs(t, err, gaze.ErrBackendUnavailable)
	assert.False(t, src.Alive())
}

// TestSubprocessDeliversFrames runs a helper that plays back canned wire
// bytes and exits. The frames must arrive, and the voluntary exit must
// classify as unexpected because stop was never requested.
func TestSubprocessDeliversFrames(t *testing.T) {
	t.Parallel()

	wire := EncodeFrame(nil, gaze.EventGaze, 500, 500)
	wire = EncodeStatus(wire, "calibrate_topLeft")
	wire = EncodeFrame(wire, gaze.EventGaze, 501, 499)

	path := filepath.Join(t.TempDir(), "frames.bin")
	require.NoError(t, os.WriteFile(path, wire, 0o644))

	sink := &captureSink{}
	src := NewSubprocess(SubprocessConfig{
		Path: "/bin/sh",
		Args: []string{"-c", "cat " + path},
	})
	require.NoError(t, src.Start(context.Background(), sink))
	assert.Greater(t, src.PID(), 0)

	require.Eventually(t, func() bool {
		return len(sink.Frames()) == 2 && len(sink.Statuses()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := sink.Frames()
	assert.Equal(t, Frame{Type: gaze.EventGaze, X: 500, Y: 500}, got[0])
	assert.Equal(t, Frame{Type: gaze.EventGaze, X: 501, Y: 499}, got[1])
	assert.Equal(t, gaze.CornerTopLeft, sink.Statuses()[0].Corner)
	assert.False(t, src.LastOutput().IsZero())

	require.Eventually(t, func() bool { return !src.Alive() },
		2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, src.Err(), gaze.ErrUnexpectedExit)

	require.NoError(t, src.Stop())
}

func TestSubprocessGracefulStop(t *testing.T) {
	t.Parallel()

	src := NewSubprocess(SubprocessConfig{
		Path: "/bin/sh",
		Args: []string{"-c", "read line"},
	})
	require.NoError(t, src.Start(context.Background(), &captureSink{}))
	assert.True(t, src.Alive())

	// Closing stdin makes the read return, so the helper exits inside
	// the grace period without a kill.
	require.NoError(t, src.Stop())
	assert.False(t, src.Alive())
	assert.NoError(t, src.Err(), "a requested stop is not an error")

	// Idempotent.
	require.NoError(t, src.Stop())
}

func TestSubprocessStopKillsStubbornHelper(t *testing.T) {
	t.Parallel()

	src := NewSubprocess(SubprocessConfig{
		Path:        "/bin/sh",
		Args:        []string{"-c", "while :; do sleep 0.05; done"},
		GracePeriod: 100 * time.Millisecond,
	})
	require.NoError(t, src.Start(context.Background(), &captureSink{}))

	start := time.Now()
	require.NoError(t, src.Stop())
	assert.Less(t, time.Since(start), 3*time.Second, "stop must be bounded")
	assert.False(t, src.Alive())
}

func TestSubprocessUnexpectedExitStatus(t *testing.T) {
	t.Parallel()

	src := NewSubprocess(SubprocessConfig{
		Path: "/bin/sh",
		Args: []string{"-c", "exit 3"},
	})
	require.NoError(t, src.Start(context.Background(), &captureSink{}))

	require.Eventually(t, func() bool { return !src.Alive() },
		2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, src.Err(), gaze.ErrUnexpectedExit)
	assert.True(t, gaze.Recoverable(src.Err()))

	require.NoError(t, src.Stop())
}

func TestSubprocessDoubleStart(t *testing.T) {
	t.Parallel()

	src := NewSubprocess(SubprocessConfig{
		Path: "/bin/sh",
		Args: []string{"-c", "read line"},
	})
	require.NoError(t, src.Start(context.Background(), &captureSink{}))
	defer src.Stop()

	err := src.Start(context.Background(), &captureSink{})
	assert.Error(t, err)
	assert.True(t, src.Alive())
}

// TestSubprocessRestartAfterCrash exercises relaunch of the same source
// value, which the supervisor relies on during recovery.
func TestSubprocessRestartAfterCrash(t *testing.T) {
	t.Parallel()

	src := NewSubprocess(SubprocessConfig{
		Path: "/bin/sh",
		Args: []string{"-c", "exit 1"},
	})
	require.NoError(t, src.Start(context.Background(), &captureSink{}))
	require.Eventually(t, func() bool { return !src.Alive() },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, src.Stop())

	// Second run with a cooperative helper works and clears the error.
	src.cfg.Args = []string{"-c", "read line"}
	require.NoError(t, src.Start(context.Background(), &captureSink{}))
	assert.True(t, src.Alive())
	assert.NoError(t, src.Err())
	require.NoError(t, src.Stop())
}
