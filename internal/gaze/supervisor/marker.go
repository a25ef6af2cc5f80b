package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
)

// MarkerName is the file that records the PID of a launched backend so a
// later session can reap it if this one dies without stopping cleanly.
const MarkerName = "gazeline-backend.pid"

// DefaultMarkerPath returns the marker location in the system temp dir.
func DefaultMarkerPath() string {
	return filepath.Join(os.TempDir(), MarkerName)
}

// WriteMarker persists the backend PID at path.
func WriteMarker(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644)
}

// RemoveMarker deletes the marker. A missing marker is not an error.
func RemoveMarker(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// CleanupOrphan reaps a backend left behind by a crashed session. It reads
// the marker at path and, if the recorded PID is still alive, terminates it
// gracefully, escalating to a kill after the grace period. The marker is
// removed either way. Call once at process startup, before any Start.
func CleanupOrphan(path string, grace time.Duration) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read backend marker: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		os.Remove(path)
		return fmt.Errorf("invalid backend marker %s: %q", path, data)
	}

	if processAlive(pid) {
		gaze.Opsf("reaping orphaned backend (pid %d)", pid)
		terminate(pid, grace)
	}

	return RemoveMarker(path)
}

// processAlive probes pid with a null signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// terminate sends SIGTERM and escalates to SIGKILL if the process is still
// alive after the grace period.
func terminate(pid int, grace time.Duration) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	gaze.Diagf("orphaned backend (pid %d) ignored SIGTERM, killing", pid)
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		gaze.Diagf("failed to kill orphaned backend: %v", err)
	}
}
