package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openlook/gazeline/internal/timeutil"
)

type watchLog struct {
	mu      sync.Mutex
	configs []TuningConfig
	errs    []error
}

func (l *watchLog) change(c TuningConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs = append(l.configs, c)
}

func (l *watchLog) err(e error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, e)
}

func (l *watchLog) changes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.configs)
}

func (l *watchLog) errors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

func (l *watchLog) last() TuningConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.configs[len(l.configs)-1]
}

// waitFor polls cond until it holds, advancing the mock clock one watch
// interval per probe so the watcher's ticker keeps firing.
func waitFor(t *testing.T, clock *timeutil.MockClock, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		clock.Advance(time.Second)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatcherDeliversChangedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(`{"dead_zone_radius": 15}`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	clock := timeutil.NewMockClock(time.Unix(6000, 0))
	log := &watchLog{}
	w := NewWatcher(WatcherConfig{
		Path:     path,
		Interval: time.Second,
		Clock:    clock,
		OnChange: log.change,
		OnError:  log.err,
	})
	w.Start()
	defer w.Stop()

	// The file present at Start is not re-delivered.
	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	if n := log.changes(); n != 0 {
		t.Fatalf("Expected no deliveries for unchanged file, got %d", n)
	}

	// A content change is picked up on a later tick. The new body has a
	// different length, so even a same-mtime rewrite is detected.
	updated := `{"dead_zone_radius": 22, "spring_stiffness": 0.5}`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("Failed to update config: %v", err)
	}
	waitFor(t, clock, func() bool { return log.changes() >= 1 }, "change never delivered")

	got := log.last()
	if got.GetDeadZoneRadius() != 22 {
		t.Errorf("GetDeadZoneRadius() = %f, want 22", got.GetDeadZoneRadius())
	}
	if got.GetSpringStiffness() != 0.5 {
		t.Errorf("GetSpringStiffness() = %f, want 0.5", got.GetSpringStiffness())
	}
}

func TestWatcherRetriesAfterBadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	clock := timeutil.NewMockClock(time.Unix(6000, 0))
	log := &watchLog{}
	w := NewWatcher(WatcherConfig{
		Path:     path,
		Interval: time.Second,
		Clock:    clock,
		OnChange: log.change,
		OnError:  log.err,
	})
	w.Start()
	defer w.Stop()

	// A half-written file reports an error and is not delivered.
	if err := os.WriteFile(path, []byte(`{"dead_zone_radius": `), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	waitFor(t, clock, func() bool { return log.errors() >= 1 }, "load error never reported")
	if n := log.changes(); n != 0 {
		t.Fatalf("Expected no deliveries for invalid file, got %d", n)
	}

	// Once the write completes, the same stamp-mismatch triggers a
	// successful reload.
	if err := os.WriteFile(path, []byte(`{"dead_zone_radius": 25}`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	waitFor(t, clock, func() bool { return log.changes() >= 1 }, "recovery reload never delivered")
	last := log.last()
	if got := last.GetDeadZoneRadius(); got != 25 {
		t.Errorf("GetDeadZoneRadius() = %f, want 25", got)
	}
}

func TestWatcherFileAppearsLate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")

	clock := timeutil.NewMockClock(time.Unix(6000, 0))
	log := &watchLog{}
	w := NewWatcher(WatcherConfig{
		Path:     path,
		Interval: time.Second,
		Clock:    clock,
		OnChange: log.change,
		OnError:  log.err,
	})
	w.Start()
	defer w.Stop()

	waitFor(t, clock, func() bool { return log.errors() >= 1 }, "missing file never reported")

	if err := os.WriteFile(path, []byte(`{"history_size": 20}`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	waitFor(t, clock, func() bool { return log.changes() >= 1 }, "late file never delivered")
	last := log.last()
	if got := last.GetHistorySize(); got != 20 {
		t.Errorf("GetHistorySize() = %d, want 20", got)
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(6000, 0))
	w := NewWatcher(WatcherConfig{
		Path:  filepath.Join(t.TempDir(), "tuning.json"),
		Clock: clock,
	})
	w.Start()
	w.Start() // no-op while running
	w.Stop()
	w.Stop()
}
