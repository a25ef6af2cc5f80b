package config

import (
	"os"
	"sync"
	"time"

	"github.com/openlook/gazeline/internal/timeutil"
)

// DefaultWatchInterval is how often a Watcher re-checks the file.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a tuning file and delivers a freshly loaded copy to the
// callback whenever the file changes. Consumers receive the config by
// value and keep no reference into the watcher, so there is no shared
// mutable configuration state anywhere.
type Watcher struct {
	path     string
	interval time.Duration
	clock    timeutil.Clock
	onChange func(TuningConfig)
	onError  func(error)

	mu       sync.Mutex
	running  bool
	done     chan struct{}
	wg       *sync.WaitGroup
	lastMod  time.Time
	lastSize int64
}

// WatcherConfig configures a Watcher. OnChange is required; OnError is
// optional and receives stat/load failures (the watcher keeps polling
// either way).
type WatcherConfig struct {
	Path     string
	Interval time.Duration
	Clock    timeutil.Clock
	OnChange func(TuningConfig)
	OnError  func(error)
}

// NewWatcher creates a stopped Watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func(TuningConfig) {}
	}
	onError := cfg.OnError
	if onError == nil {
		onError = func(error) {}
	}
	return &Watcher{
		path:     cfg.Path,
		interval: cfg.Interval,
		clock:    clock,
		onChange: onChange,
		onError:  onError,
	}
}

// Start begins polling. The first delivery happens on the first tick
// after the file's stamp differs from what Start observed, so a file
// already in place at Start is not re-delivered.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.done = make(chan struct{})
	w.wg = &sync.WaitGroup{}

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
	}

	ticker := w.clock.NewTicker(w.interval)
	w.wg.Add(1)
	go w.loop(w.done, ticker, w.wg)
}

// Stop halts polling. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.done)
	wg := w.wg
	w.mu.Unlock()
	wg.Wait()
}

func (w *Watcher) loop(done chan struct{}, ticker timeutil.Ticker, wg *sync.WaitGroup) {
	defer wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.onError(err)
		return
	}

	w.mu.Lock()
	changed := !info.ModTime().Equal(w.lastMod) || info.Size() != w.lastSize
	w.mu.Unlock()
	if !changed {
		return
	}

	cfg, err := LoadTuningConfig(w.path)
	if err != nil {
		// Likely a half-written file; leave the stamp alone so the next
		// tick retries.
		w.onError(err)
		return
	}

	w.mu.Lock()
	w.lastMod = info.ModTime()
	w.lastSize = info.Size()
	w.mu.Unlock()

	w.onChange(*cfg)
}
