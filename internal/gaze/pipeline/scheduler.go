// Package pipeline turns raw gaze samples into display points: an
// adaptive tick scheduler drives the Kalman, dead-zone, spring, and
// stability stages once per tick and publishes the result to callbacks,
// the trace recorder, and the stats counters.
package pipeline

import (
	"sync"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/timeutil"
)

// Mode selects the tick cadence.
type Mode int

const (
	// ModeHighPerformance ticks at 60Hz.
	ModeHighPerformance Mode = iota
	// ModeLowPower ticks at 15Hz while the host application reports
	// heavy processing.
	ModeLowPower
)

const (
	highRateHz = 60
	lowRateHz  = 15
)

func (m Mode) String() string {
	if m == ModeLowPower {
		return "low-power"
	}
	return "high-performance"
}

// Interval returns the tick period for the mode.
func (m Mode) Interval() time.Duration {
	if m == ModeLowPower {
		return time.Second / lowRateHz
	}
	return time.Second / highRateHz
}

// TickFunc is invoked once per scheduler tick with the tick time and the
// mode the tick was scheduled under.
type TickFunc func(now time.Time, mode Mode)

// Scheduler drives a TickFunc at the cadence of the active mode. A mode
// change tears the ticker down and reschedules at the new interval; the
// tick goroutine is the only one that ever runs fn, so the pipeline
// stages need no cross-tick synchronization.
type Scheduler struct {
	clock timeutil.Clock
	fn    TickFunc

	mu      sync.Mutex
	mode    Mode
	running bool
	done    chan struct{}
	modeCh  chan Mode
	wg      *sync.WaitGroup
}

// NewScheduler creates a stopped scheduler in high-performance mode.
func NewScheduler(clock timeutil.Clock, fn TickFunc) *Scheduler {
	return &Scheduler{clock: clock, fn: fn}
}

// Mode returns the selected mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins ticking at the current mode's cadence. Starting a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.modeCh = make(chan Mode, 1)
	s.wg = &sync.WaitGroup{}

	ticker := s.clock.NewTicker(s.mode.Interval())
	gaze.Opsf("scheduler started in %s mode (%s tick)", s.mode, s.mode.Interval())

	s.wg.Add(1)
	go s.loop(s.done, s.modeCh, ticker, s.mode, s.wg)
}

// Stop halts the tick loop. It must not be called from inside a tick
// callback.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	wg := s.wg
	s.mu.Unlock()

	wg.Wait()
	gaze.Opsf("scheduler stopped")
}

// SetHeavyProcessing selects low-power mode while the host application
// is busy. Safe to call from tick callbacks: the reschedule is handed to
// the tick goroutine rather than performed in place.
func (s *Scheduler) SetHeavyProcessing(heavy bool) {
	mode := ModeHighPerformance
	if heavy {
		mode = ModeLowPower
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == s.mode {
		return
	}
	s.mode = mode
	if !s.running {
		return
	}

	// Coalesce: only the most recent request matters.
	select {
	case <-s.modeCh:
	default:
	}
	s.modeCh <- mode
}

func (s *Scheduler) loop(done chan struct{}, modeCh chan Mode, ticker timeutil.Ticker, mode Mode, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-done:
			return
		case next := <-modeCh:
			ticker.Stop()
			ticker = s.clock.NewTicker(next.Interval())
			mode = next
			gaze.Opsf("scheduler switched to %s mode (%s tick)", mode, mode.Interval())
		case now := <-ticker.C():
			s.fn(now, mode)
		}
	}
}
