// Package supervisor keeps a raw gaze source running: it launches the
// backend, watches its health, relaunches it a bounded number of times
// after crashes or heartbeat silence, and reaps orphans left behind by
// earlier sessions.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/gaze/source"
	"github.com/openlook/gazeline/internal/timeutil"
)

// State is the lifecycle state of the supervised backend.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateRecovering
	StateFailed
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	// DefaultHealthInterval is the backend health check cadence. It is
	// fixed regardless of the pipeline's frame-rate mode.
	DefaultHealthInterval = 5 * time.Second

	// DefaultHeartbeatTimeout is how long the backend may stay silent
	// before it is forcibly restarted.
	DefaultHeartbeatTimeout = 10 * time.Second

	// DefaultMaxRecoveryAttempts bounds automatic relaunches between
	// explicit Start calls.
	DefaultMaxRecoveryAttempts = 3

	// DefaultRecoveryDelay is the pause before each relaunch.
	DefaultRecoveryDelay = 2 * time.Second
)

// Config configures a Supervisor.
type Config struct {
	// Source is the backend to supervise.
	Source source.RawSource

	// Sink receives the source's frames and status lines.
	Sink source.Sink

	// OnStateChange, when set, is called after every state transition
	// with the error that caused it, if any. Callbacks arrive on
	// supervisor goroutines; consumers re-dispatch if they need a
	// particular execution context, and must not call Start or Stop
	// synchronously from the callback.
	OnStateChange func(st State, cause error)

	// MarkerPath overrides the orphan marker location. Empty uses
	// DefaultMarkerPath.
	MarkerPath string

	HealthInterval      time.Duration
	HeartbeatTimeout    time.Duration
	MaxRecoveryAttempts int
	RecoveryDelay       time.Duration

	// Clock drives health checks and recovery delays. Nil uses the
	// wall clock.
	Clock timeutil.Clock
}

// Supervisor drives one raw source through the idle, starting, running,
// recovering, failed, and paused states.
type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	state    State
	gen      int
	attempts int
	lastErr  error
	// heartbeatBase floors the silence measurement so a backend that has
	// not produced output yet is judged from its launch (or resume) time.
	heartbeatBase time.Time
	startedAt     time.Time
	cancel        context.CancelFunc
	wg            *sync.WaitGroup
}

// New creates a Supervisor for the given source.
func New(cfg Config) *Supervisor {
	if cfg.MarkerPath == "" {
		cfg.MarkerPath = DefaultMarkerPath()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = DefaultMaxRecoveryAttempts
	}
	if cfg.RecoveryDelay <= 0 {
		cfg.RecoveryDelay = DefaultRecoveryDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Supervisor{cfg: cfg}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error behind the current state, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Attempts returns the recovery attempts consumed since the last
// explicit Start.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// StartedAt returns when the backend last entered running.
func (s *Supervisor) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Start launches the backend. It is a no-op unless the supervisor is
// idle or failed; the launch itself happens on a background goroutine so
// callers never block on process spawning.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateFailed {
		st := s.state
		s.mu.Unlock()
		gaze.Diagf("backend start ignored while %s", st)
		return nil
	}

	if err := s.cfg.Source.Available(); err != nil {
		s.state = StateFailed
		s.lastErr = err
		cb := s.cfg.OnStateChange
		s.mu.Unlock()
		gaze.Opsf("backend unavailable: %v", err)
		if cb != nil {
			cb(StateFailed, err)
		}
		return err
	}

	s.gen++
	gen := s.gen
	s.attempts = 0
	s.lastErr = nil
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	wg := &sync.WaitGroup{}
	s.wg = wg
	s.state = StateStarting
	cb := s.cfg.OnStateChange
	s.mu.Unlock()

	gaze.Opsf("backend starting")
	if cb != nil {
		cb(StateStarting, nil)
	}

	// The ticker is created here rather than inside the loop goroutine
	// so a mock clock advanced right after Start cannot miss it.
	ticker := s.cfg.Clock.NewTicker(s.cfg.HealthInterval)
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.launch(runCtx, gen, wg, true)
	}()
	go s.healthLoop(runCtx, gen, wg, ticker)
	return nil
}

// Stop tears the backend down, invalidates any in-flight recovery, and
// returns the supervisor to idle. It is safe from any state.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.gen++
	prev := s.state
	cancel := s.cancel
	s.cancel = nil
	wg := s.wg
	s.wg = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := s.cfg.Source.Stop(); err != nil {
		gaze.Diagf("backend stop: %v", err)
	}
	if wg != nil {
		wg.Wait()
	}
	if err := RemoveMarker(s.cfg.MarkerPath); err != nil {
		gaze.Diagf("remove backend marker: %v", err)
	}

	s.mu.Lock()
	s.attempts = 0
	s.lastErr = nil
	s.state = StateIdle
	cb := s.cfg.OnStateChange
	s.mu.Unlock()

	if prev != StateIdle {
		gaze.Opsf("backend stopped")
		if cb != nil {
			cb(StateIdle, nil)
		}
	}
	return nil
}

// Pause suspends a running backend without tearing it down. Health
// checks are held off until Resume.
func (s *Supervisor) Pause() error {
	s.mu.Lock()
	if s.state != StateRunning {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot pause backend while %s", st)
	}
	p, ok := s.cfg.Source.(source.Pauser)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("backend does not support pausing")
	}
	if err := p.Pause(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = StatePaused
	cb := s.cfg.OnStateChange
	s.mu.Unlock()

	gaze.Opsf("backend paused")
	if cb != nil {
		cb(StatePaused, nil)
	}
	return nil
}

// Resume restarts frame delivery after a Pause.
func (s *Supervisor) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot resume backend while %s", st)
	}
	p := s.cfg.Source.(source.Pauser)
	if err := p.Resume(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = StateRunning
	// Silence accrued during the pause must not count as a missed
	// heartbeat.
	s.heartbeatBase = s.cfg.Clock.Now()
	cb := s.cfg.OnStateChange
	s.mu.Unlock()

	gaze.Opsf("backend resumed")
	if cb != nil {
		cb(StateRunning, nil)
	}
	return nil
}

// launch starts the source and settles the state machine on the result.
// Initial launch failures surface as failed; relaunch failures during
// recovery consume further recovery attempts.
func (s *Supervisor) launch(ctx context.Context, gen int, wg *sync.WaitGroup, initial bool) {
	err := s.cfg.Source.Start(ctx, s.cfg.Sink)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		// Superseded by Stop or a newer Start while the source was
		// spawning. Do not leak the instance we just created.
		if err == nil {
			if serr := s.cfg.Source.Stop(); serr != nil {
				gaze.Diagf("stop superseded backend: %v", serr)
			}
		}
		return
	}

	if err != nil {
		s.mu.Unlock()
		if initial {
			s.fail(gen, err)
			return
		}
		gaze.Diagf("backend relaunch failed: %v", err)
		s.scheduleRecovery(ctx, gen, wg, err)
		return
	}

	if initial {
		s.attempts = 0
	}
	s.state = StateRunning
	s.lastErr = nil
	s.heartbeatBase = s.cfg.Clock.Now()
	s.startedAt = s.heartbeatBase
	cb := s.cfg.OnStateChange
	s.mu.Unlock()

	pid := 0
	if pb, ok := s.cfg.Source.(source.ProcessBacked); ok {
		pid = pb.PID()
	}
	if pid > 0 {
		if werr := WriteMarker(s.cfg.MarkerPath, pid); werr != nil {
			gaze.Diagf("write backend marker: %v", werr)
		}
		gaze.Opsf("backend running (pid %d)", pid)
	} else {
		gaze.Opsf("backend running")
	}
	if cb != nil {
		cb(StateRunning, nil)
	}
}

// healthLoop checks the backend at a fixed cadence until the run context
// is canceled.
func (s *Supervisor) healthLoop(ctx context.Context, gen int, wg *sync.WaitGroup, ticker timeutil.Ticker) {
	defer wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.checkHealth(ctx, gen, wg)
		}
	}
}

func (s *Supervisor) checkHealth(ctx context.Context, gen int, wg *sync.WaitGroup) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	base := s.heartbeatBase
	s.mu.Unlock()

	src := s.cfg.Source

	if !src.Alive() {
		cause := src.Err()
		if cause == nil {
			cause = gaze.ErrUnexpectedExit
		}
		if !gaze.Recoverable(cause) {
			s.fail(gen, cause)
			return
		}
		s.scheduleRecovery(ctx, gen, wg, cause)
		return
	}

	last := src.LastOutput()
	if last.Before(base) {
		last = base
	}
	if silence := s.cfg.Clock.Since(last); silence > s.cfg.HeartbeatTimeout {
		gaze.Diagf("backend silent for %s, forcing restart", silence.Round(time.Millisecond))
		if err := src.Stop(); err != nil {
			gaze.Diagf("force stop: %v", err)
		}
		s.scheduleRecovery(ctx, gen, wg, gaze.ErrHeartbeatTimeout)
	}
}

// fail parks the supervisor in the terminal failed state. Only an
// explicit Stop or Start leaves it.
func (s *Supervisor) fail(gen int, cause error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.lastErr = cause
	cb := s.cfg.OnStateChange
	s.mu.Unlock()

	gaze.Opsf("backend failed: %v", cause)
	if cb != nil {
		cb(StateFailed, cause)
	}
}

// scheduleRecovery consumes one recovery attempt and relaunches after
// the recovery delay. Exhausting the attempt budget fails the backend.
func (s *Supervisor) scheduleRecovery(ctx context.Context, gen int, wg *sync.WaitGroup, cause error) {
	s.mu.Lock()
	if s.gen != gen || (s.state != StateRunning && s.state != StateStarting) {
		s.mu.Unlock()
		return
	}
	s.attempts++
	if s.attempts > s.cfg.MaxRecoveryAttempts {
		s.state = StateFailed
		s.lastErr = cause
		cb := s.cfg.OnStateChange
		s.mu.Unlock()

		gaze.Opsf("backend recovery exhausted after %d attempts: %v",
			s.cfg.MaxRecoveryAttempts, cause)
		if cb != nil {
			cb(StateFailed, cause)
		}
		return
	}
	attempt := s.attempts
	// The delay timer is armed before the state flip becomes visible so
	// a mock clock advanced on seeing recovering cannot miss it.
	timer := s.cfg.Clock.NewTimer(s.cfg.RecoveryDelay)
	s.state = StateRecovering
	s.lastErr = cause
	cb := s.cfg.OnStateChange
	s.mu.Unlock()

	gaze.Opsf("backend lost (%v), recovery %d/%d in %s",
		cause, attempt, s.cfg.MaxRecoveryAttempts, s.cfg.RecoveryDelay)
	if cb != nil {
		cb(StateRecovering, cause)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return
		}

		s.mu.Lock()
		if s.gen != gen || s.state != StateRecovering {
			s.mu.Unlock()
			return
		}
		s.state = StateStarting
		cb := s.cfg.OnStateChange
		s.mu.Unlock()

		if cb != nil {
			cb(StateStarting, nil)
		}
		s.launch(ctx, gen, wg, false)
	}()
}
