// Package estimator composes a full gaze tracking session behind one
// facade: the supervised backend producing raw samples, the smoothing
// pipeline consuming them, and the adaptive scheduler driving the
// ticks. Consumers see a smoothed display point, hover callbacks, a
// human-readable status, and the calibration corner; everything else
// stays internal.
//
// The facade lives in its own package rather than alongside the shared
// types: every stage package imports internal/gaze, so composing the
// stages there would close an import cycle.
package estimator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/gaze/filter"
	"github.com/openlook/gazeline/internal/gaze/pipeline"
	"github.com/openlook/gazeline/internal/gaze/recorder"
	"github.com/openlook/gazeline/internal/gaze/source"
	"github.com/openlook/gazeline/internal/gaze/supervisor"
	"github.com/openlook/gazeline/internal/timeutil"
)

const (
	// DefaultScreenWidth and DefaultScreenHeight are assumed when the
	// host never reports display geometry.
	DefaultScreenWidth  = 1920
	DefaultScreenHeight = 1080

	// DefaultRestartDelay lets the backend's resources settle between
	// the stop and the relaunch of an explicit Restart.
	DefaultRestartDelay = 500 * time.Millisecond

	// DefaultOrphanGrace is how long an orphaned backend gets to exit
	// after SIGTERM before it is killed.
	DefaultOrphanGrace = time.Second
)

// Config assembles an Estimator. Source is required; zero values
// elsewhere select the tuned defaults.
type Config struct {
	// Source is the backend producing raw samples. The estimator owns
	// its lifecycle through the supervisor.
	Source source.RawSource

	ScreenWidth  int
	ScreenHeight int

	Kalman          filter.KalmanConfig
	DeadZone        filter.DeadZoneConfig
	Stability       filter.StabilityConfig
	SpringStiffness float64

	// MarkerPath overrides the orphan marker location.
	MarkerPath string

	RestartDelay time.Duration
	OrphanGrace  time.Duration

	// HealthInterval, HeartbeatTimeout, MaxRecoveryAttempts, and
	// RecoveryDelay pass through to the backend supervisor. Zero
	// fields use the supervisor defaults.
	HealthInterval      time.Duration
	HeartbeatTimeout    time.Duration
	MaxRecoveryAttempts int
	RecoveryDelay       time.Duration

	// Recorder, when set, captures the session as a replayable trace.
	Recorder *recorder.Recorder

	// OnEstimate receives the published estimate once per tick, on the
	// tick goroutine.
	OnEstimate func(gaze.Estimate)

	// OnHover fires when the gaze dwells; same goroutine rules as
	// OnEstimate. Call ResetHoverEpisode once the hover is handled.
	OnHover func(gaze.Point)

	// OnSample fires for every gaze frame the backend delivers and
	// OnBlink for every blink, both on the producer goroutine. Meant for
	// rate counters; keep them cheap.
	OnSample func()
	OnBlink  func()

	// OnBackendState mirrors the supervisor's state transitions.
	// Callbacks arrive on supervisor goroutines and must not call back
	// into Start or Stop synchronously.
	OnBackendState func(st supervisor.State, cause error)

	// Clock drives the scheduler, the supervisor, and hover timing.
	// Nil uses the wall clock.
	Clock timeutil.Clock
}

// Estimator is one tracking session: Start to Stop, one backend, one
// pipeline. Methods are safe for concurrent use.
type Estimator struct {
	cfg    Config
	clock  timeutil.Clock
	width  int
	height int

	slot  *gaze.SampleSlot
	pipe  *pipeline.Pipeline
	sched *pipeline.Scheduler
	sup   *supervisor.Supervisor

	blinks atomic.Uint64

	mu      sync.Mutex
	running bool
	corner  gaze.CalibrationCorner
}

// New assembles an Estimator from the config. Nothing runs until Start.
func New(cfg Config) *Estimator {
	if cfg.ScreenWidth <= 0 {
		cfg.ScreenWidth = DefaultScreenWidth
	}
	if cfg.ScreenHeight <= 0 {
		cfg.ScreenHeight = DefaultScreenHeight
	}
	if cfg.Kalman == (filter.KalmanConfig{}) {
		cfg.Kalman = filter.DefaultKalmanConfig()
	}
	if cfg.DeadZone == (filter.DeadZoneConfig{}) {
		cfg.DeadZone = filter.DefaultDeadZoneConfig()
	}
	if cfg.Stability == (filter.StabilityConfig{}) {
		cfg.Stability = filter.DefaultStabilityConfig()
	}
	if cfg.SpringStiffness == 0 {
		cfg.SpringStiffness = filter.DefaultSpringStiffness
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = DefaultOrphanGrace
	}
	if cfg.MarkerPath == "" {
		cfg.MarkerPath = supervisor.DefaultMarkerPath()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	e := &Estimator{
		cfg:    cfg,
		clock:  clock,
		width:  cfg.ScreenWidth,
		height: cfg.ScreenHeight,
		slot:   &gaze.SampleSlot{},
		corner: gaze.CornerNone,
	}
	e.pipe = pipeline.New(pipeline.Config{
		Slot:       e.slot,
		Kalman:     filter.NewKalman(cfg.Kalman),
		DeadZone:   filter.NewDeadZone(cfg.DeadZone),
		Spring:     filter.NewSpring(cfg.SpringStiffness),
		Stability:  filter.NewStability(cfg.Stability, clock),
		OnEstimate: cfg.OnEstimate,
		OnHover:    cfg.OnHover,
		Recorder:   cfg.Recorder,
	})
	e.sched = pipeline.NewScheduler(clock, e.pipe.Tick)
	e.sup = supervisor.New(supervisor.Config{
		Source:              cfg.Source,
		Sink:                backendSink{e},
		OnStateChange:       cfg.OnBackendState,
		MarkerPath:          cfg.MarkerPath,
		HealthInterval:      cfg.HealthInterval,
		HeartbeatTimeout:    cfg.HeartbeatTimeout,
		MaxRecoveryAttempts: cfg.MaxRecoveryAttempts,
		RecoveryDelay:       cfg.RecoveryDelay,
		Clock:               clock,
	})
	return e
}

// Start reaps any orphaned backend from a previous session, launches
// the backend under supervision, and begins ticking. A second Start
// while running is a no-op.
func (e *Estimator) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	if err := supervisor.CleanupOrphan(e.cfg.MarkerPath, e.cfg.OrphanGrace); err != nil {
		gaze.Diagf("orphan cleanup: %v", err)
	}

	if err := e.sup.Start(context.Background()); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("failed to start backend: %w", err)
	}

	e.sched.Start()
	gaze.Opsf("tracking session started (%dx%d screen)", e.width, e.height)
	return nil
}

// Stop halts the tick, tears the backend down, and clears the session's
// filter state. Idempotent.
func (e *Estimator) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.corner = gaze.CornerNone
	e.mu.Unlock()

	e.sched.Stop()
	if err := e.sup.Stop(); err != nil {
		gaze.Diagf("backend stop: %v", err)
	}
	e.pipe.ResetSession()
	gaze.Opsf("tracking session stopped")
}

// Restart stops the session and starts it again after a short settle
// delay. It blocks for the delay.
func (e *Estimator) Restart() error {
	gaze.Opsf("restarting tracking session")
	e.Stop()

	t := e.clock.NewTimer(e.cfg.RestartDelay)
	defer t.Stop()
	<-t.C()

	return e.Start()
}

// Tuning is the runtime-adjustable subset of Config. Zero-valued fields
// fall back to the same defaults New applies.
type Tuning struct {
	Kalman          filter.KalmanConfig
	DeadZone        filter.DeadZoneConfig
	Stability       filter.StabilityConfig
	SpringStiffness float64
}

// ApplyTuning rebuilds the smoothing stages with new constants while the
// session keeps running. The backend and screen geometry are untouched.
// Filter state restarts from the next sample; the spring re-primes, so
// the display point snaps to the current gaze once rather than easing
// between tunings.
func (e *Estimator) ApplyTuning(t Tuning) {
	if t.Kalman == (filter.KalmanConfig{}) {
		t.Kalman = filter.DefaultKalmanConfig()
	}
	if t.DeadZone == (filter.DeadZoneConfig{}) {
		t.DeadZone = filter.DefaultDeadZoneConfig()
	}
	if t.Stability == (filter.StabilityConfig{}) {
		t.Stability = filter.DefaultStabilityConfig()
	}
	if t.SpringStiffness == 0 {
		t.SpringStiffness = filter.DefaultSpringStiffness
	}

	e.pipe.Retune(filter.NewKalman(t.Kalman),
		filter.NewDeadZone(t.DeadZone),
		filter.NewSpring(t.SpringStiffness),
		filter.NewStability(t.Stability, e.clock))
	gaze.Opsf("filter tuning applied")
}

// SetTrackingEnabled pauses or resumes pipeline consumption without
// touching the backend. Disabling clears the dead-zone and hover state.
func (e *Estimator) SetTrackingEnabled(v bool) {
	e.pipe.SetEnabled(v)
}

// SetHeavyProcessing switches the tick cadence: true selects the 15Hz
// low-power mode, false the 60Hz high-performance mode.
func (e *Estimator) SetHeavyProcessing(heavy bool) {
	e.sched.SetHeavyProcessing(heavy)
}

// ResetHoverEpisode re-arms the hover detector after the consumer has
// finished reacting to a fire.
func (e *Estimator) ResetHoverEpisode() {
	e.pipe.ResetHoverEpisode()
}

// Estimate returns the most recent published estimate.
func (e *Estimator) Estimate() gaze.Estimate {
	return e.pipe.Estimate()
}

// State returns the backend lifecycle state.
func (e *Estimator) State() supervisor.State {
	return e.sup.State()
}

// Err returns the error behind a failed backend state, if any.
func (e *Estimator) Err() error {
	return e.sup.Err()
}

// Status renders the session state for humans.
func (e *Estimator) Status() string {
	switch st := e.sup.State(); st {
	case supervisor.StateIdle:
		return "Stopped"
	case supervisor.StateStarting:
		return "Starting…"
	case supervisor.StateRunning:
		return "Ready"
	case supervisor.StateRecovering:
		return "Recovering…"
	case supervisor.StatePaused:
		return "Paused"
	case supervisor.StateFailed:
		if err := e.sup.Err(); err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return "Error: backend failed"
	default:
		return st.String()
	}
}

// Corner returns the calibration progression reported by the backend.
func (e *Estimator) Corner() gaze.CalibrationCorner {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.corner
}

// Stats returns a snapshot of the pipeline counters.
func (e *Estimator) Stats() pipeline.Stats {
	return e.pipe.Stats()
}

// Frames returns how many raw gaze samples the backend has delivered.
func (e *Estimator) Frames() uint64 {
	return e.slot.Writes()
}

// Blinks returns how many blink events the backend has delivered.
func (e *Estimator) Blinks() uint64 {
	return e.blinks.Load()
}

// Jitter returns the RMS spread of the recent display points in pixels.
func (e *Estimator) Jitter() float64 {
	return e.pipe.Jitter()
}

// Attempts returns the recovery attempts consumed since the last Start.
func (e *Estimator) Attempts() int {
	return e.sup.Attempts()
}

// StartedAt returns when the backend last entered running.
func (e *Estimator) StartedAt() time.Time {
	return e.sup.StartedAt()
}

// ScreenSize returns the resolved display geometry.
func (e *Estimator) ScreenSize() (width, height int) {
	return e.width, e.height
}

// backendSink routes decoded backend output into the session. Frame
// callbacks run on the producer goroutine, so they only touch the
// wait-free slot and atomic counters.
type backendSink struct {
	e *Estimator
}

func (s backendSink) HandleFrame(f source.Frame) {
	switch f.Type {
	case gaze.EventGaze:
		s.e.slot.Store(f.X, f.Y)
		if fn := s.e.cfg.OnSample; fn != nil {
			fn()
		}
	case gaze.EventBlink:
		s.e.blinks.Add(1)
		if fn := s.e.cfg.OnBlink; fn != nil {
			fn()
		}
		if rec := s.e.cfg.Recorder; rec != nil {
			err := rec.Record(recorder.TraceRecord{
				TimestampNs: s.e.clock.Now().UnixNano(),
				EventType:   int(gaze.EventBlink),
			})
			if err != nil {
				gaze.Diagf("trace record: %v", err)
			}
		}
	}
}

func (s backendSink) HandleStatus(st source.Status) {
	if st.Corner != gaze.CornerNone {
		s.e.mu.Lock()
		s.e.corner = st.Corner
		s.e.mu.Unlock()
	}
	if rec := s.e.cfg.Recorder; rec != nil {
		err := rec.Record(recorder.TraceRecord{
			TimestampNs: s.e.clock.Now().UnixNano(),
			Status:      st.Text,
		})
		if err != nil {
			gaze.Diagf("trace record: %v", err)
		}
	}
	gaze.Diagf("backend status: %s", st.Text)
}
