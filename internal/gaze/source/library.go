package source

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/timeutil"
)

// LibraryStatus mirrors the embedded tracker's status values.
type LibraryStatus int

const (
	LibraryIdle LibraryStatus = iota
	LibraryRunning
	LibraryPaused
)

// LibraryError mirrors the embedded tracker's error values.
type LibraryError int

const (
	LibraryErrNone LibraryError = iota
	LibraryErrCamera
	LibraryErrModel
)

// LibraryFrame is one polled sample from the embedded tracker. Valid is
// false when the tracker had nothing new to report this poll.
type LibraryFrame struct {
	Valid     bool
	EventType int
	X         float64
	Y         float64
}

// TrackerLibrary is the embedded tracker entry point. Init returns nil
// when the library cannot come up, matching the underlying contract
// where init hands back a null handle.
type TrackerLibrary interface {
	Init(screenWidth, screenHeight int, eye gaze.EyePreference) TrackerHandle
}

// TrackerHandle is an initialized embedded tracker instance.
type TrackerHandle interface {
	Start()
	Stop()
	Pause()
	Resume()
	SetScreenSize(width, height int)
	Status() LibraryStatus
	LastError() LibraryError
	Frame() LibraryFrame
}

// LibraryConfig configures the embedded-library backend.
type LibraryConfig struct {
	Library      TrackerLibrary
	ScreenWidth  int
	ScreenHeight int
	Eye          gaze.EyePreference

	// PollInterval is the sampling cadence of the producer goroutine.
	// Defaults to 60Hz.
	PollInterval time.Duration

	// Clock lets tests single-step the poll loop.
	Clock timeutil.Clock
}

// Library drives an in-process tracker: Init at start, then a dedicated
// goroutine polls getFrame at a fixed interval and forwards valid
// samples to the sink. A camera or model error tears the source down so
// the supervisor can decide whether to relaunch.
type Library struct {
	cfg   LibraryConfig
	clock timeutil.Clock

	mu      sync.Mutex
	handle  TrackerHandle
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	gen     int
	running bool
	paused  bool
	err     error

	lastOutput atomic.Int64
}

// NewLibrary returns an unstarted embedded-library source.
func NewLibrary(cfg LibraryConfig) *Library {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second / 60
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Library{cfg: cfg, clock: clock}
}

// Available reports whether a tracker library is linked in.
func (l *Library) Available() error {
	if l.cfg.Library == nil {
		return fmt.Errorf("%w: no tracker library linked", gaze.ErrBackendUnavailable)
	}
	return nil
}

// Start initializes the tracker and begins polling it.
func (l *Library) Start(ctx context.Context, sink Sink) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("tracker already running")
	}
	if err := l.Available(); err != nil {
		return err
	}

	handle := l.cfg.Library.Init(l.cfg.ScreenWidth, l.cfg.ScreenHeight, l.cfg.Eye)
	if handle == nil {
		return gaze.ErrInitializationFailed
	}
	handle.Start()

	ctx, cancel := context.WithCancel(ctx)
	l.handle = handle
	l.cancel = cancel
	l.gen++
	l.running = true
	l.paused = false
	l.err = nil
	l.lastOutput.Store(l.clock.Now().UnixNano())

	gaze.Opsf("embedded tracker started (%dx%d, %s eye)",
		l.cfg.ScreenWidth, l.cfg.ScreenHeight, l.cfg.Eye)

	wg := &sync.WaitGroup{}
	l.wg = wg
	wg.Add(1)
	go l.poll(ctx, l.gen, handle, sink, wg)
	return nil
}

// Stop shuts the tracker down. Idempotent.
func (l *Library) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	handle := l.handle
	cancel := l.cancel
	wg := l.wg
	l.mu.Unlock()

	cancel()
	wg.Wait()
	handle.Stop()
	gaze.Opsf("embedded tracker stopped")
	return nil
}

// Pause suspends sample production without tearing the tracker down.
func (l *Library) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return fmt.Errorf("tracker not running")
	}
	if !l.paused {
		l.handle.Pause()
		l.paused = true
	}
	return nil
}

// Resume restarts sample production after Pause.
func (l *Library) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return fmt.Errorf("tracker not running")
	}
	if l.paused {
		l.handle.Resume()
		l.paused = false
	}
	return nil
}

// SetScreenSize forwards a display geometry change to the tracker.
func (l *Library) SetScreenSize(width, height int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.ScreenWidth, l.cfg.ScreenHeight = width, height
	if l.handle != nil {
		l.handle.SetScreenSize(width, height)
	}
}

// Alive reports whether the tracker is initialized and healthy.
func (l *Library) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Err returns the error that took the tracker down, if any.
func (l *Library) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// LastOutput returns the arrival time of the most recent valid sample.
func (l *Library) LastOutput() time.Time {
	ns := l.lastOutput.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (l *Library) poll(ctx context.Context, gen int, handle TrackerHandle, sink Sink, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := l.clock.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		if libErr := handle.LastError(); libErr != LibraryErrNone {
			l.fail(gen, libErr)
			return
		}

		f := handle.Frame()
		if !f.Valid {
			continue
		}
		switch typ := gaze.EventType(f.EventType); typ {
		case gaze.EventGaze, gaze.EventBlink:
			l.lastOutput.Store(l.clock.Now().UnixNano())
			sink.HandleFrame(Frame{Type: typ, X: f.X, Y: f.Y})
		default:
			gaze.Tracef("tracker: ignoring %s frame", typ)
		}
	}
}

// fail records a tracker-reported error and marks the source dead. The
// generation check keeps a stale poller from a previous run from
// touching the state of a relaunched tracker.
func (l *Library) fail(gen int, libErr LibraryError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen || !l.running {
		return
	}
	l.running = false
	switch libErr {
	case LibraryErrCamera:
		l.err = gaze.ErrDeviceError
	case LibraryErrModel:
		l.err = gaze.ErrModelError
	default:
		l.err = fmt.Errorf("tracker error %d", libErr)
	}
	gaze.Opsf("embedded tracker failed: %v", l.err)
}
