// This file provides a synthetic tracker for testing and demos: it
// satisfies the embedded-library contract without any hardware.
package source

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
)

// SyntheticLibrary fabricates gaze data in place of the vendor tracker.
// With no script queued it synthesizes noisy fixations that hop between
// random targets, which is enough to exercise the whole pipeline from a
// demo command.
type SyntheticLibrary struct {
	// FailInit makes Init return a nil handle, imitating a tracker that
	// cannot come up.
	FailInit bool

	// Target is the fixation point frames cluster around until a hop.
	Target gaze.Point

	// Noise is the uniform jitter amplitude in pixels.
	Noise float64

	// HopEvery is the number of frames between fixation hops; 0 keeps
	// the target fixed.
	HopEvery int

	// Seed fixes the jitter sequence. 0 seeds from the wall clock.
	Seed int64

	mu     sync.Mutex
	handle *SyntheticHandle
}

// Init hands out a handle, or nil when FailInit is set.
func (l *SyntheticLibrary) Init(screenWidth, screenHeight int, eye gaze.EyePreference) TrackerHandle {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailInit {
		return nil
	}
	seed := l.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	noise := l.Noise
	if noise == 0 {
		noise = 3
	}
	h := &SyntheticHandle{
		width:    screenWidth,
		height:   screenHeight,
		target:   l.Target,
		noise:    noise,
		hopEvery: l.HopEvery,
		rng:      rand.New(rand.NewSource(seed)),
	}
	if h.target == (gaze.Point{}) {
		h.target = gaze.Point{X: float64(screenWidth) / 2, Y: float64(screenHeight) / 2}
	}
	l.handle = h
	return h
}

// Handle returns the most recently initialized handle, for tests that
// need to poke it directly.
func (l *SyntheticLibrary) Handle() *SyntheticHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle
}

// SyntheticHandle is the live state behind a SyntheticLibrary handle.
type SyntheticHandle struct {
	mu       sync.Mutex
	status   LibraryStatus
	lastErr  LibraryError
	width    int
	height   int
	target   gaze.Point
	noise    float64
	hopEvery int
	polls    int
	script   []LibraryFrame
	rng      *rand.Rand
}

func (h *SyntheticHandle) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = LibraryRunning
}

func (h *SyntheticHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = LibraryIdle
}

func (h *SyntheticHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == LibraryRunning {
		h.status = LibraryPaused
	}
}

func (h *SyntheticHandle) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == LibraryPaused {
		h.status = LibraryRunning
	}
}

func (h *SyntheticHandle) SetScreenSize(width, height int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.width, h.height = width, height
}

func (h *SyntheticHandle) Status() LibraryStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// ScreenSize returns the geometry the tracker was last given.
func (h *SyntheticHandle) ScreenSize() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width, h.height
}

func (h *SyntheticHandle) LastError() LibraryError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// InjectError makes the next poll observe a tracker failure.
func (h *SyntheticHandle) InjectError(e LibraryError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = e
}

// Push queues scripted frames that take precedence over synthesis.
func (h *SyntheticHandle) Push(frames ...LibraryFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.script = append(h.script, frames...)
}

// Frame returns the next sample: a queued scripted frame if any,
// otherwise a jittered fixation around the current target.
func (h *SyntheticHandle) Frame() LibraryFrame {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status != LibraryRunning {
		return LibraryFrame{}
	}
	if len(h.script) > 0 {
		f := h.script[0]
		h.script = h.script[1:]
		return f
	}

	h.polls++
	if h.hopEvery > 0 && h.polls%h.hopEvery == 0 {
		h.target = gaze.Point{
			X: h.rng.Float64() * float64(h.width),
			Y: h.rng.Float64() * float64(h.height),
		}
	}
	// Occasional blink, roughly every few seconds at 60Hz.
	if h.rng.Float64() < 0.005 {
		return LibraryFrame{Valid: true, EventType: int(gaze.EventBlink)}
	}
	return LibraryFrame{
		Valid:     true,
		EventType: int(gaze.EventGaze),
		X:         clampAxis(h.target.X+(h.rng.Float64()*2-1)*h.noise, float64(h.width)),
		Y:         clampAxis(h.target.Y+(h.rng.Float64()*2-1)*h.noise, float64(h.height)),
	}
}

func clampAxis(v, max float64) float64 {
	return math.Max(0, math.Min(v, max))
}
