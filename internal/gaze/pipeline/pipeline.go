package pipeline

import (
	"sync"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/gaze/filter"
	"github.com/openlook/gazeline/internal/gaze/recorder"
)

// Stats counts pipeline activity since the last reset. Snapshots are
// read by the monitor endpoints and charts.
type Stats struct {
	// Ticks is the number of processed ticks.
	Ticks uint64
	// Samples is the number of ticks that consumed a fresh raw sample.
	Samples uint64
	// Hovers is the number of hover fires.
	Hovers uint64
	// Drops is the number of raw samples overwritten in the slot before
	// any tick consumed them.
	Drops uint64
	// FilterResets is the Kalman degenerate-state reset count.
	FilterResets uint64
}

// Config wires the pipeline stages together.
type Config struct {
	// Slot is the producer/consumer handoff register.
	Slot *gaze.SampleSlot

	Kalman    *filter.Kalman
	DeadZone  *filter.DeadZone
	Spring    *filter.Spring
	Stability *filter.Stability

	// OnEstimate receives the published estimate after every processed
	// tick. Called on the tick goroutine.
	OnEstimate func(gaze.Estimate)

	// OnHover receives the display point when a fixation fires. Called
	// on the tick goroutine.
	OnHover func(gaze.Point)

	// Recorder, when set, taps every processed tick into a trace.
	Recorder *recorder.Recorder
}

// Pipeline runs the smoothing stages once per scheduler tick. All stage
// state is touched only under the pipeline mutex, which the tick
// goroutine holds for the duration of a tick.
type Pipeline struct {
	cfg Config

	mu         sync.Mutex
	enabled    bool
	haveMode   bool
	mode       Mode
	lastWrites uint64
	estimate   gaze.Estimate
	stats      Stats
}

// New creates a Pipeline with tracking enabled.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg, enabled: true}
}

// Tick processes one scheduler tick: read the slot, run the smoothing
// stages, publish the estimate, and feed the stability detector.
func (p *Pipeline) Tick(now time.Time, mode Mode) {
	p.mu.Lock()

	if !p.enabled {
		p.mu.Unlock()
		return
	}

	// No producer write yet: nothing to smooth, and seeding the filter
	// from the zero value would drag the display to the origin.
	writes := p.cfg.Slot.Writes()
	if writes == 0 {
		p.mu.Unlock()
		return
	}
	fresh := writes != p.lastWrites
	if delta := writes - p.lastWrites; delta > 1 {
		p.stats.Drops += delta - 1
	}
	p.lastWrites = writes

	if !p.haveMode || mode != p.mode {
		p.cfg.Kalman.SetDt(mode.Interval().Seconds())
		p.haveMode = true
		p.mode = mode
	}

	x, y := p.cfg.Slot.Load()
	raw := gaze.Point{X: x, Y: y}

	filtered := p.cfg.Kalman.Update(raw)
	target := p.cfg.DeadZone.Apply(filtered, mode.Interval())
	display := p.cfg.Spring.Apply(target)

	est := gaze.Estimate{
		Display:         display,
		RawTarget:       raw,
		TrackingEnabled: true,
		LowPower:        mode == ModeLowPower,
	}
	p.estimate = est

	hovered := p.cfg.Stability.Observe(display)

	p.stats.Ticks++
	if fresh {
		p.stats.Samples++
	}
	if hovered {
		p.stats.Hovers++
	}
	p.stats.FilterResets = p.cfg.Kalman.Resets()

	rec := p.cfg.Recorder
	onEstimate := p.cfg.OnEstimate
	onHover := p.cfg.OnHover
	p.mu.Unlock()

	if rec != nil {
		eventType := 0
		if fresh {
			eventType = int(gaze.EventGaze)
		}
		if err := rec.Record(recorder.TraceRecord{
			TimestampNs: now.UnixNano(),
			EventType:   eventType,
			RawX:        raw.X,
			RawY:        raw.Y,
			FilteredX:   filtered.X,
			FilteredY:   filtered.Y,
			DisplayX:    display.X,
			DisplayY:    display.Y,
			Hover:       hovered,
		}); err != nil {
			gaze.Diagf("trace record: %v", err)
		}
	}
	if onEstimate != nil {
		onEstimate(est)
	}
	if hovered && onHover != nil {
		onHover(display)
	}
}

// Estimate returns the most recently published estimate.
func (p *Pipeline) Estimate() gaze.Estimate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimate
}

// Enabled reports whether ticks are being consumed.
func (p *Pipeline) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// SetEnabled pauses or resumes pipeline consumption. Disabling clears
// the dead-zone anchor and the stability episode so re-enabling starts
// from a clean slate; the backend itself is untouched.
func (p *Pipeline) SetEnabled(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enabled == v {
		return
	}
	p.enabled = v
	p.estimate.TrackingEnabled = v
	if v {
		gaze.Opsf("tracking consumption enabled")
	} else {
		p.cfg.DeadZone.Reset()
		p.cfg.Stability.Reset()
		gaze.Opsf("tracking consumption disabled")
	}
}

// ResetHoverEpisode re-arms the hover detector after the consumer has
// handled a fire.
func (p *Pipeline) ResetHoverEpisode() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Stability.ResetEpisode()
}

// ResetSession clears all stage state at a session boundary so the next
// session seeds fresh from its own first sample instead of resuming the
// previous fixation.
func (p *Pipeline) ResetSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Kalman.Reset()
	p.cfg.DeadZone.Reset()
	p.cfg.Spring.Reset()
	p.cfg.Stability.Reset()
	p.estimate = gaze.Estimate{TrackingEnabled: p.enabled}
	p.haveMode = false
}

// Retune swaps the smoothing stages for freshly built ones. Stage state
// restarts from the next sample and the Kalman reset counter restarts
// with the new filter. The mode is re-applied on the next tick so the
// new prediction interval matches the current cadence.
func (p *Pipeline) Retune(kal *filter.Kalman, dz *filter.DeadZone, spring *filter.Spring, stab *filter.Stability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Kalman = kal
	p.cfg.DeadZone = dz
	p.cfg.Spring = spring
	p.cfg.Stability = stab
	p.haveMode = false
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// StatsGetAndReset returns the counters and zeroes them.
func (p *Pipeline) StatsGetAndReset() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	p.stats = Stats{}
	return out
}

// Jitter returns the RMS distance of recent display points from their
// centroid, in pixels.
func (p *Pipeline) Jitter() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Stability.Jitter()
}
