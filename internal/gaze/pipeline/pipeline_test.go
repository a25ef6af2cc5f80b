package pipeline

import (
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/gaze/filter"
	"github.com/openlook/gazeline/internal/gaze/recorder"
	"github.com/openlook/gazeline/internal/timeutil"
)

type pipelineHarness struct {
	clock *timeutil.MockClock
	slot  *gaze.SampleSlot
	kal   *filter.Kalman
	pipe  *Pipeline

	mu        sync.Mutex
	estimates []gaze.Estimate
	hovers    []gaze.Point
}

func newPipelineHarness(t *testing.T, rec *recorder.Recorder) *pipelineHarness {
	t.Helper()

	h := &pipelineHarness{
		clock: timeutil.NewMockClock(time.Unix(7000, 0)),
		slot:  &gaze.SampleSlot{},
		kal:   filter.NewKalman(filter.DefaultKalmanConfig()),
	}
	h.pipe = New(Config{
		Slot:      h.slot,
		Kalman:    h.kal,
		DeadZone:  filter.NewDeadZone(filter.DefaultDeadZoneConfig()),
		Spring:    filter.NewSpring(filter.DefaultSpringStiffness),
		Stability: filter.NewStability(filter.DefaultStabilityConfig(), h.clock),
		OnEstimate: func(e gaze.Estimate) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.estimates = append(h.estimates, e)
		},
		OnHover: func(p gaze.Point) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.hovers = append(h.hovers, p)
		},
		Recorder: rec,
	})
	return h
}

// tick runs one pipeline tick at the current mock time and then advances
// the clock by the mode interval, mirroring the scheduler cadence.
func (h *pipelineHarness) tick(mode Mode) {
	h.pipe.Tick(h.clock.Now(), mode)
	h.clock.Advance(mode.Interval())
}

func (h *pipelineHarness) hoverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hovers)
}

func TestPipelineSteadyGazeFiresHoverOnce(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.slot.Store(500, 500)

	// Two seconds of steady fixation at 60Hz.
	for i := 0; i < 120; i++ {
		h.tick(ModeHighPerformance)
	}

	est := h.pipe.Estimate()
	assert.True(t, est.TrackingEnabled)
	assert.False(t, est.LowPower)
	assert.InDelta(t, 500, est.Display.X, 15)
	assert.InDelta(t, 500, est.Display.Y, 15)

	// The dwell threshold passes once; the episode latch holds after that.
	assert.Equal(t, 1, h.hoverCount())
	assert.InDelta(t, 500, h.hovers[0].X, 15)

	st := h.pipe.Stats()
	assert.Equal(t, uint64(120), st.Ticks)
	assert.Equal(t, uint64(1), st.Samples)
	assert.Equal(t, uint64(1), st.Hovers)
}

func TestPipelineHoverRefiresAfterEpisodeReset(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.slot.Store(300, 300)

	for i := 0; i < 30; i++ {
		h.tick(ModeHighPerformance)
	}
	require.Equal(t, 1, h.hoverCount())

	h.pipe.ResetHoverEpisode()

	// Cooldown still suppresses an immediate refire.
	for i := 0; i < 30; i++ {
		h.tick(ModeHighPerformance)
	}
	assert.Equal(t, 1, h.hoverCount())

	// Past the cooldown the re-armed dwell fires again.
	for i := 0; i < 120; i++ {
		h.tick(ModeHighPerformance)
	}
	assert.Equal(t, 2, h.hoverCount())
}

func TestPipelineSkipsUntilFirstSample(t *testing.T) {
	h := newPipelineHarness(t, nil)

	for i := 0; i < 10; i++ {
		h.tick(ModeHighPerformance)
	}

	assert.Equal(t, Stats{}, h.pipe.Stats())
	assert.Equal(t, gaze.Estimate{}, h.pipe.Estimate())
	assert.Empty(t, h.estimates)

	// The first published sample unblocks processing.
	h.slot.Store(100, 200)
	h.tick(ModeHighPerformance)
	assert.Equal(t, uint64(1), h.pipe.Stats().Ticks)
	assert.Len(t, h.estimates, 1)
}

func TestPipelineDisableSkipsAndResets(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.slot.Store(400, 400)

	for i := 0; i < 20; i++ {
		h.tick(ModeHighPerformance)
	}
	require.Equal(t, 1, h.hoverCount())
	before := h.pipe.Stats().Ticks

	h.pipe.SetEnabled(false)
	assert.False(t, h.pipe.Enabled())
	assert.False(t, h.pipe.Estimate().TrackingEnabled)

	for i := 0; i < 20; i++ {
		h.tick(ModeHighPerformance)
	}
	assert.Equal(t, before, h.pipe.Stats().Ticks)

	// Re-enabling starts a fresh dwell rather than resuming the old one.
	h.pipe.SetEnabled(true)
	assert.True(t, h.pipe.Estimate().TrackingEnabled)
	h.tick(ModeHighPerformance)
	assert.Equal(t, before+1, h.pipe.Stats().Ticks)
}

func TestPipelineSetEnabledIdempotent(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.pipe.SetEnabled(true)
	assert.True(t, h.pipe.Enabled())
	h.pipe.SetEnabled(false)
	h.pipe.SetEnabled(false)
	assert.False(t, h.pipe.Enabled())
}

func TestPipelineModeChangeRetunesPrediction(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.slot.Store(100, 100)

	h.tick(ModeHighPerformance)
	assert.InDelta(t, 1.0/60.0, h.kal.Config.Dt, 1e-6)

	h.tick(ModeLowPower)
	assert.InDelta(t, 1.0/15.0, h.kal.Config.Dt, 1e-6)
	assert.True(t, h.pipe.Estimate().LowPower)

	// Steady mode leaves the tuning alone.
	h.tick(ModeLowPower)
	assert.InDelta(t, 1.0/15.0, h.kal.Config.Dt, 1e-6)
}

func TestPipelineRetuneReprimesStages(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.slot.Store(100, 100)
	h.tick(ModeHighPerformance)
	require.Equal(t, gaze.Point{X: 100, Y: 100}, h.pipe.Estimate().Display)

	// Fresh stages seed from the next sample, so the display snaps
	// straight to it instead of easing away from the old fixation.
	kal := filter.NewKalman(filter.KalmanConfig{
		Dt:               1,
		ProcessNoisePos:  0.1,
		ProcessNoiseVel:  1.0,
		MeasurementNoise: 2.0,
	})
	h.pipe.Retune(
		kal,
		filter.NewDeadZone(filter.DefaultDeadZoneConfig()),
		filter.NewSpring(filter.MinSpringStiffness),
		filter.NewStability(filter.DefaultStabilityConfig(), h.clock),
	)
	h.slot.Store(500, 500)
	h.tick(ModeHighPerformance)

	est := h.pipe.Estimate()
	assert.Equal(t, gaze.Point{X: 500, Y: 500}, est.Display)
	assert.Equal(t, gaze.Point{X: 500, Y: 500}, est.RawTarget)

	// The replacement Kalman picks up the running cadence even though
	// the mode itself never changed.
	assert.InDelta(t, 1.0/60.0, kal.Config.Dt, 1e-6)
}

func TestPipelineRecordsTrace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")
	rec, err := recorder.NewRecorder(dir, "synthetic", 1920, 1080)
	require.NoError(t, err)

	h := newPipelineHarness(t, rec)
	h.slot.Store(640, 360)
	h.tick(ModeHighPerformance)
	h.tick(ModeHighPerformance)
	h.slot.Store(650, 370)
	h.tick(ModeHighPerformance)
	require.NoError(t, rec.Close())

	r, err := recorder.NewReader(dir)
	require.NoError(t, err)
	require.Equal(t, uint64(3), r.TotalRecords())

	first, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, int(gaze.EventGaze), first.EventType)
	assert.Equal(t, 640.0, first.RawX)
	assert.InDelta(t, 640, first.DisplayX, 1)

	second, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, 0, second.EventType)

	third, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, int(gaze.EventGaze), third.EventType)
	assert.Equal(t, 650.0, third.RawX)

	_, err = r.ReadRecord()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPipelineStatsGetAndReset(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.slot.Store(10, 10)
	h.tick(ModeHighPerformance)
	h.slot.Store(20, 20)
	h.tick(ModeHighPerformance)
	h.tick(ModeHighPerformance)

	st := h.pipe.StatsGetAndReset()
	assert.Equal(t, uint64(3), st.Ticks)
	assert.Equal(t, uint64(2), st.Samples)
	assert.Equal(t, Stats{}, h.pipe.Stats())
}

func TestPipelineCountsDroppedSamples(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.slot.Store(100, 100)
	h.tick(ModeHighPerformance)

	// Three producer writes land between ticks; only the last survives
	// the slot, so two were never consumed.
	h.slot.Store(200, 200)
	h.slot.Store(300, 300)
	h.slot.Store(400, 400)
	h.tick(ModeHighPerformance)

	st := h.pipe.Stats()
	assert.Equal(t, uint64(2), st.Drops)
	assert.Equal(t, uint64(2), st.Samples)
	assert.Equal(t, gaze.Point{X: 400, Y: 400}, h.pipe.Estimate().RawTarget)
}

func TestPipelineJitterTracksSpread(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.slot.Store(100, 100)
	for i := 0; i < 10; i++ {
		h.tick(ModeHighPerformance)
	}
	settled := h.pipe.Jitter()

	// A jumpy signal spreads the recent history.
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			h.slot.Store(100, 100)
		} else {
			h.slot.Store(900, 900)
		}
		h.tick(ModeHighPerformance)
	}
	assert.Greater(t, h.pipe.Jitter(), settled)
}
