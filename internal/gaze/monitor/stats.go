package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
)

// StatsSnapshot represents a snapshot of current pipeline statistics
type StatsSnapshot struct {
	SamplesPerSec   float64
	TicksPerSec     float64
	DroppedCount    int64
	BlinkCount      int64
	HoverCount      int64
	RecoveryCount   int64
	Timestamp       time.Time
	TrackingEnabled bool
}

// PipelineStats tracks gaze pipeline statistics with thread-safe operations
type PipelineStats struct {
	mu             sync.Mutex
	sampleCount    int64
	tickCount      int64
	droppedCount   int64
	blinkCount     int64
	hoverCount     int64
	recoveryCount  int64
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
}

// NewPipelineStats creates a new PipelineStats instance
func NewPipelineStats() *PipelineStats {
	now := time.Now()
	return &PipelineStats{
		lastReset: now,
		startTime: now,
	}
}

// AddSample increments the raw sample count
func (ps *PipelineStats) AddSample() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.sampleCount++
}

// AddTicks adds processed scheduler ticks
func (ps *PipelineStats) AddTicks(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.tickCount += int64(count)
}

// AddDropped adds samples overwritten before any tick consumed them
func (ps *PipelineStats) AddDropped(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount += int64(count)
}

// AddBlink increments the blink count
func (ps *PipelineStats) AddBlink() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.blinkCount++
}

// AddHover increments the hover fire count
func (ps *PipelineStats) AddHover() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.hoverCount++
}

// AddRecovery increments the backend recovery count
func (ps *PipelineStats) AddRecovery() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.recoveryCount++
}

// GetAndReset returns current stats and resets counters
func (ps *PipelineStats) GetAndReset() (samples int64, ticks int64, dropped int64, blinks int64, hovers int64, recoveries int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	samples = ps.sampleCount
	ticks = ps.tickCount
	dropped = ps.droppedCount
	blinks = ps.blinkCount
	hovers = ps.hoverCount
	recoveries = ps.recoveryCount

	ps.sampleCount = 0
	ps.tickCount = 0
	ps.droppedCount = 0
	ps.blinkCount = 0
	ps.hoverCount = 0
	ps.recoveryCount = 0
	ps.lastReset = now

	return
}

// LogStats logs formatted statistics and stores snapshot for web interface
func (ps *PipelineStats) LogStats(trackingEnabled bool) {
	samples, ticks, dropped, blinks, hovers, recoveries, duration := ps.GetAndReset()
	if samples > 0 || dropped > 0 || recoveries > 0 {
		samplesPerSec := float64(samples) / duration.Seconds()
		ticksPerSec := float64(ticks) / duration.Seconds()

		// Store snapshot for web interface
		ps.mu.Lock()
		ps.latestSnapshot = &StatsSnapshot{
			SamplesPerSec:   samplesPerSec,
			TicksPerSec:     ticksPerSec,
			DroppedCount:    dropped,
			BlinkCount:      blinks,
			HoverCount:      hovers,
			RecoveryCount:   recoveries,
			Timestamp:       time.Now(),
			TrackingEnabled: trackingEnabled,
		}
		ps.mu.Unlock()

		var logMsg string
		if trackingEnabled && ticks > 0 {
			logMsg = fmt.Sprintf("Gaze stats (/sec): %.1f samples, %.1f ticks",
				samplesPerSec, ticksPerSec)
		} else {
			logMsg = fmt.Sprintf("Gaze stats (/sec): %.1f samples, tracking paused",
				samplesPerSec)
		}

		if hovers > 0 {
			logMsg += fmt.Sprintf(", %d hovers", hovers)
		}
		if blinks > 0 {
			logMsg += fmt.Sprintf(", %d blinks", blinks)
		}
		if dropped > 0 {
			logMsg += fmt.Sprintf(", %d dropped in slot", dropped)
		}
		if recoveries > 0 {
			logMsg += fmt.Sprintf(", %d backend recoveries", recoveries)
		}

		gaze.Opsf("%s", logMsg)
	}
}

// GetUptime returns the time since the stats were created
func (ps *PipelineStats) GetUptime() time.Duration {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return time.Since(ps.startTime)
}

// GetLatestSnapshot returns the most recent stats snapshot for web interface
func (ps *PipelineStats) GetLatestSnapshot() *StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.latestSnapshot == nil {
		return nil
	}
	// Return a copy to avoid race conditions
	snapshot := *ps.latestSnapshot
	return &snapshot
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
