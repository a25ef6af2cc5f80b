package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/gaze/recorder"
	"github.com/openlook/gazeline/internal/timeutil"
)

// ErrReplayComplete marks the clean end of a non-looping trace replay.
var ErrReplayComplete = errors.New("trace replay complete")

// ReplayConfig configures a trace replay source.
type ReplayConfig struct {
	// Path is a trace directory written by the recorder.
	Path string

	// Speed multiplies the playback rate. Zero plays at recorded speed.
	Speed float64

	// Loop rewinds the trace when it ends instead of finishing.
	Loop bool

	// Clock paces playback. Nil uses the wall clock.
	Clock timeutil.Clock
}

// Replay feeds a recorded trace back into the pipeline at its native
// cadence, so filter changes can be judged against captured sessions.
type Replay struct {
	cfg ReplayConfig

	mu            sync.Mutex
	wg            *sync.WaitGroup
	done          chan struct{}
	gen           int
	running       bool
	stopRequested bool
	err           error

	lastOutput atomic.Int64
}

// NewReplay creates a replay source for the given trace.
func NewReplay(cfg ReplayConfig) *Replay {
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Replay{cfg: cfg}
}

// Available reports whether the trace directory holds a readable header.
func (r *Replay) Available() error {
	if _, err := os.Stat(filepath.Join(r.cfg.Path, "header.json")); err != nil {
		return fmt.Errorf("%w: trace %s: %v", gaze.ErrBackendUnavailable, r.cfg.Path, err)
	}
	return nil
}

// Start opens the trace and begins playback into sink.
func (r *Replay) Start(ctx context.Context, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("replay already running from %s", r.cfg.Path)
	}

	reader, err := recorder.NewReader(r.cfg.Path)
	if err != nil {
		return &gaze.LaunchError{Reason: fmt.Sprintf("open trace %s: %v", r.cfg.Path, err)}
	}

	r.gen++
	r.running = true
	r.stopRequested = false
	r.err = nil
	r.done = make(chan struct{})
	r.wg = &sync.WaitGroup{}
	r.lastOutput.Store(time.Now().UnixNano())

	gaze.Opsf("replay started: %s (%d records at %gx)",
		r.cfg.Path, reader.TotalRecords(), r.cfg.Speed)

	r.wg.Add(1)
	go r.playLoop(r.wg, r.gen, r.done, reader, sink)
	go func(done chan struct{}) {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-done:
		}
	}(r.done)
	return nil
}

// Stop halts playback. It is safe to call more than once.
func (r *Replay) Stop() error {
	r.mu.Lock()
	if !r.running || r.stopRequested {
		r.mu.Unlock()
		return nil
	}
	r.stopRequested = true
	wg := r.wg
	close(r.done)
	r.mu.Unlock()

	wg.Wait()
	return nil
}

// Alive reports whether playback is still in progress.
func (r *Replay) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Err returns the error that ended playback, if any.
func (r *Replay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// LastOutput returns the delivery time of the most recent record.
func (r *Replay) LastOutput() time.Time {
	ns := r.lastOutput.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (r *Replay) playLoop(wg *sync.WaitGroup, gen int, done chan struct{}, reader *recorder.Reader, sink Sink) {
	defer wg.Done()

	playErr := r.play(done, reader, sink)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	r.running = false
	if r.stopRequested {
		gaze.Opsf("replay stopped: %s", r.cfg.Path)
		return
	}
	// Playback ended on its own: release the context watcher, since no
	// Stop will run for this generation.
	close(r.done)
	r.err = playErr
	gaze.Opsf("replay finished: %v", playErr)
}

// play walks the trace, sleeping out the recorded gap between records.
// A nil return means playback was interrupted through done.
func (r *Replay) play(done chan struct{}, reader *recorder.Reader, sink Sink) error {
	var prevTs int64
	first := true

	for {
		select {
		case <-done:
			return nil
		default:
		}

		rec, err := reader.ReadRecord()
		if err == io.EOF {
			if r.cfg.Loop && reader.TotalRecords() > 0 {
				if err := reader.Seek(0); err != nil {
					return fmt.Errorf("%w: rewind trace: %v", gaze.ErrUnexpectedExit, err)
				}
				first = true
				continue
			}
			return ErrReplayComplete
		}
		if err != nil {
			return fmt.Errorf("%w: read trace: %v", gaze.ErrUnexpectedExit, err)
		}

		if !first && rec.TimestampNs > prevTs {
			gap := time.Duration(float64(rec.TimestampNs-prevTs) / r.cfg.Speed)
			timer := r.cfg.Clock.NewTimer(gap)
			select {
			case <-timer.C():
			case <-done:
				timer.Stop()
				return nil
			}
		}
		first = false
		prevTs = rec.TimestampNs

		r.deliver(sink, rec)
	}
}

func (r *Replay) deliver(sink Sink, rec recorder.TraceRecord) {
	r.lastOutput.Store(time.Now().UnixNano())

	if rec.Status != "" {
		sink.HandleStatus(ParseStatus(rec.Status))
		return
	}
	switch typ := gaze.EventType(rec.EventType); typ {
	case gaze.EventGaze, gaze.EventBlink:
		sink.HandleFrame(Frame{Type: typ, X: rec.RawX, Y: rec.RawY})
	default:
		// Pure filter ticks carry no raw event; the live pipeline
		// re-derives those on its own ticker.
	}
}
