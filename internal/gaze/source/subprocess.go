package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
)

// SubprocessConfig configures the helper-process backend.
type SubprocessConfig struct {
	// Path is the helper executable, absolute or on PATH.
	Path string

	// Args are passed through to the helper unchanged.
	Args []string

	// GracePeriod is how long Stop waits after closing the helper's
	// stdin before killing the process. Defaults to one second.
	GracePeriod time.Duration
}

const defaultGracePeriod = time.Second

// Subprocess runs the tracking helper as a child process and decodes the
// frame protocol from its stdout. The helper is asked to exit by closing
// its stdin; a helper that ignores the request is killed after the grace
// period.
type Subprocess struct {
	cfg SubprocessConfig

	mu            sync.Mutex
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	cancel        context.CancelFunc
	wg            *sync.WaitGroup
	done          chan struct{}
	gen           int
	running       bool
	stopRequested bool
	err           error

	lastOutput atomic.Int64 // unix nanoseconds, 0 until first output
}

// NewSubprocess returns an unstarted subprocess source.
func NewSubprocess(cfg SubprocessConfig) *Subprocess {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	return &Subprocess{cfg: cfg}
}

// Available reports whether the helper executable can be found.
func (s *Subprocess) Available() error {
	if s.cfg.Path == "" {
		return fmt.Errorf("%w: no helper executable configured", gaze.ErrBackendUnavailable)
	}
	if _, err := exec.LookPath(s.cfg.Path); err != nil {
		return fmt.Errorf("%w: %s not found", gaze.ErrBackendUnavailable, s.cfg.Path)
	}
	return nil
}

// Start launches the helper and begins decoding its stdout into sink.
func (s *Subprocess) Start(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("helper already running (pid %d)", s.cmd.Process.Pid)
	}
	if err := s.Available(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, s.cfg.Path, s.cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return &gaze.LaunchError{Reason: "stdin pipe: " + err.Error()}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return &gaze.LaunchError{Reason: "stdout pipe: " + err.Error()}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return &gaze.LaunchError{Reason: "stderr pipe: " + err.Error()}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return &gaze.LaunchError{Reason: err.Error()}
	}

	s.cmd = cmd
	s.stdin = stdin
	s.cancel = cancel
	s.gen++
	s.running = true
	s.stopRequested = false
	s.err = nil
	s.done = make(chan struct{})
	s.lastOutput.Store(time.Now().UnixNano())

	gaze.Opsf("helper started: %s (pid %d)", s.cfg.Path, cmd.Process.Pid)

	wg := &sync.WaitGroup{}
	s.wg = wg
	wg.Add(3)
	go s.readOutput(wg, stdout, sink)
	go s.readStderr(wg, stderr)
	go s.waitProcess(wg, s.gen, cmd, s.done, cancel)
	return nil
}

// Stop asks the helper to exit, waits out the grace period, and kills it
// if it is still alive. Idempotent.
func (s *Subprocess) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.stopRequested = true
	stdin := s.stdin
	cmd := s.cmd
	cancel := s.cancel
	done := s.done
	wg := s.wg
	s.mu.Unlock()

	// Closing stdin is the graceful exit request.
	if stdin != nil {
		stdin.Close()
	}

	select {
	case <-done:
	case <-time.After(s.cfg.GracePeriod):
		gaze.Diagf("helper pid %d ignored stdin close for %v, killing",
			cmd.Process.Pid, s.cfg.GracePeriod)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			gaze.Diagf("kill helper pid %d: %v", cmd.Process.Pid, err)
		}
		<-done
	}

	cancel()
	wg.Wait()
	return nil
}

// Alive reports whether the helper process is still running.
func (s *Subprocess) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Err returns the error that took the helper down, if any.
func (s *Subprocess) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastOutput returns the arrival time of the most recent decoded output.
func (s *Subprocess) LastOutput() time.Time {
	ns := s.lastOutput.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// PID returns the helper's process id, or 0 before the first start.
func (s *Subprocess) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Subprocess) touch() {
	s.lastOutput.Store(time.Now().UnixNano())
}

func (s *Subprocess) readOutput(wg *sync.WaitGroup, stdout io.Reader, sink Sink) {
	defer wg.Done()

	dec := NewDecoder(touchSink{inner: sink, touch: s.touch})
	if _, err := io.Copy(dec, stdout); err != nil {
		gaze.Tracef("helper stdout closed: %v", err)
	}
}

func (s *Subprocess) readStderr(wg *sync.WaitGroup, stderr io.Reader) {
	defer wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		gaze.Diagf("helper stderr: %s", scanner.Text())
	}
}

// waitProcess reaps the helper so it never lingers as a zombie, and
// classifies the exit. The generation check keeps a stale waiter from a
// previous run from clobbering the state of a relaunched helper.
func (s *Subprocess) waitProcess(wg *sync.WaitGroup, gen int, cmd *exec.Cmd, done chan struct{}, cancel context.CancelFunc) {
	defer wg.Done()
	defer cancel()

	waitErr := cmd.Wait()

	s.mu.Lock()
	if s.gen == gen {
		s.running = false
		switch {
		case s.stopRequested:
			gaze.Opsf("helper stopped (pid %d)", cmd.Process.Pid)
		case waitErr != nil:
			s.err = fmt.Errorf("%w: %v", gaze.ErrUnexpectedExit, waitErr)
			gaze.Opsf("helper exited unexpectedly (pid %d): %v", cmd.Process.Pid, waitErr)
		default:
			s.err = gaze.ErrUnexpectedExit
			gaze.Opsf("helper exited unexpectedly with status 0 (pid %d)", cmd.Process.Pid)
		}
	}
	s.mu.Unlock()
	close(done)
}

// touchSink stamps the arrival time of every decoded event before
// passing it on.
type touchSink struct {
	inner Sink
	touch func()
}

func (t touchSink) HandleFrame(f Frame)   { t.touch(); t.inner.HandleFrame(f) }
func (t touchSink) HandleStatus(u Status) { t.touch(); t.inner.HandleStatus(u) }
