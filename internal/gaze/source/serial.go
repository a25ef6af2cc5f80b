package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/openlook/gazeline/internal/gaze"
)

// SerialPort is the minimal surface the serial source needs from a
// serial device.
type SerialPort interface {
	io.ReadWriter
	io.Closer
}

// SerialConfig configures the serial-attached sensor backend.
type SerialConfig struct {
	// Path is the device node, e.g. /dev/ttyUSB0.
	Path string

	// BaudRate defaults to 115200.
	BaudRate int

	// StartCommand and StopCommand are written to the device on start
	// and stop when non-empty, newline appended. Bench sensors use
	// these to begin and end streaming.
	StartCommand string
	StopCommand  string

	// Port overrides Path with an already-open port. Tests and bench
	// rigs with prepared connections use this.
	Port SerialPort
}

// Serial reads the frame protocol from a serial-attached gaze sensor.
// Bench rigs use this variant to feed the pipeline from development
// hardware without the helper process.
type Serial struct {
	cfg SerialConfig

	mu            sync.Mutex
	port          SerialPort
	wg            *sync.WaitGroup
	done          chan struct{}
	gen           int
	running       bool
	stopRequested bool
	err           error

	lastOutput atomic.Int64
}

// NewSerial returns an unstarted serial source.
func NewSerial(cfg SerialConfig) *Serial {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	return &Serial{cfg: cfg}
}

// Available reports whether the device node exists, or whether a port
// was supplied directly.
func (s *Serial) Available() error {
	if s.cfg.Port != nil {
		return nil
	}
	if s.cfg.Path == "" {
		return fmt.Errorf("%w: no serial device configured", gaze.ErrBackendUnavailable)
	}
	if _, err := os.Stat(s.cfg.Path); err != nil {
		return fmt.Errorf("%w: %s: %v", gaze.ErrBackendUnavailable, s.cfg.Path, err)
	}
	return nil
}

// Start opens the port and begins decoding the sensor stream into sink.
func (s *Serial) Start(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("serial source already running on %s", s.cfg.Path)
	}
	if err := s.Available(); err != nil {
		return err
	}

	port := s.cfg.Port
	if port == nil {
		mode := &serial.Mode{
			BaudRate: s.cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		p, err := serial.Open(s.cfg.Path, mode)
		if err != nil {
			return &gaze.LaunchError{Reason: fmt.Sprintf("open %s: %v", s.cfg.Path, err)}
		}
		port = p
	}

	if s.cfg.StartCommand != "" {
		if _, err := port.Write(append([]byte(s.cfg.StartCommand), '\n')); err != nil {
			port.Close()
			return &gaze.LaunchError{Reason: fmt.Sprintf("start command: %v", err)}
		}
	}

	s.port = port
	s.gen++
	s.running = true
	s.stopRequested = false
	s.err = nil
	s.done = make(chan struct{})
	s.lastOutput.Store(time.Now().UnixNano())

	gaze.Opsf("serial sensor started on %s @ %d baud", s.cfg.Path, s.cfg.BaudRate)

	wg := &sync.WaitGroup{}
	s.wg = wg
	wg.Add(1)
	go s.readLoop(wg, s.gen, port, sink)

	// Closing the port is the only way to interrupt a blocked read, so
	// tie it to the context as well.
	done := s.done
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}()
	return nil
}

// Stop sends the stop command if configured and closes the port.
// Idempotent.
func (s *Serial) Stop() error {
	s.mu.Lock()
	if !s.running || s.stopRequested {
		s.mu.Unlock()
		return nil
	}
	s.stopRequested = true
	port := s.port
	wg := s.wg
	close(s.done)
	s.mu.Unlock()

	if s.cfg.StopCommand != "" {
		if _, err := port.Write(append([]byte(s.cfg.StopCommand), '\n')); err != nil {
			gaze.Diagf("serial stop command: %v", err)
		}
	}
	port.Close()
	wg.Wait()
	return nil
}

// Alive reports whether the sensor stream is still being read.
func (s *Serial) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Err returns the error that took the stream down, if any.
func (s *Serial) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastOutput returns the arrival time of the most recent decoded output.
func (s *Serial) LastOutput() time.Time {
	ns := s.lastOutput.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Serial) touch() {
	s.lastOutput.Store(time.Now().UnixNano())
}

func (s *Serial) readLoop(wg *sync.WaitGroup, gen int, port SerialPort, sink Sink) {
	defer wg.Done()

	dec := NewDecoder(touchSink{inner: sink, touch: s.touch})
	_, copyErr := io.Copy(dec, port)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.running = false
	if s.stopRequested {
		gaze.Opsf("serial sensor stopped (%s)", s.cfg.Path)
		return
	}
	// The stream died on its own: release the context watcher and the
	// port, since no Stop will run for this generation.
	close(s.done)
	port.Close()
	if copyErr != nil {
		s.err = fmt.Errorf("%w: serial read: %v", gaze.ErrUnexpectedExit, copyErr)
	} else {
		s.err = fmt.Errorf("%w: serial stream closed", gaze.ErrUnexpectedExit)
	}
	gaze.Opsf("serial sensor lost: %v", s.err)
}
