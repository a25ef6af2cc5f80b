package source

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlook/gazeline/internal/gaze"
)

// captureSink records everything a source delivers. Shared by the
// decoder, subprocess, library, serial, and replay tests.
type captureSink struct {
	mu       sync.Mutex
	frames   []Frame
	statuses []Status
}

func (c *captureSink) HandleFrame(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *captureSink) HandleStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, s)
}

func (c *captureSink) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func (c *captureSink) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Status(nil), c.statuses...)
}

func TestDecoderGazeFrame(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	dec := NewDecoder(sink)

	wire := EncodeFrame(nil, gaze.EventGaze, 512.25, 384.5)
	require.Len(t, wire, FrameSize)

	n, err := dec.Write(wire)
	require.NoError(t, err)
	assert.Equal(t, FrameSize, n)

	frames := sink.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{Type: gaze.EventGaze, X: 512.25, Y: 384.5}, frames[0])
	assert.Zero(t, dec.Buffered())
}

// TestDecoderTruncatedFrameRetried feeds a frame one byte at a time: no
// output until the 17th byte lands, then exactly one frame.
func TestDecoderTruncatedFrameRetried(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	dec := NewDecoder(sink)

	wire := EncodeFrame(nil, gaze.EventGaze, 100, 200)
	for i, b := range wire {
		_, err := dec.Write([]byte{b})
		require.NoError(t, err)
		if i < FrameSize-1 {
			assert.Empty(t, sink.Frames(), "no frame before byte %d", i+1)
			assert.Equal(t, i+1, dec.Buffered())
		}
	}

	frames := sink.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{Type: gaze.EventGaze, X: 100, Y: 200}, frames[0])
	assert.Zero(t, dec.Buffered())
}

func TestDecoderBlinkAndReservedFrames(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	dec := NewDecoder(sink)

	wire := EncodeFrame(nil, gaze.EventBlink, 0, 0)
	wire = EncodeFrame(wire, gaze.EventType(3), 1, 2)
	wire = EncodeFrame(wire, gaze.EventType(4), 3, 4)
	wire = EncodeFrame(wire, gaze.EventGaze, 10, 20)

	_, err := dec.Write(wire)
	require.NoError(t, err)

	// Reserved tags are consumed for framing but never delivered.
	frames := sink.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, gaze.EventBlink, frames[0].Type)
	assert.Equal(t, Frame{Type: gaze.EventGaze, X: 10, Y: 20}, frames[1])
}

func TestDecoderStatusLines(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	dec := NewDecoder(sink)

	wire := EncodeStatus(nil, "calibrate_topLeft")
	wire = EncodeStatus(wire, "calibrated")
	wire = EncodeStatus(wire, "warming up camera")

	_, err := dec.Write(wire)
	require.NoError(t, err)

	statuses := sink.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, gaze.CornerTopLeft, statuses[0].Corner)
	assert.Equal(t, gaze.CornerDone, statuses[1].Corner)
	assert.Equal(t, Status{Text: "warming up camera", Corner: gaze.CornerNone}, statuses[2])
}

func TestDecoderInterleavedFramesAndStatus(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	dec := NewDecoder(sink)

	wire := EncodeFrame(nil, gaze.EventGaze, 1, 1)
	wire = EncodeStatus(wire, "calibrate_center")
	wire = EncodeFrame(wire, gaze.EventGaze, 2, 2)

	// Split at an awkward boundary inside the status line.
	half := FrameSize + 5
	_, err := dec.Write(wire[:half])
	require.NoError(t, err)
	_, err = dec.Write(wire[half:])
	require.NoError(t, err)

	assert.Len(t, sink.Frames(), 2)
	statuses := sink.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, gaze.CornerCenter, statuses[0].Corner)
}

func TestDecoderSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	dec := NewDecoder(sink)

	_, err := dec.Write([]byte("not json at all\n{\"other\":1}\n\n"))
	require.NoError(t, err)
	assert.Empty(t, sink.Statuses())
	assert.Empty(t, sink.Frames())
	assert.Zero(t, dec.Buffered())
}

func TestDecoderBoundsUnterminatedLine(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	dec := NewDecoder(sink)

	junk := make([]byte, maxLineLen+100)
	for i := range junk {
		junk[i] = 'x'
	}
	_, err := dec.Write(junk)
	require.NoError(t, err)
	assert.Zero(t, dec.Buffered(), "oversized unterminated line is discarded")

	// The decoder still works afterwards.
	_, err = dec.Write(EncodeFrame(nil, gaze.EventGaze, 7, 8))
	require.NoError(t, err)
	assert.Len(t, sink.Frames(), 1)
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want gaze.CalibrationCorner
	}{
		{"calibrate_topLeft", gaze.CornerTopLeft},
		{"calibrate_topRight", gaze.CornerTopRight},
		{"calibrate_bottomLeft", gaze.CornerBottomLeft},
		{"calibrate_bottomRight", gaze.CornerBottomRight},
		{"calibrate_center", gaze.CornerCenter},
		{"calibrated", gaze.CornerDone},
		{"calibrate_somewhere", gaze.CornerNone},
		{"tracker ready", gaze.CornerNone},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got := ParseStatus(tt.in)
			assert.Equal(t, tt.want, got.Corner)
			assert.Equal(t, tt.in, got.Text)
		})
	}
}
