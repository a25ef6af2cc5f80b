package source

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"

	"github.com/openlook/gazeline/internal/gaze"
)

const (
	// FrameSize is the wire size of one binary sample frame: a one byte
	// type tag followed by two big-endian float64 coordinates.
	FrameSize = 17

	frameTagMin = 1
	frameTagMax = 4

	// maxLineLen bounds how much text the decoder will hold while
	// hunting for a newline, so a misbehaving backend cannot grow the
	// buffer without bound.
	maxLineLen = 4096
)

// Decoder splits a backend's output stream into binary sample frames and
// newline-delimited JSON status lines, delivering both to a Sink.
//
// The stream is self-describing: a leading byte in [1,4] opens a fixed
// size binary frame, anything else opens a text line. A partial frame or
// line is held until more bytes arrive, so short reads never break
// framing and a truncated frame is decoded once the rest shows up.
type Decoder struct {
	sink Sink
	buf  []byte
}

// NewDecoder returns a Decoder delivering to sink.
func NewDecoder(sink Sink) *Decoder {
	return &Decoder{sink: sink}
}

// Write implements io.Writer so the decoder can sit directly under
// io.Copy on a backend's stdout. It never fails; undecodable input is
// logged and skipped.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	d.drain()
	return len(p), nil
}

// Buffered returns the number of bytes held back waiting for a complete
// frame or line.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) drain() {
	off := 0
	for off < len(d.buf) {
		tag := d.buf[off]
		if tag >= frameTagMin && tag <= frameTagMax {
			if len(d.buf)-off < FrameSize {
				break // truncated frame, keep it for the next write
			}
			d.decodeFrame(d.buf[off : off+FrameSize])
			off += FrameSize
			continue
		}
		rel := bytes.IndexByte(d.buf[off:], '\n')
		if rel < 0 {
			if len(d.buf)-off > maxLineLen {
				gaze.Diagf("protocol: dropping %d bytes with no line terminator", len(d.buf)-off)
				off = len(d.buf)
			}
			break
		}
		d.decodeLine(d.buf[off : off+rel])
		off += rel + 1
	}
	if off > 0 {
		n := copy(d.buf, d.buf[off:])
		d.buf = d.buf[:n]
	}
}

func (d *Decoder) decodeFrame(b []byte) {
	typ := gaze.EventType(b[0])
	x := math.Float64frombits(binary.BigEndian.Uint64(b[1:9]))
	y := math.Float64frombits(binary.BigEndian.Uint64(b[9:17]))

	switch typ {
	case gaze.EventGaze, gaze.EventBlink:
		d.sink.HandleFrame(Frame{Type: typ, X: x, Y: y})
	default:
		// Reserved tags participate in framing but carry nothing yet.
		gaze.Tracef("protocol: ignoring %s frame", typ)
	}
}

type statusLine struct {
	Status string `json:"status"`
}

func (d *Decoder) decodeLine(b []byte) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return
	}
	var line statusLine
	if err := json.Unmarshal(b, &line); err != nil || line.Status == "" {
		gaze.Tracef("protocol: skipping non-status line %q", b)
		return
	}
	d.sink.HandleStatus(ParseStatus(line.Status))
}

// ParseStatus maps a backend status string onto its calibration meaning.
// "calibrate_<corner>" names the corner being collected and "calibrated"
// completes the sequence; everything else is free-text debug status.
func ParseStatus(s string) Status {
	st := Status{Text: s, Corner: gaze.CornerNone}
	if s == "calibrated" {
		st.Corner = gaze.CornerDone
		return st
	}
	if c, ok := strings.CutPrefix(s, "calibrate_"); ok {
		switch corner := gaze.CalibrationCorner(c); corner {
		case gaze.CornerTopLeft, gaze.CornerTopRight,
			gaze.CornerBottomLeft, gaze.CornerBottomRight, gaze.CornerCenter:
			st.Corner = corner
		}
	}
	return st
}

// EncodeFrame appends the wire form of one sample frame to dst and
// returns the extended slice. Tools and tests use it to synthesize
// backend output.
func EncodeFrame(dst []byte, typ gaze.EventType, x, y float64) []byte {
	var b [FrameSize]byte
	b[0] = byte(typ)
	binary.BigEndian.PutUint64(b[1:9], math.Float64bits(x))
	binary.BigEndian.PutUint64(b[9:17], math.Float64bits(y))
	return append(dst, b[:]...)
}

// EncodeStatus appends a newline-terminated JSON status line to dst.
func EncodeStatus(dst []byte, status string) []byte {
	line, err := json.Marshal(statusLine{Status: status})
	if err != nil {
		return dst
	}
	dst = append(dst, line...)
	return append(dst, '\n')
}
