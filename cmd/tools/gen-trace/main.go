// Command gen-trace writes a synthetic gaze trace for replay testing.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/gaze/recorder"
	"github.com/openlook/gazeline/internal/gaze/source"
)

func main() {
	output := flag.String("o", "trace", "output trace directory")
	frames := flag.Int("n", 600, "number of frames")
	width := flag.Int("width", 1920, "screen width in pixels")
	height := flag.Int("height", 1080, "screen height in pixels")
	rate := flag.Float64("rate", 60, "sample rate in Hz")
	noise := flag.Float64("noise", 3, "fixation jitter amplitude in pixels")
	hop := flag.Int("hop", 180, "frames between fixation hops (0 keeps one target)")
	seed := flag.Int64("seed", 0, "jitter seed (0 seeds from the clock)")
	calibrate := flag.Bool("calibrate", false, "prefix the trace with a calibration status sequence")
	flag.Parse()

	if *rate <= 0 {
		log.Fatal("sample rate must be positive")
	}

	rec, err := recorder.NewRecorder(*output, "synthetic", *width, *height)
	if err != nil {
		log.Fatalf("Failed to create trace: %v", err)
	}

	lib := &source.SyntheticLibrary{Noise: *noise, HopEvery: *hop, Seed: *seed}
	handle := lib.Init(*width, *height, gaze.EyeBoth)
	handle.Start()

	interval := time.Duration(float64(time.Second) / *rate)
	ts := time.Now().UnixNano()

	if *calibrate {
		// Corners arrive spaced out, as if an operator fixated each
		// target in turn.
		corners := []gaze.CalibrationCorner{
			gaze.CornerTopLeft, gaze.CornerTopRight,
			gaze.CornerBottomLeft, gaze.CornerBottomRight, gaze.CornerCenter,
		}
		for _, c := range corners {
			writeRecord(rec, recorder.TraceRecord{TimestampNs: ts, Status: "calibrate_" + string(c)})
			ts += int64(500 * time.Millisecond)
		}
		writeRecord(rec, recorder.TraceRecord{TimestampNs: ts, Status: "calibrated"})
		ts += int64(500 * time.Millisecond)
	}

	for i := 0; i < *frames; i++ {
		f := handle.Frame()
		writeRecord(rec, recorder.TraceRecord{
			TimestampNs: ts,
			EventType:   f.EventType,
			RawX:        f.X,
			RawY:        f.Y,
		})
		ts += int64(interval)
		if (i+1)%100 == 0 {
			log.Printf("%d/%d frames", i+1, *frames)
		}
	}

	count := rec.RecordCount()
	if err := rec.Close(); err != nil {
		log.Fatalf("Failed to finalize trace: %v", err)
	}
	log.Printf("✓ Created: %s (%d records)", rec.Path(), count)
}

func writeRecord(rec *recorder.Recorder, r recorder.TraceRecord) {
	if err := rec.Record(r); err != nil {
		log.Fatalf("Failed to write record: %v", err)
	}
}
