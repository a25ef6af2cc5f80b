package main

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/gaze/recorder"
)

// tickSample is one smoothing tick extracted from a trace.
type tickSample struct {
	Seconds  float64
	Raw      gaze.Point
	Filtered gaze.Point
	Display  gaze.Point
	Hover    bool
	Fresh    bool
}

// Report summarizes a recorded trace.
type Report struct {
	Trace          string  `json:"trace"`
	SessionID      string  `json:"session_id"`
	SourceKind     string  `json:"source_kind"`
	ScreenWidth    int     `json:"screen_width"`
	ScreenHeight   int     `json:"screen_height"`
	DurationSecs   float64 `json:"duration_secs"`
	TotalRecords   uint64  `json:"total_records"`
	Ticks          int     `json:"ticks"`
	FreshTicks     int     `json:"fresh_ticks"`
	Blinks         int     `json:"blinks"`
	StatusLines    int     `json:"status_lines"`
	HoverTicks     int     `json:"hover_ticks"`
	HoverEntries   int     `json:"hover_entries"`
	MeanInnovation float64 `json:"mean_innovation_px"`
	MaxInnovation  float64 `json:"max_innovation_px"`

	samples []tickSample
}

// BuildReport walks a trace and classifies its records. Status and blink
// records only count toward their totals; everything else is a tick
// carrying coordinates.
func BuildReport(traceDir string) (*Report, error) {
	reader, err := recorder.NewReader(traceDir)
	if err != nil {
		return nil, err
	}

	hdr := reader.Header()
	rep := &Report{
		Trace:        traceDir,
		SessionID:    hdr.SessionID,
		SourceKind:   hdr.SourceKind,
		ScreenWidth:  hdr.ScreenWidth,
		ScreenHeight: hdr.ScreenHeight,
		TotalRecords: reader.TotalRecords(),
	}
	if hdr.EndNs > hdr.StartNs {
		rep.DurationSecs = float64(hdr.EndNs-hdr.StartNs) / 1e9
	}

	var innovationSum float64
	innovationCount := 0
	hovering := false
	for {
		rec, err := reader.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch {
		case rec.Status != "":
			rep.StatusLines++
		case gaze.EventType(rec.EventType) == gaze.EventBlink:
			rep.Blinks++
		default:
			s := tickSample{
				Seconds:  float64(rec.TimestampNs-hdr.StartNs) / 1e9,
				Raw:      gaze.Point{X: rec.RawX, Y: rec.RawY},
				Filtered: gaze.Point{X: rec.FilteredX, Y: rec.FilteredY},
				Display:  gaze.Point{X: rec.DisplayX, Y: rec.DisplayY},
				Hover:    rec.Hover,
				Fresh:    gaze.EventType(rec.EventType) == gaze.EventGaze,
			}
			rep.Ticks++
			if s.Fresh {
				rep.FreshTicks++
			}
			if s.Hover {
				rep.HoverTicks++
				if !hovering {
					rep.HoverEntries++
				}
			}
			hovering = s.Hover

			// Innovation needs the filtered point, which raw-only traces
			// leave zeroed.
			if s.Fresh && s.Filtered != (gaze.Point{}) {
				innov := math.Hypot(s.Raw.X-s.Filtered.X, s.Raw.Y-s.Filtered.Y)
				innovationSum += innov
				innovationCount++
				if innov > rep.MaxInnovation {
					rep.MaxInnovation = innov
				}
			}
			rep.samples = append(rep.samples, s)
		}
	}
	if innovationCount > 0 {
		rep.MeanInnovation = innovationSum / float64(innovationCount)
	}
	return rep, nil
}

// RenderCharts writes PNG charts for the trace into outDir and returns
// how many files it produced. Charts with no data are skipped, so a
// raw-only trace yields only the coordinate and path charts.
func RenderCharts(rep *Report, outDir string) (int, error) {
	if len(rep.samples) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	rawColor := color.RGBA{R: 214, G: 69, B: 65, A: 255}
	displayColor := color.RGBA{R: 31, G: 119, B: 180, A: 255}

	var rawX, rawY, dispX, dispY, rawPath, dispPath, innov plotter.XYs
	for _, s := range rep.samples {
		rawX = append(rawX, plotter.XY{X: s.Seconds, Y: s.Raw.X})
		rawY = append(rawY, plotter.XY{X: s.Seconds, Y: s.Raw.Y})
		// Screen Y grows downward; flip the path so the chart matches
		// the screen orientation.
		rawPath = append(rawPath, plotter.XY{X: s.Raw.X, Y: float64(rep.ScreenHeight) - s.Raw.Y})
		if s.Display != (gaze.Point{}) {
			dispX = append(dispX, plotter.XY{X: s.Seconds, Y: s.Display.X})
			dispY = append(dispY, plotter.XY{X: s.Seconds, Y: s.Display.Y})
			dispPath = append(dispPath, plotter.XY{X: s.Display.X, Y: float64(rep.ScreenHeight) - s.Display.Y})
		}
		if s.Fresh && s.Filtered != (gaze.Point{}) {
			innov = append(innov, plotter.XY{
				X: s.Seconds,
				Y: math.Hypot(s.Raw.X-s.Filtered.X, s.Raw.Y-s.Filtered.Y),
			})
		}
	}

	count := 0

	axes := []struct {
		name string
		raw  plotter.XYs
		disp plotter.XYs
	}{
		{"x", rawX, dispX},
		{"y", rawY, dispY},
	}
	for _, axis := range axes {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("Gaze %s Coordinate", axis.name)
		p.X.Label.Text = "Time (s)"
		p.Y.Label.Text = fmt.Sprintf("%s (px)", axis.name)

		rawLine, err := plotter.NewLine(axis.raw)
		if err != nil {
			return count, err
		}
		rawLine.Color = rawColor
		rawLine.Width = vg.Points(1)
		p.Add(rawLine)
		p.Legend.Add("raw", rawLine)

		if len(axis.disp) > 0 {
			dispLine, err := plotter.NewLine(axis.disp)
			if err != nil {
				return count, err
			}
			dispLine.Color = displayColor
			dispLine.Width = vg.Points(1)
			p.Add(dispLine)
			p.Legend.Add("display", dispLine)
		}
		p.Legend.Top = true

		file := filepath.Join(outDir, fmt.Sprintf("gaze_%s.png", axis.name))
		if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
			return count, fmt.Errorf("save %s chart: %w", axis.name, err)
		}
		count++
	}

	pPath := plot.New()
	pPath.Title.Text = "Gaze Path"
	pPath.X.Label.Text = "X (px)"
	pPath.Y.Label.Text = "Y (px)"

	scatter, err := plotter.NewScatter(rawPath)
	if err != nil {
		return count, err
	}
	scatter.GlyphStyle.Color = rawColor
	scatter.GlyphStyle.Radius = vg.Points(1)
	pPath.Add(scatter)
	pPath.Legend.Add("raw", scatter)

	if len(dispPath) > 0 {
		dispLine, err := plotter.NewLine(dispPath)
		if err != nil {
			return count, err
		}
		dispLine.Color = displayColor
		dispLine.Width = vg.Points(1)
		pPath.Add(dispLine)
		pPath.Legend.Add("display", dispLine)
	}
	pPath.Legend.Top = true

	// Keep the path chart at the recorded screen's aspect ratio.
	pathW := 12 * vg.Inch
	pathH := 6.75 * vg.Inch
	if rep.ScreenWidth > 0 && rep.ScreenHeight > 0 {
		pathH = pathW * vg.Length(rep.ScreenHeight) / vg.Length(rep.ScreenWidth)
	}
	if err := pPath.Save(pathW, pathH, filepath.Join(outDir, "gaze_path.png")); err != nil {
		return count, fmt.Errorf("save path chart: %w", err)
	}
	count++

	if len(innov) > 0 {
		p := plot.New()
		p.Title.Text = "Kalman Innovation"
		p.X.Label.Text = "Time (s)"
		p.Y.Label.Text = "Distance (px)"

		line, err := plotter.NewLine(innov)
		if err != nil {
			return count, err
		}
		line.Color = rawColor
		line.Width = vg.Points(1)
		p.Add(line)

		if err := p.Save(14*vg.Inch, 6*vg.Inch, filepath.Join(outDir, "innovation.png")); err != nil {
			return count, fmt.Errorf("save innovation chart: %w", err)
		}
		count++
	}

	return count, nil
}
