package monitor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/gaze/recorder"
	"github.com/openlook/gazeline/internal/httputil"
	"github.com/openlook/gazeline/internal/security"
)

// echartsAssetsPrefix points rendered pages at a hosted copy of the
// echarts JS bundle so they work without a local asset server.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleTraceChart renders a scatter plot (HTML) of a recorded trace using
// go-echarts. Raw samples are drawn in grey under the display points so the
// smoothing the pipeline applies is visible at a glance.
// This is a debugging-only endpoint (no auth).
// Query params:
//   - trace (optional; defaults to the configured trace directory, and must
//     resolve inside one of the directories traces are recorded to)
//   - max_points (optional; default 8000) to reduce payload size
func (ws *WebServer) handleTraceChart(w http.ResponseWriter, r *http.Request) {
	traceDir := r.URL.Query().Get("trace")
	if traceDir == "" {
		traceDir = ws.traceDir
	} else if err := security.ValidateTracePath(traceDir, ws.traceDir); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid trace path: %v", err))
		return
	}
	if traceDir == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "missing 'trace' parameter and no trace directory configured")
		return
	}

	maxPoints := 8000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	reader, err := recorder.NewReader(traceDir)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("open trace: %v", err))
		return
	}

	header := reader.Header()
	total := reader.TotalRecords()
	if total == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "trace contains no records")
		return
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if total > uint64(maxPoints) {
		stride = int(math.Ceil(float64(total) / float64(maxPoints)))
	}

	rawPts := make([]opts.ScatterData, 0, int(total)/stride+1)
	dispPts := make([]opts.ScatterData, 0, int(total)/stride+1)
	gazeRecords := 0
	for {
		rec, err := reader.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("read trace: %v", err))
			return
		}
		if rec.EventType != int(gaze.EventGaze) {
			continue
		}
		gazeRecords++
		if (gazeRecords-1)%stride != 0 {
			continue
		}
		rawPts = append(rawPts, opts.ScatterData{Value: []interface{}{rec.RawX, rec.RawY}})
		dispPts = append(dispPts, opts.ScatterData{Value: []interface{}{rec.DisplayX, rec.DisplayY}})
	}

	subtitle := fmt.Sprintf("session=%s source=%s records=%d stride=%d",
		header.SessionID, header.SourceKind, total, stride)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gaze Trace", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Gaze Trace (raw vs display)", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: float64(header.ScreenWidth), Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: float64(header.ScreenHeight), Name: "Y (px)", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("raw", rawPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9e9e9e"}))
	scatter.AddSeries("display", dispPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleHoverChart renders hover fixations for a session as a scatter plot
// colored by dwell time.
// Query params:
//   - session_id (optional; defaults to the most recent session)
func (ws *WebServer) handleHoverChart(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "no database configured for session lookup")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessions, err := ws.store.RecentSessions(1)
		if err != nil || len(sessions) == 0 {
			httputil.WriteJSONError(w, http.StatusNotFound, "no sessions recorded")
			return
		}
		sessionID = sessions[0].ID
	}

	session, err := ws.store.GetSession(sessionID)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("get session: %v", err))
		return
	}
	hovers, err := ws.store.SessionHovers(sessionID)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("session hovers: %v", err))
		return
	}
	if len(hovers) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no hovers recorded for session")
		return
	}

	data := make([]opts.ScatterData, 0, len(hovers))
	maxDwell := 0.0
	for _, h := range hovers {
		dwell := float64(h.DwellNs) / 1e9
		if dwell > maxDwell {
			maxDwell = dwell
		}
		data = append(data, opts.ScatterData{Value: []interface{}{h.X, h.Y, dwell}})
	}
	if maxDwell == 0 {
		maxDwell = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gaze Hovers", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Hover Fixations", Subtitle: fmt.Sprintf("session=%s hovers=%d", sessionID, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: float64(session.ScreenWidth), Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: float64(session.ScreenHeight), Name: "Y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxDwell),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)

	scatter.AddSeries("hovers", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleStatsChart renders a simple bar chart of pipeline throughput.
func (ws *WebServer) handleStatsChart(w http.ResponseWriter, r *http.Request) {
	if ws.stats == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no pipeline stats available")
		return
	}

	snap := ws.stats.GetLatestSnapshot()
	if snap == nil {
		snap = &StatsSnapshot{Timestamp: time.Now()}
	}

	x := []string{"Samples/s", "Ticks/s", "Hovers (recent)", "Blinks (recent)", "Dropped (recent)", "Recoveries (recent)"}
	y := []opts.BarData{
		{Value: snap.SamplesPerSec},
		{Value: snap.TicksPerSec},
		{Value: snap.HoverCount},
		{Value: snap.BlinkCount},
		{Value: snap.DroppedCount},
		{Value: snap.RecoveryCount},
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Gaze Pipeline Throughput", Subtitle: snap.Timestamp.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("pipeline", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
