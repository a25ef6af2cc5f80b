package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openlook/gazeline/internal/config"
	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/httputil"
	"github.com/openlook/gazeline/internal/version"
)

// GazeStatusResponse represents the live estimator state for the status API.
type GazeStatusResponse struct {
	State            string     `json:"state"`
	Status           string     `json:"status"`
	Display          gaze.Point `json:"display"`
	RawTarget        gaze.Point `json:"raw_target"`
	TrackingEnabled  bool       `json:"tracking_enabled"`
	LowPower         bool       `json:"low_power"`
	Frames           uint64     `json:"frames"`
	Blinks           uint64     `json:"blinks"`
	JitterRMS        float64    `json:"jitter_rms"`
	RecoveryAttempts int        `json:"recovery_attempts"`
	ScreenWidth      int        `json:"screen_width"`
	ScreenHeight     int        `json:"screen_height"`
	Ticks            uint64     `json:"ticks"`
	Samples          uint64     `json:"samples"`
	Hovers           uint64     `json:"hovers"`
	Drops            uint64     `json:"drops"`
	FilterResets     uint64     `json:"filter_resets"`
	SamplesPerSec    float64    `json:"samples_per_sec"`
	TicksPerSec      float64    `json:"ticks_per_sec"`
	UptimeSeconds    float64    `json:"uptime_seconds"`
	Version          string     `json:"version"`
	GitSHA           string     `json:"git_sha"`
}

// handleGazeStatus handles GET for /api/gaze/status.
//
// Example response:
//
//	{
//	  "state": "running",
//	  "display": {"x": 960.2, "y": 540.7},
//	  "raw_target": {"x": 961.0, "y": 541.0},
//	  "tracking_enabled": true,
//	  "frames": 12840,
//	  "jitter_rms": 2.31,
//	  ...
//	}
func (ws *WebServer) handleGazeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.estimator == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "estimator not configured")
		return
	}

	est := ws.estimator.Estimate()
	pstats := ws.estimator.Stats()
	width, height := ws.estimator.ScreenSize()

	response := GazeStatusResponse{
		State:            ws.estimator.State().String(),
		Status:           ws.estimator.Status(),
		Display:          est.Display,
		RawTarget:        est.RawTarget,
		TrackingEnabled:  est.TrackingEnabled,
		LowPower:         est.LowPower,
		Frames:           ws.estimator.Frames(),
		Blinks:           ws.estimator.Blinks(),
		JitterRMS:        ws.estimator.Jitter(),
		RecoveryAttempts: ws.estimator.Attempts(),
		ScreenWidth:      width,
		ScreenHeight:     height,
		Ticks:            pstats.Ticks,
		Samples:          pstats.Samples,
		Hovers:           pstats.Hovers,
		Drops:            pstats.Drops,
		FilterResets:     pstats.FilterResets,
		Version:          version.Version,
		GitSHA:           version.GitSHA,
	}

	if ws.stats != nil {
		response.UptimeSeconds = ws.stats.GetUptime().Seconds()
		if snap := ws.stats.GetLatestSnapshot(); snap != nil {
			response.SamplesPerSec = snap.SamplesPerSec
			response.TicksPerSec = snap.TicksPerSec
		}
	}

	httputil.WriteJSONOK(w, response)
}

// handleTuning handles GET/POST for /api/gaze/tuning.
//
// GET: Returns the currently applied tuning config. Only fields that were
// explicitly set appear in the response.
// POST: Merges the posted fields over the current config, validates the
// result and applies it to the running pipeline (hot-reload).
//
// Example POST request:
//
//	{
//	  "dead_zone_radius": 12.0,
//	  "spring_stiffness": 0.3,
//	  "hover_cooldown": "1500ms"
//	}
func (ws *WebServer) handleTuning(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ws.handleGetTuning(w)
	case http.MethodPost:
		ws.handleSetTuning(w, r)
	default:
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET or POST")
	}
}

// handleGetTuning returns the current tuning configuration.
func (ws *WebServer) handleGetTuning(w http.ResponseWriter) {
	httputil.WriteJSONOK(w, ws.Tuning())
}

// handleSetTuning merges and applies a tuning update (hot-reload).
func (ws *WebServer) handleSetTuning(w http.ResponseWriter, r *http.Request) {
	var req config.TuningConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	merged := mergeTuning(ws.Tuning(), req)
	if err := merged.Validate(); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid tuning: %v", err))
		return
	}

	if ws.onTuning != nil {
		if err := ws.onTuning(merged); err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("apply tuning: %v", err))
			return
		}
	}
	ws.SetTuning(merged)
	gaze.Opsf("tuning updated via API")

	httputil.WriteJSONOK(w, merged)
}

// mergeTuning overlays every field set in patch onto base, leaving the
// rest of base untouched.
func mergeTuning(base, patch config.TuningConfig) config.TuningConfig {
	if patch.ProcessNoisePos != nil {
		base.ProcessNoisePos = patch.ProcessNoisePos
	}
	if patch.ProcessNoiseVel != nil {
		base.ProcessNoiseVel = patch.ProcessNoiseVel
	}
	if patch.MeasurementNoise != nil {
		base.MeasurementNoise = patch.MeasurementNoise
	}
	if patch.DeadZoneRadius != nil {
		base.DeadZoneRadius = patch.DeadZoneRadius
	}
	if patch.EscapeVelocity != nil {
		base.EscapeVelocity = patch.EscapeVelocity
	}
	if patch.SpringStiffness != nil {
		base.SpringStiffness = patch.SpringStiffness
	}
	if patch.StabilityRadius != nil {
		base.StabilityRadius = patch.StabilityRadius
	}
	if patch.StabilityDuration != nil {
		base.StabilityDuration = patch.StabilityDuration
	}
	if patch.HoverCooldown != nil {
		base.HoverCooldown = patch.HoverCooldown
	}
	if patch.HistorySize != nil {
		base.HistorySize = patch.HistorySize
	}
	if patch.HealthInterval != nil {
		base.HealthInterval = patch.HealthInterval
	}
	if patch.HeartbeatTimeout != nil {
		base.HeartbeatTimeout = patch.HeartbeatTimeout
	}
	if patch.MaxRecoveryAttempts != nil {
		base.MaxRecoveryAttempts = patch.MaxRecoveryAttempts
	}
	if patch.RecoveryDelay != nil {
		base.RecoveryDelay = patch.RecoveryDelay
	}
	return base
}

// handleSessions handles GET for /api/gaze/sessions.
//
// Query params:
//
//	session_id (optional) - return detail for one session including
//	                        dwell metrics, hovers and backend events
//	limit (optional, default 20) - number of recent sessions to list
func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.store == nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "no database configured for session lookup")
		return
	}

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		ws.handleSessionDetail(w, sessionID)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
		if limit <= 0 || limit > 100 {
			limit = 20
		}
	}

	sessions, err := ws.store.RecentSessions(limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
		return
	}

	httputil.WriteJSONOK(w, sessions)
}

// handleSessionDetail returns one session with its metrics, hovers and
// backend lifecycle events.
func (ws *WebServer) handleSessionDetail(w http.ResponseWriter, sessionID string) {
	session, err := ws.store.GetSession(sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		httputil.WriteJSONError(w, status, fmt.Sprintf("get session: %v", err))
		return
	}

	metrics, err := ws.store.SessionMetrics(sessionID)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("session metrics: %v", err))
		return
	}

	hovers, err := ws.store.SessionHovers(sessionID)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("session hovers: %v", err))
		return
	}

	events, err := ws.store.SessionBackendEvents(sessionID)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("session backend events: %v", err))
		return
	}

	detail := map[string]interface{}{
		"session":        session,
		"started":        time.Unix(0, session.StartedAt).Format(time.RFC3339Nano),
		"metrics":        metrics,
		"hovers":         hovers,
		"hover_count":    len(hovers),
		"backend_events": events,
	}
	if session.EndedAt != 0 {
		detail["ended"] = time.Unix(0, session.EndedAt).Format(time.RFC3339Nano)
	}

	httputil.WriteJSONOK(w, detail)
}
