package monitor

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/openlook/gazeline/internal/config"
	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/gaze/estimator"
	"github.com/openlook/gazeline/internal/gaze/storage/sqlite"
	"github.com/openlook/gazeline/internal/version"
)

//go:embed status.html
var StatusHTML embed.FS

// WebServer handles the HTTP interface for monitoring the gaze pipeline.
// It provides endpoints for health checks, live status, tuning and session
// history, plus debug chart renderings of recorded traces.
type WebServer struct {
	address   string
	stats     *PipelineStats
	estimator *estimator.Estimator
	store     *sqlite.Store
	traceDir  string
	server    *http.Server

	mu       sync.RWMutex
	tuning   config.TuningConfig
	onTuning func(config.TuningConfig) error
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address   string
	Stats     *PipelineStats
	Estimator *estimator.Estimator
	Store     *sqlite.Store
	TraceDir  string
	Tuning    config.TuningConfig
	// OnTuning is invoked with the merged config when a POST to the tuning
	// endpoint validates. Returning an error rejects the update.
	OnTuning func(config.TuningConfig) error
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   cfg.Address,
		stats:     cfg.Stats,
		estimator: cfg.Estimator,
		store:     cfg.Store,
		traceDir:  cfg.TraceDir,
		tuning:    cfg.Tuning,
		onTuning:  cfg.OnTuning,
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (ws *WebServer) Start(ctx context.Context) error {
	// Start server in a goroutine so it doesn't block
	go func() {
		gaze.Opsf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	gaze.Opsf("shutting down HTTP server...")

	// Create a shutdown context with a shorter timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		gaze.Opsf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := ws.server.Close(); err != nil {
			gaze.Opsf("HTTP server force close error: %v", err)
		}
	}

	gaze.Opsf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/gaze/status", ws.handleGazeStatus)
	mux.HandleFunc("/api/gaze/tuning", ws.handleTuning)
	mux.HandleFunc("/api/gaze/sessions", ws.handleSessions)
	mux.HandleFunc("/debug/charts/trace", ws.handleTraceChart)
	mux.HandleFunc("/debug/charts/hovers", ws.handleHoverChart)
	mux.HandleFunc("/debug/charts/stats", ws.handleStatsChart)

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "gazeline", "version": "%s", "timestamp": "%s"}`,
		version.Version, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	trackingStatus := "no estimator"
	backendState := "unknown"
	samplesTotal := "0"
	blinksTotal := "0"
	jitter := 0.0
	if ws.estimator != nil {
		est := ws.estimator.Estimate()
		if est.TrackingEnabled {
			trackingStatus = "enabled"
			if est.LowPower {
				trackingStatus = "enabled (low power)"
			}
		} else {
			trackingStatus = "paused"
		}
		backendState = ws.estimator.State().String()
		samplesTotal = FormatWithCommas(int64(ws.estimator.Frames()))
		blinksTotal = FormatWithCommas(int64(ws.estimator.Blinks()))
		jitter = ws.estimator.Jitter()
	}

	// Load and parse the HTML template from embedded filesystem
	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	uptime := "0s"
	var snap *StatsSnapshot
	if ws.stats != nil {
		uptime = ws.stats.GetUptime().Round(time.Second).String()
		snap = ws.stats.GetLatestSnapshot()
	}

	// Template data
	data := struct {
		HTTPAddress    string
		TrackingStatus string
		BackendState   string
		SamplesTotal   string
		BlinksTotal    string
		JitterRMS      float64
		Uptime         string
		Stats          *StatsSnapshot
		Version        string
	}{
		HTTPAddress:    ws.address,
		TrackingStatus: trackingStatus,
		BackendState:   backendState,
		SamplesTotal:   samplesTotal,
		BlinksTotal:    blinksTotal,
		JitterRMS:      jitter,
		Uptime:         uptime,
		Stats:          snap,
		Version:        version.Version,
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// Tuning returns the currently applied tuning config.
func (ws *WebServer) Tuning() config.TuningConfig {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.tuning
}

// SetTuning replaces the tuning config shown and served by the API. The
// config file watcher pushes here so a reload and a POSTed update stay
// consistent.
func (ws *WebServer) SetTuning(cfg config.TuningConfig) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.tuning = cfg
}

// Close shuts down the web server
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}
