package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/openlook/gazeline/internal/config"
	"github.com/openlook/gazeline/internal/gaze"
	"github.com/openlook/gazeline/internal/gaze/estimator"
	"github.com/openlook/gazeline/internal/gaze/filter"
	"github.com/openlook/gazeline/internal/gaze/monitor"
	"github.com/openlook/gazeline/internal/gaze/recorder"
	"github.com/openlook/gazeline/internal/gaze/source"
	"github.com/openlook/gazeline/internal/gaze/storage/sqlite"
	"github.com/openlook/gazeline/internal/gaze/supervisor"
	"github.com/openlook/gazeline/internal/version"
)

var (
	listen       = flag.String("listen", ":8081", "HTTP listen address")
	sourceKind   = flag.String("source", "command", "Gaze backend: command, serial, replay, or synthetic")
	backendCmd   = flag.String("backend-cmd", "", "Path to the tracker helper executable (source=command)")
	serialPort   = flag.String("serial-port", "/dev/ttyUSB0", "Serial device of the sensor (source=serial)")
	serialBaud   = flag.Int("serial-baud", 115200, "Serial baud rate")
	replayDir    = flag.String("replay", "", "Trace directory to replay (source=replay)")
	replaySpeed  = flag.Float64("replay-speed", 1.0, "Replay speed multiplier")
	replayLoop   = flag.Bool("replay-loop", false, "Restart the trace when it ends")
	screenWidth  = flag.Int("screen-width", 1920, "Screen width in pixels")
	screenHeight = flag.Int("screen-height", 1080, "Screen height in pixels")
	tuningPath   = flag.String("tuning", "", "Tuning JSON file, watched for changes while running")
	dbFile       = flag.String("db", "gazeline.db", "Path to the SQLite session database (empty disables persistence)")
	recordDir    = flag.String("record", "", "Directory to record the session trace into")
	logInterval  = flag.Int("log-interval", 2, "Statistics logging interval in seconds")
	debugLog     = flag.Bool("debug", false, "Enable diagnostic logging")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

// filterTuning maps the tuning file onto the estimator's stage constants.
func filterTuning(tc config.TuningConfig) estimator.Tuning {
	return estimator.Tuning{
		Kalman: filter.KalmanConfig{
			Dt:               1.0 / 60.0,
			ProcessNoisePos:  tc.GetProcessNoisePos(),
			ProcessNoiseVel:  tc.GetProcessNoiseVel(),
			MeasurementNoise: tc.GetMeasurementNoise(),
		},
		DeadZone: filter.DeadZoneConfig{
			Radius:         tc.GetDeadZoneRadius(),
			EscapeVelocity: tc.GetEscapeVelocity(),
		},
		Stability: filter.StabilityConfig{
			Radius:           tc.GetStabilityRadius(),
			RequiredDuration: tc.GetStabilityDuration(),
			Cooldown:         tc.GetHoverCooldown(),
			HistorySize:      tc.GetHistorySize(),
		},
		SpringStiffness: tc.GetSpringStiffness(),
	}
}

// buildSource constructs the raw source selected by -source.
func buildSource() source.RawSource {
	switch *sourceKind {
	case "command":
		if *backendCmd == "" {
			log.Fatal("Backend command path is required (use -backend-cmd)")
		}
		return source.NewSubprocess(source.SubprocessConfig{Path: *backendCmd})

	case "serial":
		return source.NewSerial(source.SerialConfig{Path: *serialPort, BaudRate: *serialBaud})

	case "replay":
		if *replayDir == "" {
			log.Fatal("Replay trace directory is required (use -replay)")
		}
		return source.NewReplay(source.ReplayConfig{Path: *replayDir, Speed: *replaySpeed, Loop: *replayLoop})

	case "synthetic":
		return source.NewLibrary(source.LibraryConfig{
			Library:      &source.SyntheticLibrary{},
			ScreenWidth:  *screenWidth,
			ScreenHeight: *screenHeight,
		})

	default:
		log.Fatalf("Unknown source kind %q (want command, serial, replay, or synthetic)", *sourceKind)
		return nil
	}
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Handle the migrate subcommand before any services start
	if flag.Arg(0) == "migrate" {
		sqlite.RunMigrateCommand(flag.Args()[1:], *dbFile)
		return
	}

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}
	if *screenWidth <= 0 || *screenHeight <= 0 {
		log.Fatal("Screen dimensions must be positive")
	}
	if *logInterval <= 0 {
		log.Fatal("Statistics logging interval must be positive")
	}

	logw := gaze.LogWriters{Ops: os.Stderr}
	if *debugLog {
		logw.Diag = os.Stderr
	}
	gaze.SetLogWriters(logw)

	// Load tuning, falling back to the built-in defaults
	tuning := config.DefaultTuningConfig()
	if *tuningPath != "" {
		loaded, err := config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		tuning = loaded
		log.Printf("Loaded tuning from %s", *tuningPath)
	}

	// Initialize the session store
	var store *sqlite.Store
	if *dbFile != "" {
		var err error
		store, err = sqlite.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open session database: %v", err)
		}
		defer store.Close()

		if _, err := store.CheckMigrations(); err != nil {
			log.Fatalf("Database not ready: %v", err)
		}
	} else {
		log.Println("Session persistence disabled (use -db to record sessions)")
	}

	// Initialize the trace recorder if recording is enabled
	var rec *recorder.Recorder
	if *recordDir != "" {
		var err error
		rec, err = recorder.NewRecorder(*recordDir, *sourceKind, *screenWidth, *screenHeight)
		if err != nil {
			log.Fatalf("Failed to create trace recorder: %v", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Failed to finalize trace: %v", err)
			}
		}()
		log.Printf("Recording session trace to %s", *recordDir)
	} else {
		log.Println("Trace recording disabled (use -record to capture a trace)")
	}

	src := buildSource()
	stats := monitor.NewPipelineStats()

	// sessionID is assigned before the backend starts and the hooks
	// below only fire after it, so they read it without locking. ws is
	// likewise built before the session routine launches.
	var sessionID string
	var est *estimator.Estimator
	var ws *monitor.WebServer

	tun := filterTuning(*tuning)
	est = estimator.New(estimator.Config{
		Source:              src,
		ScreenWidth:         *screenWidth,
		ScreenHeight:        *screenHeight,
		Kalman:              tun.Kalman,
		DeadZone:            tun.DeadZone,
		Stability:           tun.Stability,
		SpringStiffness:     tun.SpringStiffness,
		HealthInterval:      tuning.GetHealthInterval(),
		HeartbeatTimeout:    tuning.GetHeartbeatTimeout(),
		MaxRecoveryAttempts: tuning.GetMaxRecoveryAttempts(),
		RecoveryDelay:       tuning.GetRecoveryDelay(),
		Recorder:            rec,
		OnSample:            stats.AddSample,
		OnBlink:             stats.AddBlink,
		OnHover: func(p gaze.Point) {
			stats.AddHover()
			if store != nil && sessionID != "" {
				tc := ws.Tuning()
				dwell := tc.GetStabilityDuration()
				if _, err := store.RecordHover(sessionID, p, dwell); err != nil {
					gaze.Diagf("record hover: %v", err)
				}
			}
		},
		OnBackendState: func(st supervisor.State, cause error) {
			if st == supervisor.StateRecovering {
				stats.AddRecovery()
			}
			if store != nil && sessionID != "" {
				var causeText string
				if cause != nil {
					causeText = cause.Error()
				}
				if err := store.RecordBackendEvent(sessionID, st.String(), causeText, est.Attempts()); err != nil {
					gaze.Diagf("record backend event: %v", err)
				}
			}
		},
	})

	ws = monitor.NewWebServer(monitor.WebServerConfig{
		Address:   *listen,
		Stats:     stats,
		Estimator: est,
		Store:     store,
		TraceDir:  *recordDir,
		Tuning:    *tuning,
		OnTuning: func(tc config.TuningConfig) error {
			est.ApplyTuning(filterTuning(tc))
			return nil
		},
	})

	// Create a wait group for the tracking session, HTTP server, and stats routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracking session routine
	wg.Add(1)
	go func() {
		defer wg.Done()

		if store != nil {
			id, err := store.StartSession(*sourceKind, *screenWidth, *screenHeight)
			if err != nil {
				log.Printf("Failed to open session record: %v", err)
			} else {
				sessionID = id
				log.Printf("Session %s started (%s source)", id, *sourceKind)
			}
		}

		if err := est.Start(); err != nil {
			log.Fatalf("Failed to start tracking backend: %v", err)
		}

		<-ctx.Done()

		// Capture the summary before Stop clears the filter state
		var sum sqlite.SessionSummary
		if store != nil && sessionID != "" {
			ps := est.Stats()
			sum = sqlite.SessionSummary{
				Samples:   int64(est.Frames()),
				Hovers:    int64(ps.Hovers),
				Blinks:    int64(est.Blinks()),
				JitterRMS: est.Jitter(),
			}
		}
		est.Stop()

		if store != nil && sessionID != "" {
			if err := store.EndSession(sessionID, sum); err != nil {
				log.Printf("Failed to finalize session record: %v", err)
			}
		}
		log.Print("tracking session routine terminated")
	}()

	// HTTP server routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("web server error: %v", err)
		}
		log.Print("web server routine terminated")
	}()

	// Periodic statistics routine. Ticks and drops accumulate inside the
	// pipeline, so they land in the interval stats as deltas.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(*logInterval) * time.Second)
		defer ticker.Stop()

		var lastTicks, lastDrops uint64
		for {
			select {
			case <-ctx.Done():
				log.Print("stats routine terminated")
				return
			case <-ticker.C:
				ps := est.Stats()
				stats.AddTicks(int(ps.Ticks - lastTicks))
				stats.AddDropped(int(ps.Drops - lastDrops))
				lastTicks, lastDrops = ps.Ticks, ps.Drops
				stats.LogStats(est.Estimate().TrackingEnabled)
			}
		}
	}()

	// Watch the tuning file and push changes into the running pipeline
	if *tuningPath != "" {
		watcher := config.NewWatcher(config.WatcherConfig{
			Path: *tuningPath,
			OnChange: func(tc config.TuningConfig) {
				est.ApplyTuning(filterTuning(tc))
				ws.SetTuning(tc)
				log.Printf("Tuning reloaded from %s", *tuningPath)
			},
			OnError: func(err error) {
				gaze.Diagf("tuning watch: %v", err)
			},
		})
		watcher.Start()
		defer watcher.Stop()
	}

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
