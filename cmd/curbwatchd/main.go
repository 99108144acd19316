package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/curbwatch/internal/api"
	"github.com/banshee-data/curbwatch/internal/camera"
	"github.com/banshee-data/curbwatch/internal/config"
	"github.com/banshee-data/curbwatch/internal/db"
	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/engine"
	"github.com/banshee-data/curbwatch/internal/httputil"
	"github.com/banshee-data/curbwatch/internal/location"
	"github.com/banshee-data/curbwatch/internal/monitoring"
	"github.com/banshee-data/curbwatch/internal/serialmux"
	"github.com/banshee-data/curbwatch/internal/version"
)

var (
	dbPath        = flag.String("db", "curbwatch.db", "Path to the state database")
	configPath    = flag.String("config", "", "Tuning config JSON file (built-in defaults when empty)")
	camerasPath   = flag.String("cameras", "", "Camera table (.yaml or .csv) to load and store; the stored table is used when empty")
	port          = flag.String("port", "/dev/ttyUSB0", "Sensor bridge serial port")
	serialOptions = flag.String("serial-options", "", `Serial options as JSON, e.g. {"baud_rate":115200}`)
	disableSerial = flag.Bool("disable-serial", false, "Run without the sensor bridge; signals arrive on /api/signals")
	listen        = flag.String("listen", ":8080", "Listen address")
	decisionPath  = flag.String("decision-log", "decisions.jsonl", "Decision log path")
	decisionTail  = flag.Int("decision-tail", 2000, "Decisions kept in memory for /api/decisions")
	recordPath    = flag.String("record", "", "Append raw bridge lines to this file for later replay")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("curbwatchd"))
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	cameras, err := loadCameras(database, *camerasPath)
	if err != nil {
		log.Fatalf("Failed to load camera table: %v", err)
	}

	dlog, err := decisionlog.Open(*decisionPath, decisionlog.Options{MaxBytes: cfg.GetDecisionLogMaxBytes()})
	if err != nil {
		log.Fatalf("Failed to open decision log: %v", err)
	}
	defer dlog.Close()
	tail := &decisionlog.Memory{Limit: *decisionTail}

	eng := engine.New(engine.Options{
		Config:        cfg,
		Recorder:      decisionlog.Multi(dlog, tail),
		Store:         database,
		EvidenceStore: database,
		Listener:      logListener(),
		Cameras:       cameras,
	})
	if err := eng.Rehydrate(time.Now()); err != nil {
		// a partial restore still leaves a usable engine
		log.Printf("rehydrate: %v", err)
	}

	m, err := openMux()
	if err != nil {
		log.Fatalf("Failed to open sensor bridge: %v", err)
	}
	defer m.Close()

	bridge := serialmux.NewBridge(m, eng)
	if *recordPath != "" {
		f, err := os.OpenFile(*recordPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open record file: %v", err)
		}
		defer f.Close()
		bridge.Record(f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(ctx)
	})

	// run the monitor routine to manage IO on the serial port
	g.Go(func() error {
		err := m.Monitor(ctx)
		log.Print("monitor routine terminated")
		return ignoreCanceled(err)
	})

	g.Go(func() error {
		err := bridge.Run(ctx)
		log.Print("bridge routine terminated")
		return ignoreCanceled(err)
	})

	mux := http.NewServeMux()

	// mount the admin debugging routes (accessible only locally or over Tailscale)
	debug := database.AttachAdminRoutes(mux)
	m.AttachAdminRoutes(debug)
	debug.HandleFunc("engine", "Detection context", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, eng.Status(time.Now()))
	})
	debug.HandleFunc("fallback", "Lines that could not be persisted", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, monitoring.Fallback.Entries())
	})
	debug.HandleFunc("decision-log", "Decision log file stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, dlog.Stats())
	})

	apiMux := api.NewServer(api.Options{
		Engine:    eng,
		Mux:       m,
		Bridge:    bridge,
		DB:        database,
		Decisions: tail,
		Units:     cfg.GetDisplayUnits(),
	}).ServeMux()
	mux.Handle("/api/", apiMux)
	mux.Handle("/command", apiMux)

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	g.Go(func() error {
		log.Printf("listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Wait for context cancellation to shut down server
	g.Go(func() error {
		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("stopped: %v", err)
	}
	if err := dlog.Sync(); err != nil {
		log.Printf("decision log sync: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// loadCameras reads the camera table from path and stores it, or falls back
// to the table stored by a previous run.
func loadCameras(database *db.DB, path string) (*camera.Table, error) {
	if path == "" {
		defs, err := database.LoadCameras()
		if err != nil {
			return nil, err
		}
		table, err := camera.NewTable(defs)
		if err != nil {
			return nil, err
		}
		log.Printf("loaded %d stored cameras", table.Len())
		return table, nil
	}

	table, err := camera.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := database.ReplaceCameras(table.All()); err != nil {
		return nil, err
	}
	log.Printf("loaded %d cameras from %s", table.Len(), path)
	return table, nil
}

func openMux() (serialmux.SerialMuxInterface, error) {
	if *disableSerial {
		log.Print("sensor bridge disabled; accepting signals over HTTP only")
		return serialmux.NewDisabledSerialMux(), nil
	}

	opts, err := serialmux.ParsePortOptions(*serialOptions)
	if err != nil {
		return nil, err
	}
	m, err := serialmux.Open(*port, opts)
	if err != nil {
		return nil, err
	}
	if err := m.Initialise(); err != nil {
		m.Close()
		return nil, fmt.Errorf("initialise bridge: %w", err)
	}
	log.Printf("initialised sensor bridge on %s (%s)", *port, opts)
	return m, nil
}

func logListener() engine.Listener {
	return engine.ListenerFuncs{
		DrivingStarted: func(at time.Time, loc location.Snapshot) {
			log.Printf("driving started at %s (%s)", at.Format(time.RFC3339), describe(loc))
		},
		ParkingDetected: func(at time.Time, loc location.Snapshot) {
			log.Printf("parked at %s (%s)", at.Format(time.RFC3339), describe(loc))
		},
		CameraAlert: func(a camera.Alert) {
			log.Printf("camera alert %s %s %q at %.0fm", a.CameraID, a.Type, a.Address, a.DistanceMeters)
		},
	}
}

func describe(loc location.Snapshot) string {
	if !loc.Found() {
		return "no location"
	}
	s := fmt.Sprintf("%.5f,%.5f via %s", loc.Fix.Lat, loc.Fix.Lng, loc.Source)
	if loc.Degraded {
		s += ", degraded"
	}
	return s
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
