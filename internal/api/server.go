package api

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/curbwatch/internal/camera"
	"github.com/banshee-data/curbwatch/internal/config"
	"github.com/banshee-data/curbwatch/internal/db"
	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/dwell"
	"github.com/banshee-data/curbwatch/internal/engine"
	"github.com/banshee-data/curbwatch/internal/evidence"
	"github.com/banshee-data/curbwatch/internal/httputil"
	"github.com/banshee-data/curbwatch/internal/monitoring"
	"github.com/banshee-data/curbwatch/internal/parking"
	"github.com/banshee-data/curbwatch/internal/serialmux"
	"github.com/banshee-data/curbwatch/internal/timeutil"
	"github.com/banshee-data/curbwatch/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxBodyBytes bounds request bodies for config, camera and signal uploads.
const maxBodyBytes = 4 << 20

// Server exposes the detection engine over HTTP.
type Server struct {
	eng       *engine.Engine
	m         serialmux.SerialMuxInterface
	bridge    *serialmux.Bridge
	db        *db.DB
	decisions *decisionlog.Memory
	clock     timeutil.Clock
	units     string
}

// Options configures NewServer. Only Engine is required.
type Options struct {
	Engine    *engine.Engine
	Mux       serialmux.SerialMuxInterface
	Bridge    *serialmux.Bridge
	DB        *db.DB
	Decisions *decisionlog.Memory
	Clock     timeutil.Clock
	Units     string
}

func NewServer(opts Options) *Server {
	s := &Server{
		eng:       opts.Engine,
		m:         opts.Mux,
		bridge:    opts.Bridge,
		db:        opts.DB,
		decisions: opts.Decisions,
		clock:     opts.Clock,
		units:     opts.Units,
	}
	if s.m == nil {
		s.m = serialmux.NewDisabledSerialMux()
	}
	if s.bridge == nil {
		s.bridge = serialmux.NewBridge(s.m, s.eng)
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if !units.IsValid(s.units) {
		s.units = units.MPS
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/evidence", s.listEvidence)
	mux.HandleFunc("/api/evidence/drain", s.drainEvidence)
	mux.HandleFunc("/api/not-parked", s.notParked)
	mux.HandleFunc("/api/reset", s.reset)
	mux.HandleFunc("/api/signals", s.submitSignals)
	mux.HandleFunc("/api/decisions", s.listDecisions)
	mux.HandleFunc("/api/cameras", s.handleCameras)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	engine.Status
	Speed        float64               `json:"speed"`
	Units        string                `json:"units"`
	Serial       serialmux.MuxStats    `json:"serial"`
	Bridge       serialmux.BridgeStats `json:"bridge"`
	BridgeStatus map[string]any        `json:"bridge_status,omitempty"`
	Clamped      uint64                `json:"clamped_timestamps"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	st := s.eng.Status(s.clock.Now())
	httputil.WriteJSONOK(w, StatusResponse{
		Status:       st,
		Speed:        units.ConvertSpeed(st.LastFix.SpeedMps, s.units),
		Units:        s.units,
		Serial:       s.m.Stats(),
		Bridge:       s.bridge.Stats(),
		BridgeStatus: s.bridge.DeviceStatus(),
		Clamped:      s.bridge.Clamped(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.eng.Config())
	case http.MethodPut, http.MethodPatch:
		var patch config.TuningConfig
		if err := httputil.DecodeJSON(w, r, maxBodyBytes, &patch); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid config: %v", err))
			return
		}
		merged, err := s.eng.UpdateConfig(&patch)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, merged)
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodPatch)
	}
}

func (s *Server) listEvidence(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	bundles := s.eng.Evidence(s.clock.Now())
	if bundles == nil {
		bundles = []evidence.Bundle{}
	}
	httputil.WriteJSONOK(w, bundles)
}

func (s *Server) drainEvidence(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	bundles := s.eng.DrainEvidence(s.clock.Now())
	if bundles == nil {
		bundles = []evidence.Bundle{}
	}
	monitoring.Logf("[api] evidence drained: %d bundles", len(bundles))
	httputil.WriteJSONOK(w, bundles)
}

// NotParkedResponse is the body of POST /api/not-parked.
type NotParkedResponse struct {
	State     parking.State  `json:"state"`
	LockedOut bool           `json:"locked_out"`
	Zone      *dwell.Hotspot `json:"zone,omitempty"`
}

func (s *Server) notParked(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	zone, ok, err := s.eng.NotParked()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	resp := NotParkedResponse{State: s.eng.State(), LockedOut: ok}
	if ok {
		resp.Zone = &zone
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	ev, err := s.eng.Reset()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, ev)
}

// SignalsResponse is the body of POST /api/signals.
type SignalsResponse struct {
	Accepted int      `json:"accepted"`
	Errors   []string `json:"errors,omitempty"`
}

// submitSignals accepts newline-delimited JSON records in the sensor bridge
// format, for hosts that deliver signals over HTTP instead of serial.
func (s *Server) submitSignals(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var resp SignalsResponse
	scan := bufio.NewScanner(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	scan.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scan.Scan() {
		line++
		text := strings.TrimSpace(scan.Text())
		if text == "" {
			continue
		}
		submitted, err := s.bridge.HandleLine(text)
		if err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if submitted {
			resp.Accepted++
		}
	}
	if err := scan.Err(); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("read body: %v", err))
		return
	}
	status := http.StatusAccepted
	if resp.Accepted == 0 && len(resp.Errors) > 0 {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resp)
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.decisions == nil {
		httputil.NotFound(w, "decision tail not enabled")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}

	var entries []decisionlog.Entry
	if c := r.URL.Query().Get("component"); c != "" {
		entries = s.decisions.Filter(c)
	} else {
		entries = s.decisions.Entries()
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	// entries are written as canonical decision log lines
	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, e := range entries {
		line, err := e.MarshalLine()
		if err != nil {
			monitoring.Logf("[api] decision entry not encodable: %v", err)
			continue
		}
		w.Write(line)
	}
}

// CamerasResponse is the body of GET /api/cameras.
type CamerasResponse struct {
	Count   int                 `json:"count"`
	Cameras []camera.Definition `json:"cameras"`
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		defs := s.eng.Cameras().All()
		if defs == nil {
			defs = []camera.Definition{}
		}
		httputil.WriteJSONOK(w, CamerasResponse{Count: len(defs), Cameras: defs})
	case http.MethodPut:
		defs, err := camera.LoadYAML(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid camera table: %v", err))
			return
		}
		table, err := camera.NewTable(defs)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if s.db != nil {
			if err := s.db.ReplaceCameras(defs); err != nil {
				httputil.InternalServerError(w, fmt.Sprintf("failed to store cameras: %v", err))
				return
			}
		}
		s.eng.SetCameras(table)
		httputil.WriteJSONOK(w, CamerasResponse{Count: table.Len(), Cameras: table.All()})
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}
