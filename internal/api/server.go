// Package api serves the HTTP interface over the plate store and, when one
// is attached, the live processing pipeline.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/httputil"
	"github.com/banshee-data/plate.report/internal/monitoring"
	"github.com/banshee-data/plate.report/internal/pipeline"
	"github.com/banshee-data/plate.report/internal/units"
	"github.com/banshee-data/plate.report/internal/version"
)

// ANSI color codes for terminal output
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// PipelineControl is the slice of the pipeline the API needs for live
// status and rotation control. It is nil when the server fronts a store
// with no active processing run.
type PipelineControl interface {
	Snapshot() pipeline.Progress
	SetRotationScan(enabled bool)
	RotationScan() bool
}

type Server struct {
	db    *db.DB
	pipe  PipelineControl
	units string
}

// NewServer wires the HTTP layer to a plate store and an optional live
// pipeline. Speeds are converted to displayUnits before encoding; an empty
// or unknown value falls back to km/h.
func NewServer(database *db.DB, pipe PipelineControl, displayUnits string) *Server {
	if !units.IsValid(displayUnits) {
		displayUnits = units.KMPH
	}
	return &Server{
		db:    database,
		pipe:  pipe,
		units: displayUnits,
	}
}

// loggingResponseWriter wraps http.ResponseWriter to capture the status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func statusCodeColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return colorBoldGreen + strconv.Itoa(code) + colorReset
	case code >= 400:
		return colorBoldRed + strconv.Itoa(code) + colorReset
	default:
		return colorYellow + strconv.Itoa(code) + colorReset
	}
}

// LoggingMiddleware logs all HTTP requests with method, path, status and timing
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		monitoring.Logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode),
			r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

// ServeMux returns the route table for the API.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/plates", s.listPlates)
	mux.HandleFunc("/api/plates/", s.plateByID)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/", s.showRun)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/rotation", s.handleRotation)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)

	return mux
}

// targetUnits resolves the display units for a request. A units query
// parameter overrides the server default for that response only.
func (s *Server) targetUnits(r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, true
	}
	if !units.IsValid(u) {
		return "", false
	}
	return u, true
}

func convertPlateSpeed(plate *db.PlateRecord, targetUnits string) {
	if plate.Speed == nil {
		return
	}
	converted := units.ConvertSpeed(*plate.Speed, targetUnits)
	plate.Speed = &converted
}

func (s *Server) listPlates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	target, ok := s.targetUnits(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'units' parameter. Valid units: "+units.GetValidUnitsString())
		return
	}

	var records []db.PlateRecord
	var err error
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		minConfidence, parseErr := strconv.ParseFloat(v, 64)
		if parseErr != nil || minConfidence < 0 || minConfidence > 1 {
			httputil.BadRequest(w, "Invalid 'min_confidence' parameter")
			return
		}
		records, err = s.db.ListPlatesAbove(minConfidence, limit)
	} else {
		records, err = s.db.ListPlates(limit)
	}
	if err != nil {
		httputil.InternalServerError(w, "Failed to list plates: "+err.Error())
		return
	}

	if records == nil {
		records = []db.PlateRecord{}
	}
	for i := range records {
		convertPlateSpeed(&records[i], target)
	}

	httputil.WriteJSONOK(w, records)
}

// plateByID dispatches /api/plates/{id} and /api/plates/{id}/image.
func (s *Server) plateByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/plates/")
	if rest == "" {
		s.listPlates(w, r)
		return
	}
	parts := strings.Split(rest, "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		httputil.BadRequest(w, "Invalid plate id")
		return
	}

	switch {
	case len(parts) == 1:
		s.plateResource(w, r, id)
	case len(parts) == 2 && parts[1] == "image":
		s.plateImage(w, r, id)
	default:
		httputil.NotFound(w, "Not found")
	}
}

func (s *Server) plateResource(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		plate, err := s.db.GetPlate(id)
		if errors.Is(err, db.ErrNotFound) {
			httputil.NotFound(w, "Plate not found")
			return
		}
		if err != nil {
			httputil.InternalServerError(w, "Failed to get plate: "+err.Error())
			return
		}

		target, ok := s.targetUnits(r)
		if !ok {
			httputil.BadRequest(w, "Invalid 'units' parameter. Valid units: "+units.GetValidUnitsString())
			return
		}
		convertPlateSpeed(plate, target)
		httputil.WriteJSONOK(w, plate)

	case http.MethodDelete:
		deleted, err := s.db.DeletePlate(id)
		if err != nil {
			httputil.InternalServerError(w, "Failed to delete plate: "+err.Error())
			return
		}
		if !deleted {
			httputil.NotFound(w, "Plate not found")
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{"deleted": id})

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) plateImage(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	image, err := s.db.GetPlateImage(id)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "Plate not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "Failed to get plate image: "+err.Error())
		return
	}
	if len(image) == 0 {
		httputil.NotFound(w, "Plate has no stored image")
		return
	}

	httputil.WritePNG(w, image)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	stats, err := s.db.GetPlateStats()
	if err != nil {
		httputil.InternalServerError(w, "Failed to get stats: "+err.Error())
		return
	}

	target, ok := s.targetUnits(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'units' parameter. Valid units: "+units.GetValidUnitsString())
		return
	}
	if stats.MaxSpeed != nil {
		converted := units.ConvertSpeed(*stats.MaxSpeed, target)
		stats.MaxSpeed = &converted
	}

	httputil.WriteJSONOK(w, stats)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to list runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}

	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if id == "" {
		s.listRuns(w, r)
		return
	}
	if strings.Contains(id, "/") {
		httputil.NotFound(w, "Not found")
		return
	}

	run, err := s.db.GetRun(id)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "Run not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "Failed to get run: "+err.Error())
		return
	}

	httputil.WriteJSONOK(w, run)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	if s.pipe == nil {
		httputil.WriteJSONOK(w, map[string]interface{}{"active": false})
		return
	}

	httputil.WriteJSONOK(w, struct {
		Active bool `json:"active"`
		pipeline.Progress
	}{true, s.pipe.Snapshot()})
}

func (s *Server) handleRotation(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "No active pipeline")
		return
	}

	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, map[string]interface{}{"rotation_scan": s.pipe.RotationScan()})

	case http.MethodPost:
		enabled, err := strconv.ParseBool(r.FormValue("enabled"))
		if err != nil {
			httputil.BadRequest(w, "Invalid 'enabled' parameter")
			return
		}
		s.pipe.SetRotationScan(enabled)
		monitoring.Logf("Rotation scan set to %v via API", enabled)
		httputil.WriteJSONOK(w, map[string]interface{}{"rotation_scan": enabled})

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"units":           s.units,
		"pipeline_active": s.pipe != nil,
	})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
