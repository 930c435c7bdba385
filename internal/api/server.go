package api

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/rssi.map/internal/db"
	"github.com/banshee-data/rssi.map/internal/httputil"
	"github.com/banshee-data/rssi.map/internal/locate"
	"github.com/banshee-data/rssi.map/internal/observability"
	"github.com/banshee-data/rssi.map/internal/render"
	"github.com/banshee-data/rssi.map/internal/security"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// MapRoute is where the rendered map is served.
const MapRoute = "/map.html"

type Server struct {
	db       *db.DB
	pipeline *Pipeline
	site     *render.Site
	metrics  *observability.EstimatorCollector
}

// NewServer serves the run history in database and the files p writes.
func NewServer(database *db.DB, p *Pipeline) *Server {
	return &Server{
		db:       database,
		pipeline: p,
		site:     p.Site,
		metrics:  p.Metrics,
	}
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
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux mounts the API, the generated map files, /metrics, /healthz and
// the /debug/ admin routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.handle(mux, "/api/estimates", "estimates", s.showEstimates)
	s.handle(mux, "/api/runs", "runs", s.listRuns)
	s.handle(mux, "/api/map/rebuild", "rebuild", s.rebuildMap)
	s.handle(mux, MapRoute, "map", s.serveMap)
	s.handle(mux, "/static/", "static", s.serveStatic)
	mux.HandleFunc("/healthz", s.healthz)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}
	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.HandlerFunc) {
	if s.metrics == nil {
		mux.Handle(pattern, h)
		return
	}
	mux.Handle(pattern, s.metrics.Instrument(route, h))
}

// EstimatesResponse is the body of GET /api/estimates.
type EstimatesResponse struct {
	Run       *db.Run           `json:"run"`
	Estimates []locate.Estimate `json:"estimates"`
}

func (s *Server) showEstimates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	run, err := s.db.LatestRun(r.Context())
	if errors.Is(err, db.ErrNoRuns) {
		httputil.NotFound(w, "no estimate runs yet")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to load latest run: %v", err))
		return
	}

	ests, err := s.db.RunEstimates(r.Context(), run.ID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to load estimates: %v", err))
		return
	}

	if mac := r.URL.Query().Get("mac"); mac != "" {
		mac = locate.NormalizeMAC(mac)
		filtered := ests[:0]
		for _, e := range ests {
			if e.MAC == mac {
				filtered = append(filtered, e)
			}
		}
		ests = filtered
	}

	httputil.WriteJSONOK(w, EstimatesResponse{Run: run, Estimates: ests})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

// RebuildResponse is the body of POST /api/map/rebuild.
type RebuildResponse struct {
	OK      bool   `json:"ok"`
	Map     string `json:"map,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Devices int    `json:"devices"`
	Step    string `json:"step,omitempty"`
	Error   string `json:"error,omitempty"`
	// PublishError reports a failed forward of an otherwise complete run.
	PublishError string `json:"publish_error,omitempty"`
}

func (s *Server) rebuildMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	rep, err := s.pipeline.Rebuild(r.Context())
	if err != nil {
		resp := RebuildResponse{OK: false, Error: err.Error()}
		var serr *StepError
		if errors.As(err, &serr) {
			resp.Step = string(serr.Step)
			resp.Error = serr.Err.Error()
		}
		httputil.WriteJSON(w, http.StatusInternalServerError, resp)
		return
	}

	httputil.WriteJSONOK(w, RebuildResponse{
		OK:           true,
		Map:          MapRoute,
		RunID:        rep.RunID,
		Devices:      rep.Devices,
		PublishError: rep.PublishError,
	})
}

func (s *Server) serveMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	s.serveFile(w, r, s.site.MapPath(), "map has not been generated yet; POST /api/map/rebuild")
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}

	staticDir := filepath.Join(s.site.Root, render.StaticDir)
	name := strings.TrimPrefix(r.URL.Path, "/static/")
	if name == "" || strings.Contains(name, "\x00") || !s.site.FS.Exists(staticDir) {
		httputil.NotFound(w, "not found")
		return
	}
	path := filepath.Join(staticDir, filepath.FromSlash(name))
	if err := security.ValidatePathWithinDirectory(path, staticDir); err != nil {
		httputil.WriteJSONError(w, http.StatusForbidden, "invalid path")
		return
	}
	s.serveFile(w, r, path, "not found")
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path, missing string) {
	data, err := s.site.FS.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		httputil.NotFound(w, missing)
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to read file: %v", err))
		return
	}

	ctype := mime.TypeByExtension(filepath.Ext(path))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	w.Write(data)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}
