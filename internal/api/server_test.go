package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rssi.map/internal/db"
	"github.com/banshee-data/rssi.map/internal/fsutil"
	"github.com/banshee-data/rssi.map/internal/testutil"
)

// setupTestServer returns a server whose web root is a temp dir on disk.
func setupTestServer(t *testing.T) (*Server, *Pipeline, *db.DB) {
	t.Helper()
	p, database := newTestPipeline(t, fsutil.OSFileSystem{})
	p.Site.Root = t.TempDir()
	return NewServer(database, p), p, database
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	return w
}

func TestShowEstimates(t *testing.T) {
	s, p, database := setupTestServer(t)

	w := serve(s, http.MethodGet, "/api/estimates")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	devices, obs := testutil.Survey(originLat, originLon, 3, 16)
	seedObservations(t, database, "iw", obs)
	rep, err := p.Rebuild(context.Background())
	require.NoError(t, err)

	w = serve(s, http.MethodGet, "/api/estimates")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	testutil.AssertJSON(t, w)

	var resp EstimatesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Run)
	assert.Equal(t, rep.RunID, resp.Run.ID)
	assert.Equal(t, 3, resp.Run.Estimated)
	assert.Len(t, resp.Estimates, 3)

	w = serve(s, http.MethodGet, "/api/estimates?mac="+strings.ToUpper(devices[1].MAC))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	resp = EstimatesResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Estimates, 1)
	assert.Equal(t, devices[1].MAC, resp.Estimates[0].MAC)
}

func TestShowEstimates_MethodNotAllowed(t *testing.T) {
	s, _, _ := setupTestServer(t)

	w := serve(s, http.MethodPost, "/api/estimates")
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	assert.Equal(t, http.MethodGet, w.Header().Get("Allow"))
}

func TestListRuns(t *testing.T) {
	s, p, _ := setupTestServer(t)

	w := serve(s, http.MethodGet, "/api/runs")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "[]\n", w.Body.String())

	for i := 0; i < 3; i++ {
		_, err := p.Rebuild(context.Background())
		require.NoError(t, err)
	}

	tests := []struct {
		target string
		code   int
		n      int
	}{
		{"/api/runs", http.StatusOK, 3},
		{"/api/runs?limit=2", http.StatusOK, 2},
		{"/api/runs?limit=0", http.StatusBadRequest, 0},
		{"/api/runs?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := serve(s, http.MethodGet, tt.target)
			testutil.AssertStatusCode(t, w.Code, tt.code)
			if tt.code != http.StatusOK {
				return
			}
			var runs []db.Run
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
			assert.Len(t, runs, tt.n)
		})
	}
}

func TestRebuildMap(t *testing.T) {
	s, _, database := setupTestServer(t)
	_, obs := testutil.Survey(originLat, originLon, 2, 12)
	seedObservations(t, database, "iw", obs)

	w := serve(s, http.MethodGet, MapRoute)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	w = serve(s, http.MethodPost, "/api/map/rebuild")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var resp RebuildResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, MapRoute, resp.Map)
	assert.Equal(t, 2, resp.Devices)
	assert.NotEmpty(t, resp.RunID)

	w = serve(s, http.MethodGet, MapRoute)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), "RSSI Map")

	w = serve(s, http.MethodHead, MapRoute)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Empty(t, w.Body.Bytes())

	w = serve(s, http.MethodGet, "/static/aps.json")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	var aps []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &aps))
	assert.Len(t, aps, 2)
}

func TestRebuildMap_Failure(t *testing.T) {
	s, p, _ := setupTestServer(t)
	p.Params.GridMax = 1

	w := serve(s, http.MethodPost, "/api/map/rebuild")
	testutil.AssertStatusCode(t, w.Code, http.StatusInternalServerError)

	var resp RebuildResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, "estimate", resp.Step)
	assert.Contains(t, resp.Error, "grid_max")
}

func TestRebuildMap_MethodNotAllowed(t *testing.T) {
	s, _, _ := setupTestServer(t)
	w := serve(s, http.MethodGet, "/api/map/rebuild")
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestServeStatic(t *testing.T) {
	s, p, _ := setupTestServer(t)

	// Before the first rebuild there is no static dir.
	w := serve(s, http.MethodGet, "/static/aps.json")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	_, err := p.Rebuild(context.Background())
	require.NoError(t, err)

	w = serve(s, http.MethodGet, "/static/missing.js")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	w = serve(s, http.MethodGet, "/static/")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	w = serve(s, http.MethodDelete, "/static/aps.json")
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)

	// ServeMux cleans dot segments, so hand the raw path to the handler.
	req := httptest.NewRequest(http.MethodGet, "/static/x", nil)
	req.URL.Path = "/static/../../etc/passwd"
	rec := httptest.NewRecorder()
	s.serveStatic(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusForbidden)
}

func TestHealthz(t *testing.T) {
	s, _, database := setupTestServer(t)

	w := serve(s, http.MethodGet, "/healthz")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	database.Close()
	w = serve(s, http.MethodGet, "/healthz")
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
}

func TestMetricsRoute(t *testing.T) {
	s, _, _ := setupTestServer(t)

	serve(s, http.MethodPost, "/api/map/rebuild")
	serve(s, http.MethodGet, "/api/estimates")

	w := serve(s, http.MethodGet, "/metrics")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := w.Body.String()
	assert.Contains(t, body, `rssi_runs_total{result="ok"} 1`)
	assert.Contains(t, body, `rssi_http_requests_total{code="200",route="rebuild"} 1`)
	assert.Contains(t, body, `rssi_http_requests_total{code="200",route="estimates"} 1`)
}

func TestAdminRoutesMounted(t *testing.T) {
	s, _, _ := setupTestServer(t)
	w := serve(s, http.MethodGet, "/debug/tailsql/")
	assert.NotEqual(t, http.StatusNotFound, w.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil))

	testutil.AssertStatusCode(t, w.Code, http.StatusTeapot)
	out := buf.String()
	assert.Contains(t, out, "418")
	assert.Contains(t, out, "GET")
	assert.Contains(t, out, "/api/runs?limit=5")
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{304, colorYellow + "304" + colorReset},
		{404, colorBoldRed + "404" + colorReset},
		{503, colorBoldRed + "503" + colorReset},
		{101, "101"},
	}
	for _, tt := range tests {
		if got := statusCodeColor(tt.code); got != tt.want {
			t.Errorf("statusCodeColor(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
