package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/banshee-data/rssi.map/internal/locate"
)

func newTestCollector(t *testing.T) (*EstimatorCollector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewEstimatorCollector(reg)
	if err != nil {
		t.Fatalf("NewEstimatorCollector: %v", err)
	}
	return c, reg
}

func TestRecorderCounters(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RowsSkipped(locate.SkipBadIdentity, 3)
	c.RowsSkipped(locate.SkipBadIdentity, 0)
	c.RowsSkipped(locate.SkipNonFinite, 1)
	c.GroupsDropped(2)
	c.GroupEstimated(locate.ModeStrict, 8, 20*time.Millisecond)
	c.GroupEstimated(locate.ModeQuantile, 12, 40*time.Millisecond)
	c.GroupEstimated(locate.ModeStrict, 9, 10*time.Millisecond)
	c.GroupFailed()

	if got := testutil.ToFloat64(c.SkippedRows.WithLabelValues("bad_identity")); got != 3 {
		t.Errorf("rows skipped bad_identity = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.SkippedRows.WithLabelValues("non_finite")); got != 1 {
		t.Errorf("rows skipped non_finite = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.DroppedGroups); got != 2 {
		t.Errorf("groups dropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.EstimatedGroups.WithLabelValues("min")); got != 2 {
		t.Errorf("groups estimated min = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.EstimatedGroups.WithLabelValues("qmin")); got != 1 {
		t.Errorf("groups estimated qmin = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.FailedGroups); got != 1 {
		t.Errorf("groups failed = %v, want 1", got)
	}
	if n := histogramSampleCount(t, reg, "rssi_group_estimate_duration_seconds", map[string]string{"mode": "min"}); n != 2 {
		t.Errorf("duration samples for min = %d, want 2", n)
	}
	if n := histogramSampleCount(t, reg, "rssi_group_samples_used", nil); n != 3 {
		t.Errorf("samples_used count = %d, want 3", n)
	}
}

func TestRunCompleted(t *testing.T) {
	c, _ := newTestCollector(t)
	at := time.Unix(1_800_000_000, 0)

	c.RunCompleted(at, 5, time.Second, nil)
	c.RunCompleted(at.Add(time.Minute), 9, time.Second, errors.New("db locked"))

	if got := testutil.ToFloat64(c.Runs.WithLabelValues("ok")); got != 1 {
		t.Errorf("runs ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Runs.WithLabelValues("error")); got != 1 {
		t.Errorf("runs error = %v, want 1", got)
	}
	// A failed run leaves the last-success gauges alone.
	if got := testutil.ToFloat64(c.LastRunDevices); got != 5 {
		t.Errorf("last run devices = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.LastRunUnix); got != 1_800_000_000 {
		t.Errorf("last run unix = %v", got)
	}
}

func TestEstimatorRunFeedsCollector(t *testing.T) {
	c, _ := newTestCollector(t)

	var obs []locate.Observation
	for i := 0; i < 8; i++ {
		obs = append(obs, locate.Observation{
			MAC: "aa:bb:cc:dd:ee:ff", Lat: 52.5 + float64(i)*1e-6, Lon: 13.4, RSSI: -50 - float64(i),
		})
	}
	obs = append(obs, locate.Observation{MAC: "bogus", Lat: 1, Lon: 1, RSSI: -50})

	p := locate.DefaultParams()
	p.Workers = 1
	est, err := locate.NewEstimator(p, locate.WithRecorder(c))
	if err != nil {
		t.Fatalf("NewEstimator: %v", err)
	}
	res, err := est.Run(context.Background(), obs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Estimates) != 1 {
		t.Fatalf("estimates = %d, want 1", len(res.Estimates))
	}
	if got := testutil.ToFloat64(c.SkippedRows.WithLabelValues("bad_identity")); got != 1 {
		t.Errorf("rows skipped = %v, want 1", got)
	}
	total := testutil.ToFloat64(c.EstimatedGroups.WithLabelValues("min")) +
		testutil.ToFloat64(c.EstimatedGroups.WithLabelValues("qmin"))
	if total != 1 {
		t.Errorf("groups estimated = %v, want 1", total)
	}
}

func TestReRegisterReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewEstimatorCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewEstimatorCollector(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	first.GroupFailed()
	if got := testutil.ToFloat64(second.FailedGroups); got != 1 {
		t.Errorf("shared counter = %v, want 1", got)
	}
}

func TestHandlerAndInstrument(t *testing.T) {
	c, _ := newTestCollector(t)
	c.GroupsDropped(4)

	h := c.Instrument("teapot", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	ok := c.Instrument("ok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hi"))
	}))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/y", nil))

	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("teapot", "418")); got != 1 {
		t.Errorf("teapot requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("ok", "200")); got != 1 {
		t.Errorf("ok requests = %v, want 1", got)
	}

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	for _, metric := range []string{"rssi_groups_dropped_total 4", "rssi_http_requests_total"} {
		if !strings.Contains(rr.Body.String(), metric) {
			t.Errorf("expected %q in /metrics output", metric)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *EstimatorCollector
	c.RowsSkipped(locate.SkipNonFinite, 1)
	c.GroupsDropped(1)
	c.GroupEstimated(locate.ModeStrict, 1, time.Millisecond)
	c.GroupFailed()
	c.RunCompleted(time.Now(), 1, time.Second, nil)

	h := http.NotFoundHandler()
	if got := c.Instrument("x", h); got == nil {
		t.Error("Instrument on nil collector should return next")
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
