package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/rssi.map/internal/locate"
)

// EstimatorCollector bundles Prometheus metrics for estimator runs and the
// HTTP surface. It satisfies locate.Recorder.
type EstimatorCollector struct {
	gatherer prometheus.Gatherer

	SkippedRows     *prometheus.CounterVec
	DroppedGroups   prometheus.Counter
	EstimatedGroups *prometheus.CounterVec
	FailedGroups    prometheus.Counter
	GroupDurations  *prometheus.HistogramVec
	SamplesUsed     prometheus.Histogram

	Runs           *prometheus.CounterVec
	RunDurations   prometheus.Histogram
	LastRunUnix    prometheus.Gauge
	LastRunDevices prometheus.Gauge
	HTTPRequests   *prometheus.CounterVec
}

var _ locate.Recorder = (*EstimatorCollector)(nil)

// NewEstimatorCollector registers estimator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEstimatorCollector(reg prometheus.Registerer) (*EstimatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	skipped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rssi_rows_skipped_total",
		Help: "Observation rows excluded at load, labeled by reason.",
	}, []string{"reason"}), "rssi_rows_skipped_total")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rssi_groups_dropped_total",
		Help: "Device groups dropped for having fewer than min_samples observations.",
	}), "rssi_groups_dropped_total")
	if err != nil {
		return nil, err
	}
	estimated, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rssi_groups_estimated_total",
		Help: "Device groups that produced an estimate, labeled by accepted combiner.",
	}, []string{"mode"}), "rssi_groups_estimated_total")
	if err != nil {
		return nil, err
	}
	failed, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rssi_groups_failed_total",
		Help: "Device groups whose estimation failed or panicked.",
	}), "rssi_groups_failed_total")
	if err != nil {
		return nil, err
	}
	groupDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rssi_group_estimate_duration_seconds",
		Help:    "Time spent estimating one device group.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"mode"}), "rssi_group_estimate_duration_seconds")
	if err != nil {
		return nil, err
	}
	samples, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rssi_group_samples_used",
		Help:    "Observations kept after trimming, per estimated group.",
		Buckets: prometheus.ExponentialBuckets(4, 2, 8),
	}), "rssi_group_samples_used")
	if err != nil {
		return nil, err
	}

	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rssi_runs_total",
		Help: "Estimator runs, labeled by outcome.",
	}, []string{"result"}), "rssi_runs_total")
	if err != nil {
		return nil, err
	}
	runDurations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rssi_run_duration_seconds",
		Help:    "Wall time of a full load, estimate and render cycle.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}), "rssi_run_duration_seconds")
	if err != nil {
		return nil, err
	}
	lastRun, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rssi_last_run_timestamp_seconds",
		Help: "Unix time of the last successful run.",
	}), "rssi_last_run_timestamp_seconds")
	if err != nil {
		return nil, err
	}
	lastDevices, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rssi_last_run_devices",
		Help: "Number of devices located by the last successful run.",
	}), "rssi_last_run_devices")
	if err != nil {
		return nil, err
	}
	httpRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rssi_http_requests_total",
		Help: "HTTP requests served, labeled by route and status code.",
	}, []string{"route", "code"}), "rssi_http_requests_total")
	if err != nil {
		return nil, err
	}

	return &EstimatorCollector{
		gatherer:        gatherer,
		SkippedRows:     skipped,
		DroppedGroups:   dropped,
		EstimatedGroups: estimated,
		FailedGroups:    failed,
		GroupDurations:  groupDurations,
		SamplesUsed:     samples,
		Runs:            runs,
		RunDurations:    runDurations,
		LastRunUnix:     lastRun,
		LastRunDevices:  lastDevices,
		HTTPRequests:    httpRequests,
	}, nil
}

// RowsSkipped implements locate.Recorder.
func (c *EstimatorCollector) RowsSkipped(reason locate.SkipReason, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.SkippedRows.WithLabelValues(string(reason)).Add(float64(n))
}

// GroupsDropped implements locate.Recorder.
func (c *EstimatorCollector) GroupsDropped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.DroppedGroups.Add(float64(n))
}

// GroupEstimated implements locate.Recorder.
func (c *EstimatorCollector) GroupEstimated(mode locate.Mode, nUsed int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.EstimatedGroups.WithLabelValues(string(mode)).Inc()
	c.GroupDurations.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	c.SamplesUsed.Observe(float64(nUsed))
}

// GroupFailed implements locate.Recorder.
func (c *EstimatorCollector) GroupFailed() {
	if c == nil {
		return
	}
	c.FailedGroups.Inc()
}

// RunCompleted records a finished rebuild. A nil err marks success and
// updates the last-run gauges.
func (c *EstimatorCollector) RunCompleted(at time.Time, devices int, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.RunDurations.Observe(elapsed.Seconds())
	if err != nil {
		c.Runs.WithLabelValues("error").Inc()
		return
	}
	c.Runs.WithLabelValues("ok").Inc()
	c.LastRunUnix.Set(float64(at.Unix()))
	c.LastRunDevices.Set(float64(devices))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EstimatorCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Instrument wraps next so every response is counted under route.
func (c *EstimatorCollector) Instrument(route string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		c.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
