package locate

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/rssi.map/internal/timeutil"
)

// ErrNoSamples is returned when a group has no usable observations.
var ErrNoSamples = errors.New("no samples")

// Estimate is the located position and uncertainty of one device.
type Estimate struct {
	MAC     string  `json:"mac"`
	SSID    string  `json:"ssid"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius_m"`
	Score   float64 `json:"score"`
	Mode    string  `json:"mode"`
	NUsed   int     `json:"n_used"`
}

// GroupError wraps a failure (including a recovered panic) in one group.
type GroupError struct {
	Key GroupKey
	Err error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("group %s/%q: %v", e.Key.MAC, e.Key.SSID, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

// Recorder receives run telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RowsSkipped(reason SkipReason, n int)
	GroupsDropped(n int)
	GroupEstimated(mode Mode, nUsed int, elapsed time.Duration)
	GroupFailed()
}

type nopRecorder struct{}

func (nopRecorder) RowsSkipped(SkipReason, int)             {}
func (nopRecorder) GroupsDropped(int)                       {}
func (nopRecorder) GroupEstimated(Mode, int, time.Duration) {}
func (nopRecorder) GroupFailed()                            {}

// Option configures an Estimator.
type Option func(*Estimator)

// WithRecorder attaches a telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(e *Estimator) {
		if r != nil {
			e.rec = r
		}
	}
}

// WithClock overrides the clock used for per-group timings.
func WithClock(c timeutil.Clock) Option {
	return func(e *Estimator) {
		if c != nil {
			e.clock = c
		}
	}
}

// Estimator turns grouped observations into device estimates.
type Estimator struct {
	params Params
	rec    Recorder
	clock  timeutil.Clock
}

// NewEstimator validates p and returns an estimator bound to it.
func NewEstimator(p Params, opts ...Option) (*Estimator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e := &Estimator{params: p, rec: nopRecorder{}, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Params returns the configuration the estimator was built with.
func (e *Estimator) Params() Params { return e.params }

// RunStats summarises one run.
type RunStats struct {
	LoadStats
	Estimated int `json:"estimated"`
	Failed    int `json:"failed"`
	Fallback  int `json:"fallback"`
}

// RunResult holds the sorted estimates and what happened on the way.
type RunResult struct {
	Estimates []Estimate
	Stats     RunStats
	Errors    []*GroupError
}

// Run groups obs, estimates every surviving group and returns the results
// sorted by radius ascending, then score descending. A failing group is
// recorded and skipped; only cancellation aborts the run.
func (e *Estimator) Run(ctx context.Context, obs []Observation) (*RunResult, error) {
	groups, load := GroupObservations(obs, e.params.MinSamples)
	for reason, n := range load.Skipped {
		e.rec.RowsSkipped(reason, n)
	}
	e.rec.GroupsDropped(load.DroppedGroups)
	diagf("loaded %d rows: %d skipped, %d groups, %d below min_samples",
		load.Rows, load.SkippedTotal(), load.Groups, load.DroppedGroups)

	slots := make([]*Estimate, len(groups))
	errs := make([]*GroupError, len(groups))

	eg, gctx := errgroup.WithContext(ctx)
	if e.params.Workers > 0 {
		eg.SetLimit(e.params.Workers)
	}
	for i, g := range groups {
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			est, err := e.EstimateGroup(g)
			if err != nil {
				var ge *GroupError
				if !errors.As(err, &ge) {
					ge = &GroupError{Key: g.Key, Err: err}
				}
				errs[i] = ge
				return nil
			}
			slots[i] = &est
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		opsf("run cancelled: %v", err)
		return nil, fmt.Errorf("estimate run: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("estimate run: %w", err)
	}

	res := &RunResult{Stats: RunStats{LoadStats: load}}
	for i := range groups {
		switch {
		case errs[i] != nil:
			res.Errors = append(res.Errors, errs[i])
			res.Stats.Failed++
			e.rec.GroupFailed()
			opsf("%v", errs[i])
		case slots[i] != nil:
			res.Estimates = append(res.Estimates, *slots[i])
			if slots[i].Mode != string(ModeStrict) {
				res.Stats.Fallback++
			}
		}
	}
	res.Stats.Estimated = len(res.Estimates)
	SortEstimates(res.Estimates)
	diagf("estimated %d devices (%d fallback, %d failed)",
		res.Stats.Estimated, res.Stats.Fallback, res.Stats.Failed)
	return res, nil
}

// EstimateGroup locates one device. Panics inside the computation are
// recovered and returned as a *GroupError.
func (e *Estimator) EstimateGroup(g Group) (est Estimate, err error) {
	defer func() {
		if r := recover(); r != nil {
			tracef("panic in %s: %v\n%s", g.Key.MAC, r, debug.Stack())
			err = &GroupError{Key: g.Key, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	start := e.clock.Now()
	st, err := e.prepare(g)
	if err != nil {
		return Estimate{}, &GroupError{Key: g.Key, Err: err}
	}

	sr := Search(st.disks, e.params)
	tracef("%s %q: n=%d grid=%dx%d step=%.2f strict=%.4f mode=%s",
		g.Key.MAC, g.Key.SSID, len(st.disks), sr.Grid.NX(), sr.Grid.NY(), sr.Grid.Step, sr.StrictScore, sr.Mode)

	radius := ContourRadius(sr.Grid, sr.Scorer, sr.Best, sr.Score, e.params.RadiusMin, e.params.ScanWorkers)
	lat, lon := st.proj.Inverse(sr.Best)

	mode := string(ModeStrict)
	if sr.Mode == ModeQuantile {
		mode = e.params.FallbackLabel()
	}
	est = Estimate{
		MAC:     g.Key.MAC,
		SSID:    g.Key.SSID,
		Lat:     lat,
		Lon:     lon,
		RadiusM: radius,
		Score:   sr.Score,
		Mode:    mode,
		NUsed:   len(st.disks),
	}
	e.rec.GroupEstimated(sr.Mode, est.NUsed, e.clock.Since(start))
	return est, nil
}

type prepared struct {
	proj  Projection
	disks []Disk
}

func (e *Estimator) prepare(g Group) (prepared, error) {
	if len(g.Observations) == 0 {
		return prepared{}, ErrNoSamples
	}
	kept := Trim(g.Observations, e.params.MinSamples, e.params.trimFraction())
	proj := OriginOf(kept)
	disks := BuildDisks(proj.Project(kept), e.params.RadiusMin, e.params.RadiusMax)
	return prepared{proj: proj, disks: disks}, nil
}

// SortEstimates orders by radius ascending, then score descending. Equal
// entries keep their relative order.
func SortEstimates(ests []Estimate) {
	sort.SliceStable(ests, func(i, j int) bool {
		if ests[i].RadiusM != ests[j].RadiusM {
			return ests[i].RadiusM < ests[j].RadiusM
		}
		return ests[i].Score > ests[j].Score
	})
}
