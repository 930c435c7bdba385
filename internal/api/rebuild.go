package api

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/rssi.map/internal/db"
	"github.com/banshee-data/rssi.map/internal/locate"
	"github.com/banshee-data/rssi.map/internal/monitoring"
	"github.com/banshee-data/rssi.map/internal/observability"
	"github.com/banshee-data/rssi.map/internal/render"
	"github.com/banshee-data/rssi.map/internal/timeutil"
	"github.com/banshee-data/rssi.map/internal/version"
)

// Files written next to map.html on every rebuild.
const (
	SummaryFile        = "summary.json"
	SummaryGeoJSONFile = "summary.geojson"
)

// Step names the stage of a rebuild that failed.
type Step string

const (
	StepLoad     Step = "load"
	StepEstimate Step = "estimate"
	StepPersist  Step = "persist"
	StepWrite    Step = "write"
)

// StepError is returned by Pipeline.Rebuild.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// RunPublisher forwards a finished run, e.g. to MQTT.
type RunPublisher interface {
	PublishRun(runID string, at time.Time, ests []locate.Estimate) error
}

// Report describes a successful rebuild.
type Report struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Devices   int             `json:"devices"`
	Stats     locate.RunStats `json:"stats"`
	Elapsed   time.Duration   `json:"-"`
	// PublishError is set when the run was stored and rendered but could not
	// be forwarded.
	PublishError string `json:"publish_error,omitempty"`
}

// Pipeline loads observations, estimates every device, stores the run and
// regenerates the map files. Rebuilds are serialized.
type Pipeline struct {
	DB        *db.DB
	Site      *render.Site
	Params    locate.Params
	Filter    db.ObservationFilter
	Metrics   *observability.EstimatorCollector
	Publisher RunPublisher
	Position  *render.Position
	Clock     timeutil.Clock
	// KeepRuns bounds the stored run history; 0 keeps everything.
	KeepRuns int

	mu sync.Mutex
}

func (p *Pipeline) clock() timeutil.Clock {
	if p.Clock == nil {
		return timeutil.RealClock{}
	}
	return p.Clock
}

// Rebuild runs the pipeline once.
func (p *Pipeline) Rebuild(ctx context.Context) (*Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clock := p.clock()
	start := clock.Now()
	rep, err := p.rebuild(ctx, start)
	elapsed := clock.Since(start)

	devices := 0
	if rep != nil {
		devices = rep.Devices
	}
	p.Metrics.RunCompleted(start, devices, elapsed, err)
	if err != nil {
		monitoring.Logf("rebuild failed: %v", err)
		return nil, err
	}
	rep.Elapsed = elapsed

	s := rep.Stats
	monitoring.Logf("rebuild %s: %d rows, %d skipped, %d groups, %d dropped, %d estimated, %d fallback, %d failed in %v",
		rep.RunID, s.Rows, s.SkippedTotal(), s.Groups, s.DroppedGroups, s.Estimated, s.Fallback, s.Failed, elapsed)
	return rep, nil
}

func (p *Pipeline) rebuild(ctx context.Context, start time.Time) (*Report, error) {
	obs, err := p.DB.ListObservations(ctx, p.Filter)
	if err != nil {
		return nil, &StepError{Step: StepLoad, Err: err}
	}
	monitoring.Debugf("rebuild: loaded %d observations (scan_src=%q)", len(obs), p.Filter.ScanSource)

	opts := []locate.Option{locate.WithClock(p.Clock)}
	if p.Metrics != nil {
		opts = append(opts, locate.WithRecorder(p.Metrics))
	}
	est, err := locate.NewEstimator(p.Params, opts...)
	if err != nil {
		return nil, &StepError{Step: StepEstimate, Err: err}
	}
	res, err := est.Run(ctx, obs)
	if err != nil {
		return nil, &StepError{Step: StepEstimate, Err: err}
	}
	for _, gerr := range res.Errors {
		monitoring.Logf("rebuild: %v", gerr)
	}

	run := db.NewRun(start, version.Version, p.Params, res.Stats)
	if err := p.DB.SaveRun(ctx, run, res.Estimates); err != nil {
		return nil, &StepError{Step: StepPersist, Err: err}
	}
	if p.KeepRuns > 0 {
		if n, err := p.DB.PruneRuns(ctx, p.KeepRuns); err != nil {
			monitoring.Logf("rebuild: failed to prune runs: %v", err)
		} else if n > 0 {
			monitoring.Debugf("rebuild: pruned %d old runs", n)
		}
	}

	if err := p.writeFiles(res.Estimates); err != nil {
		return nil, &StepError{Step: StepWrite, Err: err}
	}

	rep := &Report{
		RunID:     run.ID,
		CreatedAt: run.CreatedAt,
		Devices:   len(res.Estimates),
		Stats:     res.Stats,
	}
	if p.Publisher != nil {
		if err := p.Publisher.PublishRun(run.ID, run.CreatedAt, res.Estimates); err != nil {
			monitoring.Logf("rebuild: failed to publish run %s: %v", run.ID, err)
			rep.PublishError = err.Error()
		}
	}
	return rep, nil
}

func (p *Pipeline) writeFiles(ests []locate.Estimate) error {
	if err := p.Site.FS.MkdirAll(p.Site.Root, 0755); err != nil {
		return fmt.Errorf("failed to create web root: %w", err)
	}

	var buf bytes.Buffer
	if err := locate.WriteSummaryJSON(&buf, ests); err != nil {
		return err
	}
	if err := p.Site.FS.WriteFile(filepath.Join(p.Site.Root, SummaryFile), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", SummaryFile, err)
	}

	buf.Reset()
	if err := locate.WriteGeoJSON(&buf, ests); err != nil {
		return err
	}
	if err := p.Site.FS.WriteFile(filepath.Join(p.Site.Root, SummaryGeoJSONFile), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", SummaryGeoJSONFile, err)
	}

	return p.Site.Write(render.FromEstimates(ests), p.Position)
}

// StartPeriodic rebuilds every interval until ctx is done. The ticker is
// armed before StartPeriodic returns; the returned channel closes once the
// loop exits.
func (p *Pipeline) StartPeriodic(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := p.clock().NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				monitoring.Logf("periodic rebuild stopped")
				return
			case <-ticker.C():
				// Failures are logged and counted by Rebuild.
				_, _ = p.Rebuild(ctx)
			}
		}
	}()
	return done
}
