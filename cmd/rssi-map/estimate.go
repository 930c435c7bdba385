package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rssi.map/internal/config"
	"github.com/banshee-data/rssi.map/internal/db"
	"github.com/banshee-data/rssi.map/internal/fsutil"
	"github.com/banshee-data/rssi.map/internal/locate"
	"github.com/banshee-data/rssi.map/internal/monitoring"
	"github.com/banshee-data/rssi.map/internal/publish"
	"github.com/banshee-data/rssi.map/internal/render"
	"github.com/banshee-data/rssi.map/internal/version"
)

type estimateOptions struct {
	dbPath     string
	out        string
	configPath string
	geojson    string
	plotDir    string
	scanSource string
	limit      int
	print      bool
	saveRun    bool
	verbose    bool
	params     locate.Params
	mqtt       publish.Config
}

// parseEstimateFlags parses args and layers them over the optional -config
// file: a flag given on the command line always wins, otherwise the config
// value (or its default) applies.
func parseEstimateFlags(args []string, errOut io.Writer) (*estimateOptions, error) {
	fs := flag.NewFlagSet("estimate", flag.ContinueOnError)
	fs.SetOutput(errOut)

	o := &estimateOptions{}
	fs.StringVar(&o.dbPath, "db", db.DefaultPath, "Path to the SQLite database")
	fs.StringVar(&o.out, "out", "summary.json", "Summary JSON output path")
	fs.StringVar(&o.configPath, "config", "", "Tuning config file (.json or .yaml); explicit flags override it")
	fs.StringVar(&o.geojson, "geojson", "", "Also write a GeoJSON FeatureCollection to this path")
	fs.StringVar(&o.plotDir, "plot-dir", "", "Write a score-field PNG per device into this directory")
	fs.StringVar(&o.scanSource, "scan-src", config.DefaultScanSource, "Only use observations with this scan_src")
	fs.IntVar(&o.limit, "limit", 0, "Read at most this many observations (0 = all)")
	fs.BoolVar(&o.print, "print", false, "Print one line per estimate to stdout")
	fs.BoolVar(&o.saveRun, "save-run", false, "Store the run and its estimates in the database")
	fs.BoolVar(&o.verbose, "verbose", false, "Log per-run diagnostics")

	fs.Float64Var(&o.params.TrimFraction, "trim", locate.DefaultTrimFraction, "Fraction of strongest samples kept per device")
	fs.IntVar(&o.params.MinSamples, "min-samples", locate.DefaultMinSamples, "Minimum samples per device")
	fs.Float64Var(&o.params.RadiusMin, "r-min", locate.DefaultRadiusMin, "Radius in metres for the strongest sample")
	fs.Float64Var(&o.params.RadiusMax, "r-max", locate.DefaultRadiusMax, "Radius in metres for the weakest sample")
	fs.Float64Var(&o.params.GridStep, "grid-step", locate.DefaultGridStep, "Search grid step in metres")
	fs.IntVar(&o.params.GridMax, "grid-max", locate.DefaultGridMax, "Maximum cells per grid side")
	fs.Float64Var(&o.params.FallbackQuantile, "q", locate.DefaultFallbackQuantile, "Quantile used when the disks share no common area")
	fs.IntVar(&o.params.Workers, "workers", 0, "Devices estimated concurrently (0 = one per CPU)")
	fs.IntVar(&o.params.ScanWorkers, "scan-workers", 1, "Row bands scanned concurrently per device")

	fs.StringVar(&o.mqtt.Broker, "mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (env MQTT_BROKER)")
	fs.StringVar(&o.mqtt.Prefix, "mqtt-prefix", "", "MQTT topic prefix (env MQTT_PUBLISH_PREFIX, default "+publish.DefaultPrefix+")")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if o.configPath != "" {
		cfg, err := config.LoadTuningConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		applyTuning(o, cfg, explicitFlags(fs))
	}
	if o.params.Workers == 0 {
		o.params.Workers = runtime.NumCPU()
	}
	if o.params.ScanWorkers == 0 {
		o.params.ScanWorkers = 1
	}
	o.mqtt = publish.ConfigFromEnv(o.mqtt)

	if err := o.params.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// explicitFlags lists the flags actually given on the command line.
func explicitFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func applyTuning(o *estimateOptions, cfg *config.TuningConfig, explicit map[string]bool) {
	if !explicit["trim"] {
		o.params.TrimFraction = cfg.GetTrimFraction()
	}
	if !explicit["min-samples"] {
		o.params.MinSamples = cfg.GetMinSamples()
	}
	if !explicit["r-min"] {
		o.params.RadiusMin = cfg.GetRadiusMin()
	}
	if !explicit["r-max"] {
		o.params.RadiusMax = cfg.GetRadiusMax()
	}
	if !explicit["grid-step"] {
		o.params.GridStep = cfg.GetGridStep()
	}
	if !explicit["grid-max"] {
		o.params.GridMax = cfg.GetGridMax()
	}
	if !explicit["q"] {
		o.params.FallbackQuantile = cfg.GetFallbackQuantile()
	}
	if !explicit["workers"] {
		o.params.Workers = cfg.GetWorkers()
	}
	if !explicit["scan-workers"] {
		o.params.ScanWorkers = cfg.GetScanWorkers()
	}
	if !explicit["scan-src"] {
		o.scanSource = cfg.GetScanSource()
	}
	if !explicit["limit"] {
		o.limit = cfg.GetObservationLimit()
	}
}

func handleEstimate(args []string) {
	o, err := parseEstimateFlags(args, os.Stderr)
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatalf("estimate: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runEstimate(ctx, o, fsutil.OSFileSystem{}, os.Stdout); err != nil {
		log.Fatalf("estimate: %v", err)
	}
}

func configureLogging(verbose bool) {
	diag := io.Writer(nil)
	if verbose {
		diag = os.Stderr
	}
	locate.SetLogWriters(os.Stderr, diag, nil)
	monitoring.SetVerbose(verbose)
}

// runEstimate reads observations, estimates every device and writes the
// requested outputs.
func runEstimate(ctx context.Context, o *estimateOptions, fsys fsutil.FileSystem, stdout io.Writer) error {
	configureLogging(o.verbose)

	database, err := db.NewDB(o.dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	obs, err := database.ListObservations(ctx, db.ObservationFilter{ScanSource: o.scanSource, Limit: o.limit})
	if err != nil {
		return err
	}

	est, err := locate.NewEstimator(o.params)
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := est.Run(ctx, obs)
	if err != nil {
		return err
	}
	for _, gerr := range res.Errors {
		log.Printf("skipping %v", gerr)
	}

	var buf bytes.Buffer
	if err := locate.WriteSummaryJSON(&buf, res.Estimates); err != nil {
		return err
	}
	if err := fsys.WriteFile(o.out, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", o.out, err)
	}

	if o.geojson != "" {
		buf.Reset()
		if err := locate.WriteGeoJSON(&buf, res.Estimates); err != nil {
			return err
		}
		if err := fsys.WriteFile(o.geojson, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", o.geojson, err)
		}
	}

	if o.print {
		if err := locate.WriteLines(stdout, res.Estimates); err != nil {
			return err
		}
	}

	if o.plotDir != "" {
		writePlots(est, obs, o.plotDir, fsys)
	}

	runID := uuid.NewString()
	if o.saveRun {
		run := db.NewRun(start, version.Version, o.params, res.Stats)
		if err := database.SaveRun(ctx, run, res.Estimates); err != nil {
			return err
		}
		runID = run.ID
	}

	if o.mqtt.Enabled() {
		if err := publishRun(o.mqtt, runID, start, res.Estimates); err != nil {
			log.Printf("failed to publish run: %v", err)
		}
	}

	s := res.Stats
	log.Printf("wrote %s: %d rows, %d skipped, %d groups, %d dropped, %d estimated, %d fallback, %d failed in %v",
		o.out, s.Rows, s.SkippedTotal(), s.Groups, s.DroppedGroups, s.Estimated, s.Fallback, s.Failed,
		time.Since(start).Round(time.Millisecond))
	return nil
}

// writePlots renders one score field per surviving device. A device that
// cannot be plotted is logged and skipped.
func writePlots(est *locate.Estimator, obs []locate.Observation, dir string, fsys fsutil.FileSystem) {
	groups, _ := locate.GroupObservations(obs, est.Params().MinSamples)
	for _, g := range groups {
		f, err := est.ScoreField(g)
		if err != nil {
			log.Printf("plot %s: %v", g.Key.MAC, err)
			continue
		}
		path, err := render.WriteScoreFieldPNG(fsys, dir, f)
		if err != nil {
			log.Printf("plot %s: %v", g.Key.MAC, err)
			continue
		}
		monitoring.Debugf("wrote %s", path)
	}
}

func publishRun(c publish.Config, runID string, at time.Time, ests []locate.Estimate) error {
	client, err := publish.Dial(c)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	return publish.NewPublisher(client, c.Prefix).PublishRun(runID, at, ests)
}
