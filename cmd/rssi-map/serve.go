package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/rssi.map/internal/api"
	"github.com/banshee-data/rssi.map/internal/config"
	"github.com/banshee-data/rssi.map/internal/db"
	"github.com/banshee-data/rssi.map/internal/locate"
	"github.com/banshee-data/rssi.map/internal/monitoring"
	"github.com/banshee-data/rssi.map/internal/observability"
	"github.com/banshee-data/rssi.map/internal/publish"
	"github.com/banshee-data/rssi.map/internal/render"
)

type serveOptions struct {
	listen         string
	dbPath         string
	webRoot        string
	configPath     string
	scanSource     string
	limit          int
	interval       time.Duration
	keepRuns       int
	rebuildOnStart bool
	verbose        bool
	position       *render.Position
	params         locate.Params
	mqtt           publish.Config
}

func parseServeFlags(args []string, errOut io.Writer) (*serveOptions, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(errOut)

	o := &serveOptions{}
	var lat, lon string
	fs.StringVar(&o.listen, "listen", ":8080", "Listen address")
	fs.StringVar(&o.dbPath, "db", db.DefaultPath, "Path to the SQLite database")
	fs.StringVar(&o.webRoot, "web", "web", "Directory map.html and static/ are written to and served from")
	fs.StringVar(&o.configPath, "config", "", "Tuning config file (.json or .yaml)")
	fs.StringVar(&o.scanSource, "scan-src", "", "Only use observations with this scan_src (default from config, else "+config.DefaultScanSource+")")
	fs.DurationVar(&o.interval, "interval", 0, "Rebuild period, e.g. 15m (default from config rebuild_interval; 0 disables)")
	fs.IntVar(&o.keepRuns, "keep-runs", 50, "Stored runs to keep (0 = keep all)")
	fs.BoolVar(&o.rebuildOnStart, "rebuild-on-start", true, "Rebuild the map once at startup")
	fs.BoolVar(&o.verbose, "verbose", false, "Log per-run diagnostics")
	fs.StringVar(&lat, "lat", "", "Latitude of the 'current position' marker")
	fs.StringVar(&lon, "lon", "", "Longitude of the 'current position' marker")
	fs.StringVar(&o.mqtt.Broker, "mqtt-broker", "", "MQTT broker URL (env MQTT_BROKER)")
	fs.StringVar(&o.mqtt.Prefix, "mqtt-prefix", "", "MQTT topic prefix (env MQTT_PUBLISH_PREFIX)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.listen == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if o.keepRuns < 0 {
		return nil, fmt.Errorf("keep-runs must be non-negative, got %d", o.keepRuns)
	}

	pos, err := parsePosition(lat, lon)
	if err != nil {
		return nil, err
	}
	o.position = pos

	cfg := config.EmptyTuningConfig()
	if o.configPath != "" {
		if cfg, err = config.LoadTuningConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	o.params = cfg.Params()
	if err := o.params.Validate(); err != nil {
		return nil, err
	}
	explicit := explicitFlags(fs)
	if !explicit["scan-src"] {
		o.scanSource = cfg.GetScanSource()
	}
	if !explicit["interval"] {
		o.interval = cfg.GetRebuildInterval()
	}
	o.limit = cfg.GetObservationLimit()
	o.mqtt = publish.ConfigFromEnv(o.mqtt)
	return o, nil
}

func handleServe(args []string) {
	o, err := parseServeFlags(args, os.Stderr)
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatalf("serve: %v", err)
	}
	configureLogging(o.verbose)

	database, err := db.NewDB(o.dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	metrics, err := observability.NewEstimatorCollector(nil)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	pipeline := &api.Pipeline{
		DB:       database,
		Site:     render.NewSite(o.webRoot),
		Params:   o.params,
		Filter:   db.ObservationFilter{ScanSource: o.scanSource, Limit: o.limit},
		Metrics:  metrics,
		Position: o.position,
		KeepRuns: o.keepRuns,
	}

	if o.mqtt.Enabled() {
		client, err := publish.Dial(o.mqtt)
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer client.Disconnect(250)
		pipeline.Publisher = publish.NewPublisher(client, o.mqtt.Prefix)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if o.rebuildOnStart {
		if _, err := pipeline.Rebuild(ctx); err != nil {
			log.Printf("initial rebuild failed: %v", err)
		}
	}

	if o.interval > 0 {
		monitoring.Logf("rebuilding every %v", o.interval)
		done := pipeline.StartPeriodic(ctx, o.interval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:              o.listen,
			Handler:           api.LoggingMiddleware(api.NewServer(database, pipeline).ServeMux()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s, serving %s", o.listen, o.webRoot)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
