package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/rssi.map/internal/render"
)

type renderOptions struct {
	summary  string
	out      string
	position *render.Position
}

func parseRenderFlags(args []string, errOut io.Writer) (*renderOptions, error) {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(errOut)

	o := &renderOptions{}
	var lat, lon string
	fs.StringVar(&o.summary, "summary", "summary.json", "Summary JSON written by 'estimate'")
	fs.StringVar(&o.out, "out", "web", "Web root to write map.html and static/aps.json into")
	fs.StringVar(&lat, "lat", "", "Latitude of the 'current position' marker")
	fs.StringVar(&lon, "lon", "", "Longitude of the 'current position' marker")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	pos, err := parsePosition(lat, lon)
	if err != nil {
		return nil, err
	}
	o.position = pos
	return o, nil
}

// parsePosition accepts either both coordinates or neither.
func parsePosition(lat, lon string) (*render.Position, error) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, fmt.Errorf("-lat and -lon must be given together")
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid -lat %q: %w", lat, err)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid -lon %q: %w", lon, err)
	}
	pos := render.NewPosition(la, lo)
	if pos == nil {
		return nil, fmt.Errorf("position %s,%s is out of range", lat, lon)
	}
	return pos, nil
}

func runRender(o *renderOptions, site *render.Site) (int, error) {
	f, err := os.Open(o.summary)
	if err != nil {
		return 0, fmt.Errorf("failed to open summary: %w", err)
	}
	defer f.Close()

	aps, err := render.LoadSummary(f)
	if err != nil {
		return 0, err
	}
	if err := site.Write(aps, o.position); err != nil {
		return 0, err
	}
	return len(aps), nil
}

func handleRender(args []string) {
	o, err := parseRenderFlags(args, os.Stderr)
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatalf("render: %v", err)
	}

	site := render.NewSite(o.out)
	n, err := runRender(o, site)
	if err != nil {
		log.Fatalf("render: %v", err)
	}
	log.Printf("wrote %s and %s (%d APs)", site.APsPath(), site.MapPath(), n)
}
