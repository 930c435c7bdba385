package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/rssi.map/internal/api"
	"github.com/banshee-data/rssi.map/internal/config"
	"github.com/banshee-data/rssi.map/internal/db"
)

// runImport loads each CSV file ("-" for stdin) and returns the rows stored.
func runImport(ctx context.Context, database *db.DB, files []string, scanSrc string, stdin io.Reader) (int, error) {
	total := 0
	for _, name := range files {
		var r io.Reader = stdin
		if name != "-" {
			f, err := os.Open(name)
			if err != nil {
				return total, fmt.Errorf("failed to open %s: %w", name, err)
			}
			defer f.Close()
			r = f
		}
		n, err := database.ImportObservationsCSV(ctx, r, scanSrc)
		if err != nil {
			return total, fmt.Errorf("%s: %w", name, err)
		}
		log.Printf("imported %d observations from %s", n, name)
		total += n
	}
	return total, nil
}

func handleImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", db.DefaultPath, "Path to the SQLite database")
	scanSrc := fs.String("scan-src", config.DefaultScanSource, "scan_src for rows that leave it blank")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: rssi-map import [options] <file.csv|-> [...]")
		fmt.Fprintln(fs.Output(), "Header: mac,ssid,ts,lat,lon,rssi_dbm[,rssi_pct,src,iface,scan_src]")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	total, err := runImport(context.Background(), database, fs.Args(), *scanSrc, os.Stdin)
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	log.Printf("imported %d observations into %s", total, *dbPath)
}

func handleRebuild(args []string) {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8080", "Base URL of the running service")
	fs.Parse(args)

	resp, err := api.NewClient(*url, nil).Rebuild(context.Background())
	if err != nil {
		log.Fatalf("rebuild: %v", err)
	}
	fmt.Printf("run %s: %d devices, map at %s%s\n", resp.RunID, resp.Devices, *url, resp.Map)
	if resp.PublishError != "" {
		log.Printf("warning: run was not published: %s", resp.PublishError)
	}
}
