// Command rssi-map estimates the position and reach of Wi-Fi transmitters
// from stored RSSI observations and serves the result as a map.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/rssi.map/internal/db"
	"github.com/banshee-data/rssi.map/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "estimate":
		handleEstimate(args)
	case "render":
		handleRender(args)
	case "import":
		handleImport(args)
	case "serve":
		handleServe(args)
	case "rebuild":
		handleRebuild(args)
	case "migrate":
		handleMigrate(args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`rssi-map - locate Wi-Fi transmitters from RSSI observations

Usage: rssi-map <command> [options]

Commands:
  estimate   Estimate every device and write summary.json
  render     Write static/aps.json and map.html from a summary
  import     Load observation CSV files into the database
  serve      Run the HTTP service (map, API, metrics, periodic rebuilds)
  rebuild    Ask a running service to rebuild its map
  migrate    Manage the database schema (up, down, status, version, force)
  version    Show version information
  help       Show this help message

Run 'rssi-map <command> -h' for the options of a command.

Examples:
  rssi-map import -db wifi_obs.db walk-2026-03-01.csv
  rssi-map estimate -db wifi_obs.db -out summary.json -print
  rssi-map estimate -config config/tuning.defaults.json -plot-dir plots -save-run
  rssi-map render -summary summary.json -out web -lat 52.52 -lon 13.405
  rssi-map serve -listen :8080 -web web -interval 15m
  rssi-map migrate status`)
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", db.DefaultPath, "Path to the SQLite database")
	fs.Usage = func() { db.PrintMigrateHelp(os.Stderr) }
	fs.Parse(args)

	if err := db.RunMigrateCommand(fs.Args(), *dbPath, os.Stdout); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}
