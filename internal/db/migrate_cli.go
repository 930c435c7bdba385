package db

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrUnknownAction is returned for an unrecognised migrate subcommand.
var ErrUnknownAction = errors.New("unknown migrate action")

// RunMigrateCommand handles the 'migrate' subcommand dispatching. Progress
// and status go to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("%w: none given", ErrUnknownAction)
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// Open without running migrations; they are what is being managed.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		fmt.Fprintln(out, "Running migrations...")
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ All migrations applied successfully")

	case "down":
		fmt.Fprintln(out, "Rolling back one migration...")
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Rolled back one migration")

	case "status":
		return printMigrateStatus(database, out)

	case "version":
		if len(args) < 2 {
			return errors.New("usage: rssi-map migrate version <version_number>")
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		if err := database.MigrateTo(uint(v)); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Migrated to version %d\n", v)

	case "force":
		if len(args) < 2 {
			return errors.New("usage: rssi-map migrate force <version_number>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		if err := database.MigrateForce(v); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Forced version to %d (dirty flag cleared)\n", v)

	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return nil
}

func printMigrateStatus(database *DB, out io.Writer) error {
	status, err := database.GetMigrationStatus()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Migration status:")
	fmt.Fprintf(out, "  Current version: %v\n", status["current_version"])
	fmt.Fprintf(out, "  Latest version:  %v\n", status["latest_version"])
	fmt.Fprintf(out, "  Dirty:           %v\n", status["dirty"])
	if status["dirty"] == true {
		fmt.Fprintln(out, "  ⚠ Database is dirty; fix the schema by hand then run 'migrate force <version>'")
	} else if status["pending"] == true {
		fmt.Fprintln(out, "  Pending migrations; run 'migrate up'")
	} else {
		fmt.Fprintln(out, "  ✓ Up to date")
	}
	return nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: rssi-map migrate <action> [args]

Actions:
  up                 Apply all pending migrations
  down               Roll back the most recent migration
  status             Show the current schema version
  version <n>        Migrate up or down to version n
  force <n>          Set the version without running migrations (recovery only)
  help               Show this help

Flags:
  -db-path <path>    Database file (default wifi_obs.db)
`)
}
