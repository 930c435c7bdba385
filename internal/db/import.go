package db

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrCSVHeader is returned when an import file lacks a required column.
var ErrCSVHeader = errors.New("csv header missing required column")

var requiredColumns = []string{"mac", "ts"}

// ParseObservationsCSV reads wifi_obs records from a headed CSV. Recognised
// columns are mac, ssid, ts, lat, lon, rssi_dbm, rssi_pct, src, iface and
// scan_src, in any order; mac and ts are required. Blank numeric cells become
// NULL. ts is unix seconds or RFC 3339. Rows without a scan_src cell take
// defaultScanSrc.
func ParseObservationsCSV(r io.Reader, defaultScanSrc string) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCSVHeader, name)
		}
	}

	var recs []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}
		cell := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		rec := Record{
			MAC:     cell("mac"),
			SSID:    cell("ssid"),
			Src:     cell("src"),
			Iface:   cell("iface"),
			ScanSrc: cell("scan_src"),
		}
		if rec.MAC == "" {
			return nil, fmt.Errorf("line %d: empty mac", line)
		}
		if rec.ScanSrc == "" {
			rec.ScanSrc = defaultScanSrc
		}
		if rec.TS, err = parseTimestamp(cell("ts")); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Lat, err = parseOptionalFloat(cell("lat")); err != nil {
			return nil, fmt.Errorf("line %d: lat: %w", line, err)
		}
		if rec.Lon, err = parseOptionalFloat(cell("lon")); err != nil {
			return nil, fmt.Errorf("line %d: lon: %w", line, err)
		}
		if rec.RSSIdBm, err = parseOptionalFloat(cell("rssi_dbm")); err != nil {
			return nil, fmt.Errorf("line %d: rssi_dbm: %w", line, err)
		}
		if s := cell("rssi_pct"); s != "" {
			pct, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("line %d: rssi_pct: %w", line, err)
			}
			rec.RSSIPct = &pct
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ImportObservationsCSV parses r and inserts every row in one transaction.
func (db *DB) ImportObservationsCSV(ctx context.Context, r io.Reader, defaultScanSrc string) (int, error) {
	recs, err := ParseObservationsCSV(r, defaultScanSrc)
	if err != nil {
		return 0, err
	}
	return db.InsertObservations(ctx, recs)
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty ts")
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("ts %q is neither unix seconds nor RFC 3339", s)
	}
	return t.UTC(), nil
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
