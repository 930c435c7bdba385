package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/rssi.map/internal/locate"
)

// Record is one raw wifi_obs row. Position and signal columns are nullable:
// a scan can be stored before a fix is available.
type Record struct {
	ID      int64
	MAC     string
	SSID    string
	TS      time.Time
	Lat     *float64
	Lon     *float64
	RSSIdBm *float64
	RSSIPct *int
	Src     string
	Iface   string
	ScanSrc string
}

// ObservationFilter narrows ListObservations. Zero values mean "no filter",
// except ScanSource, which is always applied when non-empty.
type ObservationFilter struct {
	ScanSource string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// InsertObservations writes records in one transaction and returns the count
// written.
func (db *DB) InsertObservations(ctx context.Context, recs []Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wifi_obs (mac, ssid, ts, lat, lon, rssi_dbm, rssi_pct, src, iface, scan_src)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			r.MAC, nullString(r.SSID), r.TS.Unix(),
			r.Lat, r.Lon, r.RSSIdBm, r.RSSIPct,
			nullString(r.Src), nullString(r.Iface), nullString(r.ScanSrc),
		); err != nil {
			return 0, fmt.Errorf("failed to insert row %d (%s): %w", i, r.MAC, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit observations: %w", err)
	}
	return len(recs), nil
}

// ListObservations returns the positioned readings that the estimator
// consumes: rows with non-NULL lat, lon and rssi_dbm, in (ts, id) order.
func (db *DB) ListObservations(ctx context.Context, f ObservationFilter) ([]locate.Observation, error) {
	var (
		where = []string{"lat IS NOT NULL", "lon IS NOT NULL", "rssi_dbm IS NOT NULL"}
		args  []interface{}
	)
	if f.ScanSource != "" {
		where = append(where, "scan_src = ?")
		args = append(args, f.ScanSource)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.Unix())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, f.Until.Unix())
	}

	query := `SELECT mac, COALESCE(ssid, ''), ts, lat, lon, rssi_dbm FROM wifi_obs WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ts, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var out []locate.Observation
	for rows.Next() {
		var (
			o  locate.Observation
			ts int64
		)
		if err := rows.Scan(&o.MAC, &o.SSID, &ts, &o.Lat, &o.Lon, &o.RSSI); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate observations: %w", err)
	}
	return out, nil
}

// CountObservations counts all rows for a scan source, positioned or not.
// An empty source counts every row.
func (db *DB) CountObservations(ctx context.Context, scanSource string) (int, error) {
	var (
		n   int
		err error
	)
	if scanSource == "" {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wifi_obs`).Scan(&n)
	} else {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wifi_obs WHERE scan_src = ?`, scanSource).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
