package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rssi.map/internal/locate"
)

// ErrNoRuns is returned by LatestRun when nothing has been saved yet.
var ErrNoRuns = errors.New("no estimate runs recorded")

// Run is one persisted estimator invocation.
type Run struct {
	ID            string        `json:"run_id"`
	CreatedAt     time.Time     `json:"created_at"`
	Version       string        `json:"version"`
	Params        locate.Params `json:"params"`
	RowsRead      int           `json:"rows_read"`
	RowsSkipped   int           `json:"rows_skipped"`
	Groups        int           `json:"groups"`
	GroupsDropped int           `json:"groups_dropped"`
	Estimated     int           `json:"estimated"`
	Fallback      int           `json:"fallback"`
	Failed        int           `json:"failed"`
}

// NewRun builds the record for a finished run with a fresh identifier.
func NewRun(createdAt time.Time, version string, p locate.Params, stats locate.RunStats) *Run {
	return &Run{
		ID:            uuid.New().String(),
		CreatedAt:     createdAt.UTC(),
		Version:       version,
		Params:        p,
		RowsRead:      stats.Rows,
		RowsSkipped:   stats.SkippedTotal(),
		Groups:        stats.Groups,
		GroupsDropped: stats.DroppedGroups,
		Estimated:     stats.Estimated,
		Fallback:      stats.Fallback,
		Failed:        stats.Failed,
	}
}

// SaveRun stores run and its estimates, ranked in the given order, in one
// transaction.
func (db *DB) SaveRun(ctx context.Context, run *Run, ests []locate.Estimate) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO estimate_runs (
			run_id, created_at, version, params_json,
			rows_read, rows_skipped, groups_total, groups_dropped,
			estimated, fallback, failed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixMilli(), run.Version, string(params),
		run.RowsRead, run.RowsSkipped, run.Groups, run.GroupsDropped,
		run.Estimated, run.Fallback, run.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO device_estimates (run_id, rank, mac, ssid, lat, lon, radius_m, score, mode, n_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare estimate insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range ests {
		if _, err := stmt.ExecContext(ctx,
			run.ID, i, e.MAC, e.SSID, e.Lat, e.Lon, e.RadiusM, e.Score, e.Mode, e.NUsed,
		); err != nil {
			return fmt.Errorf("failed to insert estimate %s: %w", e.MAC, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `run_id, created_at, version, params_json,
	rows_read, rows_skipped, groups_total, groups_dropped,
	estimated, fallback, failed`

func scanRun(row interface{ Scan(...interface{}) error }) (*Run, error) {
	var (
		r         Run
		createdMs int64
		params    string
	)
	if err := row.Scan(
		&r.ID, &createdMs, &r.Version, &params,
		&r.RowsRead, &r.RowsSkipped, &r.Groups, &r.GroupsDropped,
		&r.Estimated, &r.Fallback, &r.Failed,
	); err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params for run %s: %w", r.ID, err)
	}
	return &r, nil
}

// LatestRun returns the most recently saved run, or ErrNoRuns.
func (db *DB) LatestRun(ctx context.Context) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM estimate_runs
		ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest run: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM estimate_runs
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunEstimates returns the estimates of one run in their saved order.
func (db *DB) RunEstimates(ctx context.Context, runID string) ([]locate.Estimate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT mac, ssid, lat, lon, radius_m, score, mode, n_used
		FROM device_estimates
		WHERE run_id = ?
		ORDER BY rank`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query estimates for run %s: %w", runID, err)
	}
	defer rows.Close()

	ests := []locate.Estimate{}
	for rows.Next() {
		var e locate.Estimate
		if err := rows.Scan(&e.MAC, &e.SSID, &e.Lat, &e.Lon, &e.RadiusM, &e.Score, &e.Mode, &e.NUsed); err != nil {
			return nil, fmt.Errorf("failed to scan estimate: %w", err)
		}
		ests = append(ests, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate estimates: %w", err)
	}
	return ests, nil
}

// PruneRuns deletes all but the keep most recent runs and returns how many
// were removed.
func (db *DB) PruneRuns(ctx context.Context, keep int) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const stale = `SELECT run_id FROM estimate_runs
		ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?`
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM device_estimates WHERE run_id IN (`+stale+`)`, keep); err != nil {
		return 0, fmt.Errorf("failed to prune estimates: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM estimate_runs WHERE run_id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return int(n), nil
}
