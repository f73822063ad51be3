package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned by Get for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted solver run.
type Run struct {
	RunID         string          `json:"run_id"`
	Profile       string          `json:"profile,omitempty"`
	Ranks         int             `json:"ranks"`
	GlobalRows    int             `json:"global_rows"`
	Columns       int             `json:"columns"`
	Workers       int             `json:"workers"`
	Threshold     float64         `json:"threshold"`
	MaxIterations int             `json:"max_iterations"`
	Boundary      string          `json:"boundary"`
	State         string          `json:"state"`
	Iterations    int             `json:"iterations"`
	GlobalDelta   float64         `json:"global_delta"`
	Elapsed       time.Duration   `json:"elapsed_ns"`
	Verification  *Verification   `json:"verification,omitempty"`
	ConfigJSON    json.RawMessage `json:"config_json,omitempty"`
	CreatedAt     int64           `json:"created_at"`
}

// Verification is the stored halo verification cell.
type Verification struct {
	Row    int     `json:"row"`
	Column int     `json:"column"`
	Value  float64 `json:"value"`
}

// HistoryPoint is one sampled global delta.
type HistoryPoint struct {
	Iteration   int     `json:"iteration"`
	GlobalDelta float64 `json:"global_delta"`
}

// RunStore provides persistence for runs and their convergence history.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Insert persists run and its history in one transaction. If RunID is
// empty, a UUID is generated.
func (s *RunStore) Insert(run *Run, history []HistoryPoint) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}

	var configStr interface{}
	if len(run.ConfigJSON) > 0 {
		configStr = string(run.ConfigJSON)
	}
	var vRow, vCol, vVal interface{}
	if v := run.Verification; v != nil {
		vRow, vCol, vVal = v.Row, v.Column, v.Value
	}

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO runs (
				run_id, profile, ranks, global_rows, columns, workers,
				threshold, max_iterations, boundary, state, iterations,
				global_delta, elapsed_ns, config_json, created_at,
				verification_row, verification_col, verification_value
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Profile, run.Ranks, run.GlobalRows, run.Columns, run.Workers,
			run.Threshold, run.MaxIterations, run.Boundary, run.State, run.Iterations,
			run.GlobalDelta, int64(run.Elapsed), configStr, run.CreatedAt,
			vRow, vCol, vVal,
		)
		if err != nil {
			return err
		}

		stmt, err := tx.Prepare(`INSERT INTO run_history (run_id, iteration, global_delta) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, h := range history {
			if _, err := stmt.Exec(run.RunID, h.Iteration, h.GlobalDelta); err != nil {
				return fmt.Errorf("insert history at iteration %d: %w", h.Iteration, err)
			}
		}
		return tx.Commit()
	})
}

const runColumns = `
	run_id, profile, ranks, global_rows, columns, workers,
	threshold, max_iterations, boundary, state, iterations,
	global_delta, elapsed_ns, config_json, created_at,
	verification_row, verification_col, verification_value`

// Get returns a single run by ID.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// List returns the most recent runs, newest first. limit <= 0 returns all.
func (s *RunStore) List(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// History returns the sampled deltas of a run in iteration order.
func (s *RunStore) History(runID string) ([]HistoryPoint, error) {
	rows, err := s.db.Query(`
		SELECT iteration, global_delta FROM run_history
		WHERE run_id = ?
		ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.Iteration, &p.GlobalDelta); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Delete removes a run with its history and snapshot. An unknown ID
// yields ErrRunNotFound.
func (s *RunStore) Delete(runID string) error {
	var affected int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var elapsed int64
	var configStr sql.NullString
	var vRow, vCol sql.NullInt64
	var vVal sql.NullFloat64
	err := sc.Scan(
		&r.RunID, &r.Profile, &r.Ranks, &r.GlobalRows, &r.Columns, &r.Workers,
		&r.Threshold, &r.MaxIterations, &r.Boundary, &r.State, &r.Iterations,
		&r.GlobalDelta, &elapsed, &configStr, &r.CreatedAt,
		&vRow, &vCol, &vVal,
	)
	if err != nil {
		return nil, err
	}
	r.Elapsed = time.Duration(elapsed)
	if configStr.Valid {
		r.ConfigJSON = json.RawMessage(configStr.String)
	}
	if vRow.Valid && vCol.Valid && vVal.Valid {
		r.Verification = &Verification{Row: int(vRow.Int64), Column: int(vCol.Int64), Value: vVal.Float64}
	}
	return &r, nil
}
