package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultSnapshotSide bounds the stored snapshot in each dimension.
const DefaultSnapshotSide = 64

// Snapshot is a block-averaged copy of a final temperature grid.
type Snapshot struct {
	Rows   int         `json:"rows"`
	Cols   int         `json:"cols"`
	Values [][]float64 `json:"values"`
}

// NewSnapshot averages m into at most maxSide×maxSide blocks. Row 0 of the
// snapshot corresponds to the top of the grid.
func NewSnapshot(m *mat.Dense, maxSide int) *Snapshot {
	if maxSide < 1 {
		maxSide = DefaultSnapshotSide
	}
	rows, cols := m.Dims()
	strideR := (rows + maxSide - 1) / maxSide
	strideC := (cols + maxSide - 1) / maxSide
	outR := (rows + strideR - 1) / strideR
	outC := (cols + strideC - 1) / strideC

	s := &Snapshot{Rows: outR, Cols: outC, Values: make([][]float64, outR)}
	for bi := 0; bi < outR; bi++ {
		s.Values[bi] = make([]float64, outC)
		for bj := 0; bj < outC; bj++ {
			var sum float64
			var n int
			for i := bi * strideR; i < min((bi+1)*strideR, rows); i++ {
				for j := bj * strideC; j < min((bj+1)*strideC, cols); j++ {
					sum += m.At(i, j)
					n++
				}
			}
			s.Values[bi][bj] = sum / float64(n)
		}
	}
	return s
}

// SaveSnapshot stores (or replaces) the snapshot for a run.
func (s *RunStore) SaveSnapshot(runID string, snap *Snapshot) error {
	data, err := json.Marshal(snap.Values)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO run_snapshots (run_id, n_rows, n_cols, values_json)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				n_rows = excluded.n_rows,
				n_cols = excluded.n_cols,
				values_json = excluded.values_json`,
			runID, snap.Rows, snap.Cols, string(data))
		return err
	})
}

// Snapshot returns the stored snapshot for a run. A run without one
// yields ErrRunNotFound.
func (s *RunStore) Snapshot(runID string) (*Snapshot, error) {
	var snap Snapshot
	var data string
	err := s.db.QueryRow(`SELECT n_rows, n_cols, values_json FROM run_snapshots WHERE run_id = ?`, runID).
		Scan(&snap.Rows, &snap.Cols, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no snapshot for %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &snap.Values); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
