package report

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"firststage/internal/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	data        TEXT NOT NULL,
	config      TEXT NOT NULL,
	variants    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS estimates (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	variant     TEXT NOT NULL,
	model       TEXT NOT NULL,
	formula     TEXT NOT NULL,
	cluster     TEXT NOT NULL,
	obs         INTEGER NOT NULL,
	clusters    INTEGER NOT NULL,
	estimate    REAL,
	se          REAL,
	p           REAL,
	stars       TEXT NOT NULL,
	wald_f      REAL,
	wald_p      REAL,
	r2          REAL,
	error       TEXT,
	PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS idx_estimates_variant ON estimates(variant);
`

// Store archives runs in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and its schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a run and its rows in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run, rows []analysis.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(id, started_at, data, config, variants) VALUES(?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.Format(time.RFC3339Nano), run.Data, run.Config, len(rows),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO estimates(
		run_id, position, variant, model, formula, cluster, obs, clusters,
		estimate, se, p, stars, wald_f, wald_p, r2, error
	) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare estimate insert: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		h := headline(r)
		var errMsg sql.NullString
		if r.Err != nil {
			errMsg = sql.NullString{String: r.Err.Error(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			run.ID, i, r.Variant, r.Model, r.Formula, r.Cluster, r.Obs, r.Clusters,
			nullFloat(r.Estimate), nullFloat(h.SE), nullFloat(h.P), r.Stars, nullFloat(h.WaldF), nullFloat(h.WaldP), nullFloat(r.R2),
			errMsg,
		); err != nil {
			return fmt.Errorf("insert estimate %s: %w", r.Variant, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// Estimate is one archived row.
type Estimate struct {
	Variant  string
	Model    string
	Obs      int
	Estimate sql.NullFloat64
	SE       sql.NullFloat64
	Stars    string
	Error    sql.NullString
}

// Estimates returns the archived rows of a run in variant order.
func (s *Store) Estimates(ctx context.Context, runID string) ([]Estimate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT variant, model, obs, estimate, se, stars, error
		 FROM estimates WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	var out []Estimate
	for rows.Next() {
		var e Estimate
		if err := rows.Scan(&e.Variant, &e.Model, &e.Obs, &e.Estimate, &e.SE, &e.Stars, &e.Error); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// nullFloat maps unreported numbers to NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
