// Package store persists quantization run records in SQLite so sweeps
// can be tracked and compared across invocations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	label        TEXT NOT NULL,
	model        TEXT NOT NULL,
	mode         TEXT NOT NULL,
	w_bits       INTEGER NOT NULL,
	a_bits       INTEGER NOT NULL,
	k_bits       INTEGER NOT NULL,
	v_bits       INTEGER NOT NULL,
	group_size   INTEGER NOT NULL,
	seed         INTEGER NOT NULL,
	status       TEXT NOT NULL,
	metrics_json TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// timeLayout is RFC 3339 with a fixed nine-digit fraction. RFC3339Nano
// drops trailing zeros, which breaks the lexicographic ordering the
// created_at index relies on; a fixed-width fraction keeps string
// order equal to timestamp order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("store: run not found")

// Run is one quantization experiment record.
type Run struct {
	ID        string             `json:"id"`
	Label     string             `json:"label"`
	Model     string             `json:"model"`
	Mode      string             `json:"mode"`
	WBits     int                `json:"w_bits"`
	ABits     int                `json:"a_bits"`
	KBits     int                `json:"k_bits"`
	VBits     int                `json:"v_bits"`
	GroupSize int                `json:"group_size"`
	Seed      int64              `json:"seed"`
	Status    string             `json:"status"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store manages run records in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("store: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new run. The id, status and timestamps are assigned
// here; the rest of the record is taken from r.
func (s *Store) Create(ctx context.Context, r Run) (Run, error) {
	r.ID = uuid.New().String()
	r.Status = StatusPending
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt

	metrics, err := marshalMetrics(r.Metrics)
	if err != nil {
		return Run{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, label, model, mode, w_bits, a_bits, k_bits, v_bits,
		                   group_size, seed, status, metrics_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Label, r.Model, r.Mode, r.WBits, r.ABits, r.KBits, r.VBits,
		r.GroupSize, r.Seed, r.Status, metrics,
		r.CreatedAt.Format(timeLayout), r.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return Run{}, fmt.Errorf("store: insert run: %w", err)
	}
	return r, nil
}

// Get returns a run by id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, label, model, mode, w_bits, a_bits, k_bits, v_bits,
		        group_size, seed, status, metrics_json, created_at, updated_at
		 FROM runs WHERE run_id = ?`, id)
	return scanRun(row)
}

// List returns runs newest first, optionally filtered by model and
// status (empty strings match everything).
func (s *Store) List(ctx context.Context, model, status string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, label, model, mode, w_bits, a_bits, k_bits, v_bits,
		        group_size, seed, status, metrics_json, created_at, updated_at
		 FROM runs
		 WHERE (? = '' OR model = ?) AND (? = '' OR status = ?)
		 ORDER BY created_at DESC, run_id`,
		model, model, status, status)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SetStatus updates a run's status and, when metrics is non-nil,
// replaces its metrics.
func (s *Store) SetStatus(ctx context.Context, id, status string, metrics map[string]float64) error {
	now := time.Now().UTC().Format(timeLayout)

	var res sql.Result
	var err error
	if metrics != nil {
		var raw sql.NullString
		raw, err = marshalMetrics(metrics)
		if err != nil {
			return err
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, metrics_json = ?, updated_at = ? WHERE run_id = ?`,
			status, raw, now, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, updated_at = ? WHERE run_id = ?`,
			status, now, id)
	}
	if err != nil {
		return fmt.Errorf("store: update run: %w", err)
	}
	return checkAffected(res)
}

// Delete removes a run by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete run: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalMetrics(m map[string]float64) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("store: marshal metrics: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var metrics sql.NullString
	var created, updated string
	err := row.Scan(&r.ID, &r.Label, &r.Model, &r.Mode, &r.WBits, &r.ABits, &r.KBits, &r.VBits,
		&r.GroupSize, &r.Seed, &r.Status, &metrics, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: scan run: %w", err)
	}
	if metrics.Valid {
		if err := json.Unmarshal([]byte(metrics.String), &r.Metrics); err != nil {
			return Run{}, fmt.Errorf("store: parse metrics: %w", err)
		}
	}
	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return Run{}, fmt.Errorf("store: parse created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return Run{}, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return r, nil
}
