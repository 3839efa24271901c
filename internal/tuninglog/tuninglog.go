// Package tuninglog keeps a SQLite history of finished runs: the tuning
// that was used and the performance it produced.
package tuninglog

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/san-kum/loopsim/internal/metrics"
	"github.com/san-kum/loopsim/internal/sim"
)

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	controller TEXT NOT NULL,
	kp REAL NOT NULL,
	ti REAL NOT NULL,
	td REAL NOT NULL,
	anti_windup BOOLEAN NOT NULL,
	setpoint REAL NOT NULL,
	gain REAL NOT NULL,
	time_constant REAL NOT NULL,
	dead_time REAL NOT NULL,
	steps INTEGER NOT NULL,
	overshoot REAL,
	rise_time REAL,
	settling_time REAL,
	steady_state_error REAL,
	iae REAL
)`

// Log is safe for use by one process; the connection pool is pinned to a
// single connection so in-memory databases survive between calls.
type Log struct {
	db *sql.DB
}

func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open tuning log: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tuning log schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error { return l.db.Close() }

// Record is one stored run. Metric fields are nil when undefined.
type Record struct {
	ID               int64
	RecordedAt       time.Time
	Label            string
	Controller       string
	Kp               float64
	Ti               float64
	Td               float64
	AntiWindup       bool
	Setpoint         float64
	K                float64
	T                float64
	DeadTime         float64
	Steps            int
	Overshoot        *float64
	RiseTime         *float64
	SettlingTime     *float64
	SteadyStateError *float64
	IAE              *float64
}

func nullFloat(v float64, valid bool) sql.NullFloat64 {
	if !valid || math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func ptr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// Add stores the outcome of a run and returns its row id.
func (l *Log) Add(ctx context.Context, label string, cfg sim.Config, steps int, perf metrics.Performance) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("start transaction: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO runs (recorded_at, label, controller, kp, ti, td, anti_windup, setpoint, gain, time_constant, dead_time, steps, overshoot, rise_time, settling_time, steady_state_error, iae) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), label, string(cfg.Controller.Variant),
		cfg.Controller.Kp, cfg.Controller.Ti, cfg.Controller.Td, cfg.Controller.AntiWindup,
		cfg.Setpoint, cfg.Process.K, cfg.Process.T, cfg.Process.DeadTime, steps,
		nullFloat(perf.Overshoot, perf.Valid), nullFloat(perf.RiseTime, perf.Valid),
		nullFloat(perf.SettlingTime, perf.Valid), nullFloat(perf.SteadyStateError, perf.Valid),
		nullFloat(perf.IAE, perf.Valid))
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("read run id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

const selectRuns = `SELECT id, recorded_at, label, controller, kp, ti, td, anti_windup, setpoint, gain, time_constant, dead_time, steps, overshoot, rise_time, settling_time, steady_state_error, iae FROM runs`

// List returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (l *Log) List(ctx context.Context, limit int) ([]Record, error) {
	query := selectRuns + ` ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return l.query(ctx, query, args...)
}

// Best returns the record with the lowest integrated absolute error.
func (l *Log) Best(ctx context.Context) (*Record, error) {
	records, err := l.query(ctx, selectRuns+` WHERE iae IS NOT NULL ORDER BY iae ASC, id ASC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (l *Log) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                                 Record
			recordedAt                        string
			overshoot, rise, settle, sse, iae sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &recordedAt, &r.Label, &r.Controller, &r.Kp, &r.Ti, &r.Td, &r.AntiWindup,
			&r.Setpoint, &r.K, &r.T, &r.DeadTime, &r.Steps, &overshoot, &rise, &settle, &sse, &iae); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
		}
		r.Overshoot = ptr(overshoot)
		r.RiseTime = ptr(rise)
		r.SettlingTime = ptr(settle)
		r.SteadyStateError = ptr(sse)
		r.IAE = ptr(iae)
		out = append(out, r)
	}
	return out, rows.Err()
}
