// Package resultsstore keeps every scenario outcome across sweep runs in a SQLite database, so a
// later run can retry only the scenarios whose latest outcome was a failure.
package resultsstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Octogonapus/ProtocolBench/report"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// The most recent recorded result of one scenario.
type LatestResult struct {
	RunID      string
	Benchmark  string
	ScenarioID string
	Outcome    report.Outcome
	Error      string
	StartedAt  time.Time
}

// Creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; parallel sweeps record through this single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Appends one scenario outcome. Skipped scenarios are not recorded so they keep their previous outcome.
func (s *Store) RecordScenario(ctx context.Context, runID string, r *report.ScenarioReport) error {
	if r.Outcome == report.Skipped {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scenario_results
		(run_id, benchmark, scenario_id, batch_id, namespace, outcome, error, teardown_error, started_at, duration_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		r.Benchmark,
		r.ID,
		r.Batch,
		r.Namespace,
		string(r.Outcome),
		r.Error,
		r.TeardownError,
		r.StartTime.UTC().Format(time.RFC3339Nano),
		r.DurationSec,
	)
	if err != nil {
		return fmt.Errorf("record scenario %s: %w", r.ID, err)
	}
	return nil
}

// The latest result of every scenario ever recorded for the benchmark, keyed by scenario id.
func (s *Store) LatestOutcomes(ctx context.Context, benchmark string) (map[string]report.Outcome, error) {
	latest, err := s.latest(ctx, "WHERE r.benchmark = ?", benchmark)
	if err != nil {
		return nil, err
	}
	out := map[string]report.Outcome{}
	for _, l := range latest {
		out[l.ScenarioID] = l.Outcome
	}
	return out, nil
}

// Every scenario whose latest recorded outcome is a failure, ordered by benchmark and then by
// when it was recorded.
func (s *Store) FailedScenarios(ctx context.Context) ([]*LatestResult, error) {
	all, err := s.latest(ctx, "")
	if err != nil {
		return nil, err
	}
	out := []*LatestResult{}
	for _, l := range all {
		if l.Outcome.Failed() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) latest(ctx context.Context, where string, args ...any) ([]*LatestResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.benchmark, r.scenario_id, r.outcome, r.error, r.started_at
		FROM scenario_results r
		JOIN (
			SELECT MAX(seq) AS seq FROM scenario_results GROUP BY benchmark, scenario_id
		) m ON m.seq = r.seq
		`+where+`
		ORDER BY r.benchmark, r.seq
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query latest results: %w", err)
	}
	defer rows.Close()

	out := []*LatestResult{}
	for rows.Next() {
		l := &LatestResult{}
		var outcome, started string
		if err := rows.Scan(&l.RunID, &l.Benchmark, &l.ScenarioID, &outcome, &l.Error, &started); err != nil {
			return nil, fmt.Errorf("scan latest result: %w", err)
		}
		l.Outcome = report.Outcome(outcome)
		l.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
