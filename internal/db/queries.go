package db

import (
	"context"
	"fmt"
	"time"

	"github.com/careops/surveyci/internal/pipeline"
)

// RunRow is a row of the pipeline_runs table.
type RunRow struct {
	RunID       string
	BuildNumber int
	Branch      string
	Commit      string
	Event       string
	Status      string
	Approver    string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// Event is a row of the pipeline_events table.
type Event struct {
	ID        int64
	RunID     string
	Event     string
	Stage     string
	Detail    string
	CreatedAt time.Time
}

// RecordRunStart inserts the bookkeeping row for a new run.
func (d *DB) RecordRunStart(ctx context.Context, run *pipeline.Run) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (run_id, build_number, branch, commit_sha, event, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id) DO NOTHING`,
		run.ID, run.BuildNumber, run.Branch, run.Commit, string(run.Event), string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordRunFinish updates the run row with its terminal status.
func (d *DB) RecordRunFinish(ctx context.Context, run *pipeline.Run) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $2, approver = $3, finished_at = now()
		 WHERE run_id = $1`,
		run.ID, string(run.Status), run.Approver,
	)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// LogEvent appends a pipeline event.
func (d *DB) LogEvent(ctx context.Context, runID, event, stage, detail string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO pipeline_events (run_id, event, stage, detail) VALUES ($1, $2, $3, $4)`,
		runID, event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// RunHistory returns all events for a run, newest first.
func (d *DB) RunHistory(ctx context.Context, runID string) ([]Event, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id, event, COALESCE(stage, ''), COALESCE(detail, ''), created_at
		 FROM pipeline_events WHERE run_id = $1 ORDER BY id DESC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &e.Stage, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentRuns returns the latest runs across all branches.
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.pool.Query(ctx,
		`SELECT run_id, build_number, branch, commit_sha, event, status, COALESCE(approver, ''), started_at, finished_at
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.BuildNumber, &r.Branch, &r.Commit, &r.Event, &r.Status, &r.Approver, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// MaxBuildNumber returns the highest recorded build number, used to seed
// the in-memory build counter across restarts.
func (d *DB) MaxBuildNumber(ctx context.Context) (int, error) {
	var max int
	err := d.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(build_number), 0) FROM pipeline_runs`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("get max build number: %w", err)
	}
	return max, nil
}
