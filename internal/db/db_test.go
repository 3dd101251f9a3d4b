package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/careops/surveyci/internal/pipeline"
)

// openTestDB connects to the database named by SURVEYCI_TEST_DB_URL and
// resets it. Tests are skipped when the variable is unset.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("SURVEYCI_TEST_DB_URL")
	if dsn == "" {
		t.Skip("SURVEYCI_TEST_DB_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(d.Close)

	if err := d.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return d
}

func TestRunLifecycle(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	run := pipeline.NewRun(42, "main", "a1b2c3d4e5f6", pipeline.EventPush, pipeline.Params{})
	if err := d.RecordRunStart(ctx, run); err != nil {
		t.Fatalf("record start: %v", err)
	}
	// Duplicate start is a no-op.
	if err := d.RecordRunStart(ctx, run); err != nil {
		t.Fatalf("duplicate start: %v", err)
	}

	if err := d.LogEvent(ctx, run.ID, "stage_started", "build", ""); err != nil {
		t.Fatalf("log event: %v", err)
	}
	if err := d.LogEvent(ctx, run.ID, "stage_finished", "build", "success"); err != nil {
		t.Fatalf("log event: %v", err)
	}

	run.Status = pipeline.StatusSuccess
	run.Approver = "alice"
	if err := d.RecordRunFinish(ctx, run); err != nil {
		t.Fatalf("record finish: %v", err)
	}

	history, err := d.RunHistory(ctx, run.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	if history[0].Event != "stage_finished" {
		t.Errorf("expected newest first, got %q", history[0].Event)
	}

	runs, err := d.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.RunID != run.ID || got.Status != "success" || got.Approver != "alice" {
		t.Errorf("unexpected row: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}

	max, err := d.MaxBuildNumber(ctx)
	if err != nil {
		t.Fatalf("max build number: %v", err)
	}
	if max != 42 {
		t.Errorf("max build number = %d", max)
	}
}

func TestMaxBuildNumber_Empty(t *testing.T) {
	d := openTestDB(t)

	max, err := d.MaxBuildNumber(context.Background())
	if err != nil {
		t.Fatalf("max build number: %v", err)
	}
	if max != 0 {
		t.Errorf("max build number = %d, want 0", max)
	}
}
