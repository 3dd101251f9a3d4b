package pipeline

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)

	run := NewRun(7, "main", "a1b2c3d4e5f6", EventPush, Params{DeployEnvironment: "none"})
	if err := s.Create(run); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "7-a1b2c3d" {
		t.Errorf("expected id 7-a1b2c3d, got %q", got.ID)
	}
	if got.Status != StatusPending {
		t.Errorf("expected pending, got %q", got.Status)
	}
	if got.Branch != "main" {
		t.Errorf("expected branch main, got %q", got.Branch)
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	s := newTestStore(t)

	run := NewRun(1, "main", "deadbeef", EventPush, Params{})
	if err := s.Create(run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(run); err == nil {
		t.Error("expected error creating duplicate run")
	}
}

func TestStore_Save(t *testing.T) {
	s := newTestStore(t)

	run := NewRun(2, "develop", "cafebabe", EventManual, Params{})
	if err := s.Create(run); err != nil {
		t.Fatalf("create: %v", err)
	}

	run.Status = StatusRunning
	run.Stages = append(run.Stages, StageResult{Name: "build", Status: StageSuccess})
	if err := s.Save(run); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("expected running, got %q", got.Status)
	}
	if len(got.Stages) != 1 || got.Stages[0].Name != "build" {
		t.Errorf("unexpected stages: %+v", got.Stages)
	}
}

func TestStore_ListFilters(t *testing.T) {
	s := newTestStore(t)

	r1 := NewRun(1, "main", "aaaaaaa", EventPush, Params{})
	r2 := NewRun(2, "develop", "bbbbbbb", EventPush, Params{})
	r3 := NewRun(3, "main", "ccccccc", EventPush, Params{})
	for _, r := range []*Run{r1, r2, r3} {
		if err := s.Create(r); err != nil {
			t.Fatalf("create %s: %v", r.ID, err)
		}
	}
	r3.Status = StatusFailed
	if err := s.Save(r3); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := s.List("", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	// Ordered by build number.
	if all[0].BuildNumber != 1 || all[2].BuildNumber != 3 {
		t.Errorf("unexpected order: %+v", all)
	}

	mains, err := s.List("main", "")
	if err != nil {
		t.Fatalf("list main: %v", err)
	}
	if len(mains) != 2 {
		t.Errorf("expected 2 main runs, got %d", len(mains))
	}

	failed, err := s.List("main", StatusFailed)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].BuildNumber != 3 {
		t.Errorf("unexpected failed runs: %+v", failed)
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)

	run := NewRun(9, "main", "0123456789", EventPush, Params{})
	if err := s.Create(run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(run.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(run.ID); err == nil {
		t.Error("expected get after delete to fail")
	}
	if err := s.Delete(run.ID); err == nil {
		t.Error("expected delete of missing run to fail")
	}
}

func TestStore_SaveStepLog(t *testing.T) {
	s := newTestStore(t)

	run := NewRun(4, "main", "feedface", EventPush, Params{})
	if err := s.Create(run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SaveStepLog(run.ID, "build", "docker-build", "layers pushed\n"); err != nil {
		t.Fatalf("save step log: %v", err)
	}
}
