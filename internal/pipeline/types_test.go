package pipeline

import "testing"

func TestNewRun_IDAndImageTag(t *testing.T) {
	run := NewRun(42, "main", "a1b2c3d4e5f67890", EventPush, Params{})

	if run.ID != "42-a1b2c3d" {
		t.Errorf("expected id 42-a1b2c3d, got %q", run.ID)
	}
	if run.ImageTag() != "42-a1b2c3d" {
		t.Errorf("expected image tag 42-a1b2c3d, got %q", run.ImageTag())
	}
}

func TestShortCommit(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a1b2c3d4e5", "a1b2c3d"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ShortCommit(tt.in); got != tt.want {
			t.Errorf("ShortCommit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEventKind_Automatic(t *testing.T) {
	for _, e := range []EventKind{EventPush, EventPullRequest, EventSchedule} {
		if !e.Automatic() {
			t.Errorf("%s should be automatic", e)
		}
	}
	if EventManual.Automatic() {
		t.Error("manual should not be automatic")
	}
}

func TestParams_Map(t *testing.T) {
	p := Params{DeployEnvironment: "staging", SkipTests: true}
	m := p.Map()
	if m["deploy_environment"] != "staging" {
		t.Errorf("deploy_environment = %q", m["deploy_environment"])
	}
	if m["skip_tests"] != "true" {
		t.Errorf("skip_tests = %q", m["skip_tests"])
	}
	if _, ok := m["deployment_strategy"]; ok {
		t.Error("deployment_strategy should be absent before approval")
	}

	p.DeploymentStrategy = "rolling"
	p.BackupBeforeDeploy = true
	m = p.Map()
	if m["deployment_strategy"] != "rolling" || m["backup_before_deploy"] != "true" {
		t.Errorf("unexpected approval params: %v", m)
	}
}

func TestRun_StageStatuses(t *testing.T) {
	run := NewRun(1, "main", "abcdef0", EventPush, Params{})
	run.Stages = append(run.Stages,
		StageResult{Name: "build", Status: StageSuccess},
		StageResult{Name: "test", Status: StageSkipped},
	)

	m := run.StageStatuses()
	if m["build"] != "success" || m["test"] != "skipped" {
		t.Errorf("unexpected statuses: %v", m)
	}

	if _, ok := run.StageResult("push"); ok {
		t.Error("expected push to be absent")
	}
	res, ok := run.StageResult("test")
	if !ok || res.Status != StageSkipped {
		t.Errorf("unexpected test result: %+v", res)
	}
}

func TestRun_Terminal(t *testing.T) {
	run := NewRun(1, "main", "abcdef0", EventPush, Params{})
	if run.Terminal() {
		t.Error("pending run should not be terminal")
	}
	for _, st := range []Status{StatusSuccess, StatusFailed, StatusUnstable} {
		run.Status = st
		if !run.Terminal() {
			t.Errorf("%s should be terminal", st)
		}
	}
}
