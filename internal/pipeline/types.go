package pipeline

import (
	"fmt"
	"strconv"
	"time"
)

// Status is the overall state of a pipeline run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusUnstable Status = "unstable"
)

// StageStatus is the terminal state of a single stage within a run.
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// EventKind identifies what triggered a run. push, pull_request and
// schedule are automatic; manual runs come from the CLI or the API.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
	EventSchedule    EventKind = "schedule"
	EventManual      EventKind = "manual"
)

// Automatic reports whether the event was machine-initiated.
func (e EventKind) Automatic() bool {
	return e == EventPush || e == EventPullRequest || e == EventSchedule
}

// Params are the input parameters of a run. DeploymentStrategy and
// BackupBeforeDeploy are only set at approval time for production deploys.
type Params struct {
	DeployEnvironment  string `json:"deploy_environment"` // "none", "staging", "production"
	SkipTests          bool   `json:"skip_tests"`
	ForceRebuild       bool   `json:"force_rebuild"`
	DeploymentStrategy string `json:"deployment_strategy,omitempty"` // "rolling", "blue-green", "immediate"
	BackupBeforeDeploy bool   `json:"backup_before_deploy,omitempty"`
}

// Map flattens the parameters for predicate evaluation.
func (p Params) Map() map[string]string {
	m := map[string]string{
		"deploy_environment": p.DeployEnvironment,
		"skip_tests":         strconv.FormatBool(p.SkipTests),
		"force_rebuild":      strconv.FormatBool(p.ForceRebuild),
	}
	if p.DeploymentStrategy != "" {
		m["deployment_strategy"] = p.DeploymentStrategy
		m["backup_before_deploy"] = strconv.FormatBool(p.BackupBeforeDeploy)
	}
	return m
}

// StageResult records the terminal state of one stage. Results are
// appended strictly in definition order.
type StageResult struct {
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"` // failure or skip reason
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Run is the persisted state of a single pipeline run.
type Run struct {
	ID          string            `json:"id"` // "{build_number}-{commit_short}"
	BuildNumber int               `json:"build_number"`
	Branch      string            `json:"branch"`
	Commit      string            `json:"commit"`
	Event       EventKind         `json:"event"`
	Params      Params            `json:"params"`
	Approver    string            `json:"approver,omitempty"`
	Description string            `json:"description,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Stages      []StageResult     `json:"stages"`
	Status      Status            `json:"status"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NewRun creates a pending run for the given trigger facts.
func NewRun(buildNumber int, branch, commit string, event EventKind, params Params) *Run {
	now := nowRFC3339()
	return &Run{
		ID:          fmt.Sprintf("%d-%s", buildNumber, ShortCommit(commit)),
		BuildNumber: buildNumber,
		Branch:      branch,
		Commit:      commit,
		Event:       event,
		Params:      params,
		Env:         map[string]string{},
		Stages:      []StageResult{},
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ShortCommit returns the abbreviated commit hash used in run IDs and
// image tags.
func ShortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

// ImageTag returns the container image tag for this run.
func (r *Run) ImageTag() string {
	return fmt.Sprintf("%d-%s", r.BuildNumber, ShortCommit(r.Commit))
}

// StageStatuses returns stage name -> status for predicate evaluation.
func (r *Run) StageStatuses() map[string]string {
	m := make(map[string]string, len(r.Stages))
	for _, s := range r.Stages {
		m[s.Name] = string(s.Status)
	}
	return m
}

// StageResult returns the recorded result for a stage, if any.
func (r *Run) StageResult(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailed || r.Status == StatusUnstable
}
