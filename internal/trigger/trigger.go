// Package trigger defines pipeline-run start events and the schedule
// source that produces them from cron entries.
package trigger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/careops/surveyci/internal/pipeline"
)

// Trigger is a request to start a pipeline run.
type Trigger struct {
	ID         uuid.UUID          `json:"id"`
	Kind       pipeline.EventKind `json:"kind"`
	Branch     string             `json:"branch"`
	Commit     string             `json:"commit"`
	Params     pipeline.Params    `json:"params"`
	ReceivedAt time.Time          `json:"received_at"`
}

// New creates a trigger with a fresh ID. An empty commit defaults to
// HEAD; schedule and manual triggers often don't carry one.
func New(kind pipeline.EventKind, branch, commit string, params pipeline.Params) Trigger {
	if commit == "" {
		commit = "HEAD"
	}
	return Trigger{
		ID:         uuid.New(),
		Kind:       kind,
		Branch:     branch,
		Commit:     commit,
		Params:     params,
		ReceivedAt: time.Now().UTC(),
	}
}

// Validate checks the trigger for structural problems.
func (t Trigger) Validate() error {
	switch t.Kind {
	case pipeline.EventPush, pipeline.EventPullRequest, pipeline.EventSchedule, pipeline.EventManual:
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	if t.Branch == "" {
		return fmt.Errorf("trigger has no branch")
	}
	if t.Kind == pipeline.EventPush || t.Kind == pipeline.EventPullRequest {
		if t.Commit == "" || t.Commit == "HEAD" {
			return fmt.Errorf("%s trigger requires a commit", t.Kind)
		}
	}
	return validateParams(t.Params)
}

func validateParams(p pipeline.Params) error {
	switch p.DeployEnvironment {
	case "", "none", "staging", "production":
	default:
		return fmt.Errorf("deploy_environment must be none, staging or production, got %q", p.DeployEnvironment)
	}
	if p.DeploymentStrategy != "" {
		if err := ValidateStrategy(p.DeploymentStrategy); err != nil {
			return err
		}
	}
	return nil
}

// ValidateStrategy checks a deployment strategy value.
func ValidateStrategy(s string) error {
	switch s {
	case "rolling", "blue-green", "immediate":
		return nil
	}
	return fmt.Errorf("deployment_strategy must be rolling, blue-green or immediate, got %q", s)
}

// ParseParams builds typed run parameters from the string map carried by
// webhooks and schedule entries. Unknown keys are rejected.
func ParseParams(raw map[string]string) (pipeline.Params, error) {
	var p pipeline.Params
	p.DeployEnvironment = "none"

	for key, val := range raw {
		switch key {
		case "deploy_environment":
			p.DeployEnvironment = val
		case "skip_tests":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return p, fmt.Errorf("skip_tests: %w", err)
			}
			p.SkipTests = b
		case "force_rebuild":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return p, fmt.Errorf("force_rebuild: %w", err)
			}
			p.ForceRebuild = b
		default:
			return p, fmt.Errorf("unknown parameter %q", key)
		}
	}

	return p, validateParams(p)
}
