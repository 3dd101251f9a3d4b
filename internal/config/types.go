package config

import (
	"github.com/careops/surveyci/internal/gate"
)

// Failure policies for a stage.
const (
	OnFailPipeline = "fail-pipeline" // abort remaining stages (default)
	OnFailUnstable = "mark-unstable" // continue, final status unstable
	OnFailContinue = "continue"      // continue, failure is non-blocking
)

// Deployment strategies accepted at approval time.
var DeploymentStrategies = []string{"rolling", "blue-green", "immediate"}

// PipelineConfig is the top-level configuration structure parsed from
// pipeline YAML.
type PipelineConfig struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline defines the full pipeline: metadata, defaults, notification
// sinks, schedules, and the ordered stage list.
type Pipeline struct {
	Name      string        `yaml:"name"`
	Registry  string        `yaml:"registry"` // container registry prefix, e.g. registry.example.com/survey
	Defaults  StageDefaults `yaml:"defaults"`
	Notify    Notify        `yaml:"notify"`
	Schedules []Schedule    `yaml:"schedules"`
	Stages    []Stage       `yaml:"stages"`
}

// StageDefaults holds values applied to stages and steps that don't
// specify their own.
type StageDefaults struct {
	Timeout         string `yaml:"timeout"`          // per-step timeout, e.g. "10m"
	Workdir         string `yaml:"workdir"`          // working directory for step commands
	ApprovalTimeout string `yaml:"approval_timeout"` // production gate wait, e.g. "180s"
}

// Notify configures the notification sinks. The slog sink is always on;
// webhook and AMQP are enabled by setting their endpoints.
type Notify struct {
	WebhookURL     string `yaml:"webhook_url"`
	AMQPURL        string `yaml:"amqp_url"`
	AMQPExchange   string `yaml:"amqp_exchange"`
	LogURLTemplate string `yaml:"log_url_template"` // "{run_id}" is replaced with the run ID
}

// Schedule fires a trigger of kind "schedule" on a cron expression.
type Schedule struct {
	Cron   string            `yaml:"cron"`
	Branch string            `yaml:"branch"`
	Params map[string]string `yaml:"params"`
}

// Stage defines a single pipeline stage: its gating predicate, steps,
// and failure policy.
type Stage struct {
	Name     string          `yaml:"name"`
	When     *gate.Predicate `yaml:"when"`     // nil = always run when reached
	Steps    []Step          `yaml:"steps"`    // executed sequentially unless Parallel
	Parallel bool            `yaml:"parallel"` // run steps concurrently
	OnFail   string          `yaml:"on_fail"`  // fail-pipeline (default), mark-unstable, continue

	// AlwaysRun stages (cleanup, notification) execute even after a
	// fail-pipeline abort; their own failures never change run status.
	AlwaysRun bool `yaml:"always_run"`

	// Production marks the stage as a production deployment: it blocks on
	// the approval gate and runs at most once per run.
	Production bool `yaml:"production"`

	// Requires lists stages that must have finished with status success
	// before this stage may run; otherwise the stage is skipped.
	Requires []string `yaml:"requires"`

	// Env is the stage's contribution to the run environment, merged in
	// when the gate is met, before steps execute.
	Env map[string]string `yaml:"env"`

	Timeout         string `yaml:"timeout"`          // per-step timeout override
	ApprovalTimeout string `yaml:"approval_timeout"` // production gate override
}

// Step is one external command within a stage.
type Step struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Workdir string            `yaml:"workdir"`
	Timeout string            `yaml:"timeout"`
	Env     map[string]string `yaml:"env"`
}

// FindStage returns the stage with the given name, or nil.
func (p *Pipeline) FindStage(name string) *Stage {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i]
		}
	}
	return nil
}
