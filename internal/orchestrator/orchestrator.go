// Package orchestrator executes pipeline runs: it walks the configured
// stage list in order, evaluates each stage's gating predicate, runs its
// steps, applies failure policies, and drives the production approval
// gate and terminal notifications.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/careops/surveyci/internal/approval"
	"github.com/careops/surveyci/internal/config"
	"github.com/careops/surveyci/internal/gate"
	"github.com/careops/surveyci/internal/notify"
	"github.com/careops/surveyci/internal/pipeline"
	"github.com/careops/surveyci/internal/step"
	"github.com/careops/surveyci/internal/telemetry"
)

// EventLog records run bookkeeping in long-term storage. It is optional;
// without one the orchestrator only persists to the run store.
type EventLog interface {
	RecordRunStart(ctx context.Context, run *pipeline.Run) error
	RecordRunFinish(ctx context.Context, run *pipeline.Run) error
	LogEvent(ctx context.Context, runID, event, stage, detail string) error
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Pipeline  *config.Pipeline
	Store     *pipeline.Store
	Steps     *step.Runner
	Approvals *approval.Broker

	// Notifier receives build_started plus exactly one terminal event per
	// run. Nil means log-only.
	Notifier notify.Notifier

	// Events is the optional postgres-backed history. Failures to record
	// are logged, never fatal.
	Events EventLog

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Orchestrator runs pipelines against a fixed stage configuration.
type Orchestrator struct {
	pipeline  *config.Pipeline
	store     *pipeline.Store
	steps     *step.Runner
	approvals *approval.Broker
	notifier  notify.Notifier
	renderer  notify.Renderer
	events    EventLog
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// New creates an Orchestrator from the given config.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = &notify.LogNotifier{Logger: logger}
	}
	return &Orchestrator{
		pipeline:  cfg.Pipeline,
		store:     cfg.Store,
		steps:     cfg.Steps,
		approvals: cfg.Approvals,
		notifier:  notifier,
		renderer:  notify.Renderer{LogURLTemplate: cfg.Pipeline.Notify.LogURLTemplate},
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// Store returns the run store, for read-side consumers.
func (o *Orchestrator) Store() *pipeline.Store {
	return o.store
}

// Run executes all configured stages for the run. The run must be new;
// Run persists it and drives it to a terminal status. Cancellation of ctx
// means the run was superseded or the server is shutting down; the run is
// finalized as failed and ErrSuperseded is returned.
func (o *Orchestrator) Run(ctx context.Context, run *pipeline.Run) error {
	logger := telemetry.WithRun(o.logger, run.ID)

	if err := o.store.Create(run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	run.Status = pipeline.StatusRunning
	if err := o.store.Save(run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	o.recordStart(ctx, run, logger)
	o.notifier.Send(ctx, o.renderer.Started(run))
	logger.Info("run started", "branch", run.Branch, "commit", run.Commit, "event", run.Event)

	var (
		aborted  bool // a fail-pipeline stage failed; skip everything but always_run
		unstable bool
		deployed bool // production stage completed successfully
	)

	for i := range o.pipeline.Stages {
		stage := &o.pipeline.Stages[i]
		stageLogger := telemetry.WithStage(logger, stage.Name)

		if ctx.Err() != nil {
			return o.finalizeSuperseded(run, stage.Name, logger)
		}

		if aborted && !stage.AlwaysRun {
			o.recordSkip(ctx, run, stage.Name, "earlier stage failed", stageLogger)
			continue
		}

		if !stage.When.Eval(o.evalContext(run)) {
			o.recordSkip(ctx, run, stage.Name, "condition not met: "+stage.When.String(), stageLogger)
			continue
		}

		if reason, ok := o.unmetRequirement(run, stage); !ok {
			o.recordSkip(ctx, run, stage.Name, reason, stageLogger)
			continue
		}

		if stage.Production {
			if deployed {
				o.recordSkip(ctx, run, stage.Name, "production deploy already completed", stageLogger)
				continue
			}
			approved, reason, err := o.waitForApproval(ctx, run, stage, stageLogger)
			if err != nil {
				return o.finalizeSuperseded(run, stage.Name, logger)
			}
			if !approved {
				o.recordFailure(ctx, run, stage, reason, time.Now(), &aborted, &unstable, stageLogger)
				continue
			}
		}

		o.mergeStageEnv(run, stage)

		start := time.Now()
		status, reason, err := o.executeStage(ctx, run, stage)
		if err != nil {
			return o.finalizeSuperseded(run, stage.Name, logger)
		}
		if o.metrics != nil {
			o.metrics.StageDuration.WithLabelValues(stage.Name).Observe(time.Since(start).Seconds())
		}

		if status == pipeline.StageFailed {
			o.recordFailure(ctx, run, stage, reason, start, &aborted, &unstable, stageLogger)
			continue
		}

		o.appendResult(run, pipeline.StageResult{
			Name:       stage.Name,
			Status:     pipeline.StageSuccess,
			StartedAt:  start.UTC(),
			FinishedAt: time.Now().UTC(),
		})
		o.logEvent(ctx, run.ID, "stage_finished", stage.Name, "success")
		stageLogger.Info("stage succeeded")

		if stage.Production {
			deployed = true
		}
	}

	switch {
	case aborted:
		run.Status = pipeline.StatusFailed
	case unstable:
		run.Status = pipeline.StatusUnstable
	default:
		run.Status = pipeline.StatusSuccess
	}

	o.finalize(ctx, run, deployed && run.Status == pipeline.StatusSuccess, logger)
	return nil
}

// evalContext builds the predicate context from current run state.
func (o *Orchestrator) evalContext(run *pipeline.Run) gate.EvalContext {
	return gate.EvalContext{
		Branch:  run.Branch,
		Event:   string(run.Event),
		Params:  run.Params.Map(),
		Results: run.StageStatuses(),
	}
}

// unmetRequirement checks the stage's requires list. Only a recorded
// success satisfies a requirement; skipped does not.
func (o *Orchestrator) unmetRequirement(run *pipeline.Run, stage *config.Stage) (string, bool) {
	for _, req := range stage.Requires {
		res, found := run.StageResult(req)
		if !found || res.Status != pipeline.StageSuccess {
			return fmt.Sprintf("requires stage %s to succeed", req), false
		}
	}
	return "", true
}

// waitForApproval blocks on the production gate. It returns approved=false
// with a failure reason on rejection or timeout, and a non-nil error only
// when the run itself was cancelled.
func (o *Orchestrator) waitForApproval(ctx context.Context, run *pipeline.Run, stage *config.Stage, logger *slog.Logger) (bool, string, error) {
	timeout, _ := time.ParseDuration(stage.ApprovalTimeout)

	req := approval.Request{
		RunID:   run.ID,
		Branch:  run.Branch,
		Stage:   stage.Name,
		Prompt:  fmt.Sprintf("approve production deploy of %s (image %s)?", run.ID, run.ImageTag()),
		Choices: config.DeploymentStrategies,
		Timeout: timeout,
	}
	logger.Info("waiting for production approval", "timeout", timeout.String())
	o.logEvent(ctx, run.ID, "approval_requested", stage.Name, "")

	dec, err := o.approvals.Wait(ctx, req)
	switch {
	case errors.Is(err, approval.ErrTimedOut):
		o.countApproval("timeout")
		o.logEvent(ctx, run.ID, "approval_timeout", stage.Name, "")
		return false, fmt.Sprintf("no approval within %s", timeout), nil
	case err != nil:
		return false, "", err
	case !dec.Approved:
		o.countApproval("rejected")
		o.logEvent(ctx, run.ID, "approval_rejected", stage.Name, dec.Approver)
		reason := "approval rejected"
		if dec.Approver != "" {
			reason += " by " + dec.Approver
		}
		return false, reason, nil
	}

	o.countApproval("approved")
	run.Approver = dec.Approver
	run.Params.DeploymentStrategy = dec.Strategy
	run.Params.BackupBeforeDeploy = dec.Backup
	run.Description = "Deployed by: " + dec.Approver
	o.logEvent(ctx, run.ID, "approval_granted", stage.Name,
		fmt.Sprintf("approver=%s strategy=%s backup=%t", dec.Approver, dec.Strategy, dec.Backup))
	logger.Info("production deploy approved",
		"approver", dec.Approver, "strategy", dec.Strategy, "backup", dec.Backup)
	return true, "", nil
}

// builtinEnv is the environment contributed by the run itself, available
// for expansion in stage and step env values.
func (o *Orchestrator) builtinEnv(run *pipeline.Run) map[string]string {
	env := map[string]string{
		"BUILD_NUMBER": strconv.Itoa(run.BuildNumber),
		"BRANCH":       run.Branch,
		"COMMIT":       run.Commit,
		"COMMIT_SHORT": pipeline.ShortCommit(run.Commit),
		"IMAGE_TAG":    run.ImageTag(),
		"DEPLOY_ENV":   run.Params.DeployEnvironment,
	}
	if o.pipeline.Registry != "" {
		env["REGISTRY"] = o.pipeline.Registry
	}
	if run.Params.DeploymentStrategy != "" {
		env["DEPLOY_STRATEGY"] = run.Params.DeploymentStrategy
		env["BACKUP_BEFORE_DEPLOY"] = strconv.FormatBool(run.Params.BackupBeforeDeploy)
	}
	return env
}

// mergeStageEnv folds the stage's env delta into the run environment,
// expanding $VAR references against builtins and earlier deltas.
func (o *Orchestrator) mergeStageEnv(run *pipeline.Run, stage *config.Stage) {
	if len(stage.Env) == 0 {
		return
	}
	builtin := o.builtinEnv(run)
	lookup := func(key string) string {
		if v, ok := run.Env[key]; ok {
			return v
		}
		return builtin[key]
	}
	for k, v := range stage.Env {
		run.Env[k] = os.Expand(v, lookup)
	}
}

// stepEnv builds the full environment for a single step.
func (o *Orchestrator) stepEnv(run *pipeline.Run, st *config.Step) map[string]string {
	env := o.builtinEnv(run)
	for k, v := range run.Env {
		env[k] = v
	}
	for k, v := range st.Env {
		env[k] = os.Expand(v, func(key string) string { return env[key] })
	}
	return env
}

// executeStage runs the stage's steps, sequentially or in parallel.
// A non-nil error means the run was cancelled mid-stage.
func (o *Orchestrator) executeStage(ctx context.Context, run *pipeline.Run, stage *config.Stage) (pipeline.StageStatus, string, error) {
	if len(stage.Steps) == 0 {
		return pipeline.StageSuccess, "", nil
	}
	if stage.Parallel {
		return o.executeParallel(ctx, run, stage)
	}
	return o.executeSequential(ctx, run, stage)
}

// executeSequential stops at the first failing step.
func (o *Orchestrator) executeSequential(ctx context.Context, run *pipeline.Run, stage *config.Stage) (pipeline.StageStatus, string, error) {
	for i := range stage.Steps {
		res, err := o.runStep(ctx, run, stage, &stage.Steps[i])
		if err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			return pipeline.StageFailed, err.Error(), nil
		}
		if !res.Passed() {
			return pipeline.StageFailed, res.FailureReason(), nil
		}
	}
	return pipeline.StageSuccess, "", nil
}

// executeParallel runs all steps concurrently and waits for every one;
// failures do not cancel siblings. The stage fails if any step fails,
// reporting the first failure in definition order.
func (o *Orchestrator) executeParallel(ctx context.Context, run *pipeline.Run, stage *config.Stage) (pipeline.StageStatus, string, error) {
	type outcome struct {
		res *step.Result
		err error
	}
	outcomes := make([]outcome, len(stage.Steps))

	var wg sync.WaitGroup
	for i := range stage.Steps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.runStep(ctx, run, stage, &stage.Steps[i])
			outcomes[i] = outcome{res: res, err: err}
		}(i)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return "", "", ctx.Err()
	}
	for _, oc := range outcomes {
		if oc.err != nil {
			return pipeline.StageFailed, oc.err.Error(), nil
		}
		if !oc.res.Passed() {
			return pipeline.StageFailed, oc.res.FailureReason(), nil
		}
	}
	return pipeline.StageSuccess, "", nil
}

// runStep executes one step and persists its captured output.
func (o *Orchestrator) runStep(ctx context.Context, run *pipeline.Run, stage *config.Stage, st *config.Step) (*step.Result, error) {
	timeout, _ := time.ParseDuration(st.Timeout)
	name := st.Name
	if name == "" {
		name = st.Command
	}

	res, err := o.steps.Run(ctx, step.Spec{
		Name:    name,
		Command: st.Command,
		Workdir: st.Workdir,
		Env:     o.stepEnv(run, st),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	output := res.Stdout
	if res.Stderr != "" {
		output += "\n--- stderr ---\n" + res.Stderr
	}
	if saveErr := o.store.SaveStepLog(run.ID, stage.Name, name, output); saveErr != nil {
		o.logger.Warn("save step log failed", "run_id", run.ID, "stage", stage.Name, "step", name, "error", saveErr)
	}
	return res, nil
}

// recordFailure appends a failed stage result and applies the failure
// policy. AlwaysRun stage failures never change run status.
func (o *Orchestrator) recordFailure(ctx context.Context, run *pipeline.Run, stage *config.Stage, reason string, start time.Time, aborted, unstable *bool, logger *slog.Logger) {
	o.appendResult(run, pipeline.StageResult{
		Name:       stage.Name,
		Status:     pipeline.StageFailed,
		Reason:     reason,
		StartedAt:  start.UTC(),
		FinishedAt: time.Now().UTC(),
	})
	o.logEvent(ctx, run.ID, "stage_failed", stage.Name, reason)
	logger.Warn("stage failed", "reason", reason, "on_fail", stage.OnFail)

	if stage.AlwaysRun {
		return
	}
	switch stage.OnFail {
	case config.OnFailUnstable:
		*unstable = true
	case config.OnFailContinue:
	default:
		*aborted = true
	}
}

// recordSkip appends a skipped stage result. Skipping never affects run
// status and never invokes the step runner.
func (o *Orchestrator) recordSkip(ctx context.Context, run *pipeline.Run, stageName, reason string, logger *slog.Logger) {
	now := time.Now().UTC()
	o.appendResult(run, pipeline.StageResult{
		Name:       stageName,
		Status:     pipeline.StageSkipped,
		Reason:     reason,
		StartedAt:  now,
		FinishedAt: now,
	})
	if o.metrics != nil {
		o.metrics.StagesSkipped.WithLabelValues(stageName).Inc()
	}
	o.logEvent(ctx, run.ID, "stage_skipped", stageName, reason)
	logger.Info("stage skipped", "reason", reason)
}

func (o *Orchestrator) appendResult(run *pipeline.Run, res pipeline.StageResult) {
	run.Stages = append(run.Stages, res)
	if err := o.store.Save(run); err != nil {
		o.logger.Warn("save run failed", "run_id", run.ID, "error", err)
	}
}

// finalize persists the terminal status and sends the single terminal
// notification for the run.
func (o *Orchestrator) finalize(ctx context.Context, run *pipeline.Run, deployed bool, logger *slog.Logger) {
	if err := o.store.Save(run); err != nil {
		logger.Warn("save run failed", "error", err)
	}
	if o.metrics != nil {
		o.metrics.RunsCompleted.WithLabelValues(string(run.Status)).Inc()
	}
	if o.events != nil {
		if err := o.events.RecordRunFinish(ctx, run); err != nil {
			logger.Warn("record run finish failed", "error", err)
		}
	}
	o.notifier.Send(ctx, o.renderer.Terminal(run, deployed))
	logger.Info("run finished", "status", run.Status)
}

// finalizeSuperseded marks a cancelled run failed and notifies once.
// The background context is used because the run's own context is dead.
func (o *Orchestrator) finalizeSuperseded(run *pipeline.Run, stageName string, logger *slog.Logger) error {
	run.Status = pipeline.StatusFailed
	if stageName != "" {
		o.logEvent(context.Background(), run.ID, "run_superseded", stageName, "")
	}
	if o.metrics != nil {
		o.metrics.RunsSuperseded.Inc()
	}
	o.finalize(context.Background(), run, false, logger)
	logger.Info("run superseded")
	return ErrSuperseded
}

func (o *Orchestrator) recordStart(ctx context.Context, run *pipeline.Run, logger *slog.Logger) {
	if o.metrics != nil {
		o.metrics.RunsStarted.Inc()
	}
	if o.events != nil {
		if err := o.events.RecordRunStart(ctx, run); err != nil {
			logger.Warn("record run start failed", "error", err)
		}
	}
}

func (o *Orchestrator) logEvent(ctx context.Context, runID, event, stage, detail string) {
	if o.events == nil {
		return
	}
	if err := o.events.LogEvent(ctx, runID, event, stage, detail); err != nil {
		o.logger.Warn("log pipeline event failed", "run_id", runID, "event", event, "error", err)
	}
}

func (o *Orchestrator) countApproval(decision string) {
	if o.metrics != nil {
		o.metrics.ApprovalDecisions.WithLabelValues(decision).Inc()
	}
}
