package step

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Spec is the command specification for a single step.
type Spec struct {
	Name    string
	Command string
	Workdir string
	Env     map[string]string // merged over the parent environment
	Timeout time.Duration
}

// Result holds the outcome of an executed step. The orchestrator only
// consumes Passed/TimedOut; output is captured for the run store.
type Result struct {
	Step     string        `json:"step"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
}

// Passed reports whether the step succeeded.
func (r *Result) Passed() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// FailureReason renders a short reason string for stage results.
func (r *Result) FailureReason() string {
	if r.TimedOut {
		return fmt.Sprintf("step %s timed out after %s", r.Step, r.Duration.Round(time.Second))
	}
	return fmt.Sprintf("step %s exited with code %d", r.Step, r.ExitCode)
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out. Context
// cancellation kills the spawned process, which is how superseded runs
// terminate in-flight builds and SSH sessions.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, env []string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes step specs with timeout handling.
type Runner struct {
	cmd CommandRunner
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	return &Runner{cmd: cmd}
}

// Run executes a single step. A deadline hit is reported as a timed-out
// Result, not an error; errors are reserved for spawn failures.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(stepCtx, spec.Workdir, env, spec.Command)
	duration := time.Since(start)

	if stepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return &Result{
			Step:     spec.Name,
			ExitCode: -1,
			TimedOut: true,
			Duration: duration,
			Stdout:   stdout,
			Stderr:   stderr,
		}, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			// Parent cancelled (supersession or shutdown); propagate.
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run step %q: %w", spec.Name, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return &Result{
		Step:     spec.Name,
		ExitCode: exitCode,
		Duration: duration,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}
