package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks a parsed pipeline config for structural problems:
// duplicate or empty stage names, unknown failure policies, unparseable
// timeouts, forward or dangling requires references, and bad cron specs.
func Validate(cfg *PipelineConfig) error {
	p := &cfg.Pipeline

	if p.Name == "" {
		return fmt.Errorf("pipeline.name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}

	seen := make(map[string]int, len(p.Stages))
	for i := range p.Stages {
		s := &p.Stages[i]

		if s.Name == "" {
			return fmt.Errorf("stage[%d]: name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("stage %q: duplicate name", s.Name)
		}
		seen[s.Name] = i

		switch s.OnFail {
		case OnFailPipeline, OnFailUnstable, OnFailContinue:
		default:
			return fmt.Errorf("stage %q: unknown on_fail %q", s.Name, s.OnFail)
		}

		if err := s.When.Validate(); err != nil {
			return fmt.Errorf("stage %q: when: %w", s.Name, err)
		}

		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return fmt.Errorf("stage %q: timeout: %w", s.Name, err)
		}
		if s.ApprovalTimeout != "" {
			if _, err := time.ParseDuration(s.ApprovalTimeout); err != nil {
				return fmt.Errorf("stage %q: approval_timeout: %w", s.Name, err)
			}
		}

		// requires must point at an earlier stage, so the result exists
		// by the time the gate is evaluated.
		for _, req := range s.Requires {
			j, ok := seen[req]
			if !ok {
				return fmt.Errorf("stage %q: requires unknown or later stage %q", s.Name, req)
			}
			if j == i {
				return fmt.Errorf("stage %q: requires itself", s.Name)
			}
		}

		if len(s.Steps) == 0 && !s.Production {
			return fmt.Errorf("stage %q: no steps", s.Name)
		}
		for j, st := range s.Steps {
			if st.Command == "" {
				return fmt.Errorf("stage %q: step[%d]: command is required", s.Name, j)
			}
			if _, err := time.ParseDuration(st.Timeout); err != nil {
				return fmt.Errorf("stage %q: step[%d]: timeout: %w", s.Name, j, err)
			}
		}
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for i, sched := range p.Schedules {
		if sched.Branch == "" {
			return fmt.Errorf("schedule[%d]: branch is required", i)
		}
		if _, err := parser.Parse(sched.Cron); err != nil {
			return fmt.Errorf("schedule[%d]: cron %q: %w", i, sched.Cron, err)
		}
	}

	return nil
}
