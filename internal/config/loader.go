package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a pipeline configuration from the given YAML file
// path. After parsing, it applies defaults and validates the result.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault searches for a pipeline config in standard locations and
// loads the first one found. Search order: ./pipeline.yaml,
// ~/.surveyci/pipeline.yaml
func LoadDefault() (*PipelineConfig, error) {
	candidates := []string{"pipeline.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".surveyci", "pipeline.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no pipeline config found (searched: %v)", candidates)
}

// applyDefaults merges pipeline-level defaults into stages and steps that
// don't set their own values, and normalizes the failure policy.
func applyDefaults(cfg *PipelineConfig) {
	p := &cfg.Pipeline

	if p.Defaults.Timeout == "" {
		p.Defaults.Timeout = "10m"
	}
	if p.Defaults.ApprovalTimeout == "" {
		p.Defaults.ApprovalTimeout = "180s"
	}

	for i := range p.Stages {
		s := &p.Stages[i]

		if s.OnFail == "" {
			s.OnFail = OnFailPipeline
		}
		if s.Timeout == "" {
			s.Timeout = p.Defaults.Timeout
		}
		if s.Production && s.ApprovalTimeout == "" {
			s.ApprovalTimeout = p.Defaults.ApprovalTimeout
		}

		for j := range s.Steps {
			st := &s.Steps[j]
			if st.Timeout == "" {
				st.Timeout = s.Timeout
			}
			if st.Workdir == "" {
				st.Workdir = p.Defaults.Workdir
			}
		}
	}
}
