package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Store persists run state as JSON files, one directory per run ID.
// The store is the live view of runs; long-term history lives in postgres.
type Store struct {
	baseDir string // defaults to ~/.surveyci/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.surveyci/runs, creating the directory
// if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".surveyci", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.baseDir, id, "run.json")
}

// StepLogPath returns where captured step output for a stage is stored.
func (s *Store) StepLogPath(id, stage, step string) string {
	return filepath.Join(s.baseDir, id, "stages", stage, step+".log")
}

// Create persists a new run. It fails if the run ID already exists.
func (s *Store) Create(run *Run) error {
	dir := filepath.Join(s.baseDir, run.ID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if err := os.MkdirAll(filepath.Join(dir, "stages"), 0o755); err != nil {
		return fmt.Errorf("mkdir stages: %w", err)
	}
	return writeJSON(s.runPath(run.ID), run)
}

// Get reads the run state for an ID.
func (s *Store) Get(id string) (*Run, error) {
	var run Run
	if err := readJSON(s.runPath(id), &run); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, err
	}
	return &run, nil
}

// Save writes the current run state back to disk, bumping UpdatedAt.
func (s *Store) Save(run *Run) error {
	run.UpdatedAt = nowRFC3339()
	return writeJSON(s.runPath(run.ID), run)
}

// SaveStepLog persists captured step output under the run's stage directory.
func (s *Store) SaveStepLog(id, stage, step, output string) error {
	return writeAtomic(s.StepLogPath(id, stage, step), []byte(output))
}

// List returns all runs, optionally filtered by branch and/or status.
// Pass "" to skip a filter.
func (s *Store) List(branch string, status Status) ([]Run, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if branch != "" && run.Branch != branch {
			continue
		}
		if status != "" && run.Status != status {
			continue
		}
		runs = append(runs, *run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].BuildNumber < runs[j].BuildNumber
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(id string) error {
	dir := filepath.Join(s.baseDir, id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", id)
	}
	return os.RemoveAll(dir)
}
