package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/careops/surveyci/internal/pipeline"
	"github.com/careops/surveyci/internal/trigger"
)

// Manager turns triggers into runs and enforces supersession: a new
// trigger for a branch cancels that branch's in-flight run before the new
// one starts. Runs on different branches proceed concurrently.
type Manager struct {
	orc    *Orchestrator
	logger *slog.Logger

	ctx    context.Context // parent of all run contexts
	cancel context.CancelFunc

	mu       sync.Mutex
	active   map[string]*activeRun // keyed by branch
	buildNum int
	shutdown bool
	wg       sync.WaitGroup
}

type activeRun struct {
	run    *pipeline.Run
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager. startBuild seeds the build counter, so
// numbers keep increasing across restarts when history is available.
func NewManager(orc *Orchestrator, startBuild int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		orc:      orc,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*activeRun),
		buildNum: startBuild,
	}
}

// Submit validates the trigger, supersedes any in-flight run on the same
// branch, and starts a new run in the background. It returns once the new
// run is registered.
func (m *Manager) Submit(tr trigger.Trigger) (*pipeline.Run, error) {
	if err := tr.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trigger: %w", err)
	}

	for {
		m.mu.Lock()
		if m.shutdown {
			m.mu.Unlock()
			return nil, ErrShuttingDown
		}
		prev, exists := m.active[tr.Branch]
		if !exists {
			break
		}
		m.mu.Unlock()

		m.logger.Info("superseding run",
			"branch", tr.Branch, "run_id", prev.run.ID, "trigger", tr.ID)
		prev.cancel()
		<-prev.done
	}
	// mu is held here.

	m.buildNum++
	run := pipeline.NewRun(m.buildNum, tr.Branch, tr.Commit, tr.Kind, tr.Params)

	runCtx, cancel := context.WithCancel(m.ctx)
	ar := &activeRun{run: run, cancel: cancel, done: make(chan struct{})}
	m.active[tr.Branch] = ar
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()
		defer close(ar.done)

		err := m.orc.Run(runCtx, run)
		if err != nil && !errors.Is(err, ErrSuperseded) {
			m.logger.Error("run failed to execute", "run_id", run.ID, "error", err)
		}

		m.mu.Lock()
		if m.active[tr.Branch] == ar {
			delete(m.active, tr.Branch)
		}
		m.mu.Unlock()
	}()

	return run, nil
}

// Active returns the in-flight runs, sorted by branch.
func (m *Manager) Active() []*pipeline.Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]*pipeline.Run, 0, len(m.active))
	for _, ar := range m.active {
		runs = append(runs, ar.run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Branch < runs[j].Branch })
	return runs
}

// Shutdown cancels all in-flight runs and waits for them to finalize.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}
