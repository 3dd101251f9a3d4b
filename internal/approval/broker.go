// Package approval implements the manual gate in front of production
// deployment stages. The orchestrator blocks in Wait; an external actor
// (CLI prompt, HTTP endpoint) resolves the gate with an explicit decision.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrTimedOut is returned when no decision arrives within the gate's
	// timeout. It aborts the production stage only.
	ErrTimedOut = errors.New("approval timed out")

	// ErrNotPending is returned when resolving a gate nobody is waiting on.
	ErrNotPending = errors.New("no pending approval for run")

	// ErrAlreadyPending is returned when a second gate is opened for the
	// same run.
	ErrAlreadyPending = errors.New("approval already pending for run")
)

// Request describes a gate presented to the approver.
type Request struct {
	RunID   string        `json:"run_id"`
	Branch  string        `json:"branch"`
	Stage   string        `json:"stage"`
	Prompt  string        `json:"prompt"`
	Choices []string      `json:"choices"` // deployment strategies
	Timeout time.Duration `json:"timeout"`
}

// Decision is the approver's answer, including the gate sub-form values.
type Decision struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver"`
	Strategy string `json:"strategy"` // "rolling", "blue-green", "immediate"
	Backup   bool   `json:"backup_before_deploy"`
}

// Handler is an optional callback invoked when a gate opens, used by the
// CLI to prompt on stdin. It runs on its own goroutine.
type Handler func(Request)

// Broker matches waiting production stages with approver decisions.
type Broker struct {
	mu      sync.Mutex
	pending map[string]pendingGate
	handler Handler
}

type pendingGate struct {
	req Request
	ch  chan Decision
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{pending: make(map[string]pendingGate)}
}

// SetHandler installs a callback fired whenever a gate opens.
func (b *Broker) SetHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Wait blocks until the gate for req.RunID is resolved, the timeout
// elapses, or ctx is cancelled (supersession / shutdown). A rejection is
// returned as a Decision with Approved=false, not an error.
func (b *Broker) Wait(ctx context.Context, req Request) (Decision, error) {
	ch := make(chan Decision, 1)

	b.mu.Lock()
	if _, exists := b.pending[req.RunID]; exists {
		b.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrAlreadyPending, req.RunID)
	}
	b.pending[req.RunID] = pendingGate{req: req, ch: ch}
	handler := b.handler
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.RunID)
		b.mu.Unlock()
	}()

	if handler != nil {
		go handler(req)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case dec := <-ch:
		return dec, nil
	case <-timer.C:
		return Decision{}, ErrTimedOut
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Resolve delivers a decision to the gate waiting on runID.
func (b *Broker) Resolve(runID string, dec Decision) error {
	b.mu.Lock()
	gate, ok := b.pending[runID]
	if ok {
		delete(b.pending, runID)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPending, runID)
	}
	gate.ch <- dec
	return nil
}

// Pending lists the gates currently awaiting a decision, sorted by run ID.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	reqs := make([]Request, 0, len(b.pending))
	for _, g := range b.pending {
		reqs = append(reqs, g.req)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].RunID < reqs[j].RunID })
	return reqs
}
