package orchestrator

import "errors"

var (
	// ErrSuperseded is returned when a run was cancelled because a newer
	// trigger arrived for the same branch.
	ErrSuperseded = errors.New("run superseded by newer trigger")

	// ErrShuttingDown is returned by Submit after Shutdown has begun.
	ErrShuttingDown = errors.New("orchestrator shutting down")
)
