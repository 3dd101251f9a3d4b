// Package notify delivers structured pipeline events to configured sinks.
// Delivery is best-effort: sink failures are logged and never escalated
// into the pipeline.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// EventType classifies a notification.
type EventType string

const (
	EventBuildStarted   EventType = "build_started"
	EventBuildSucceeded EventType = "build_succeeded"
	EventBuildUnstable  EventType = "build_unstable"
	EventBuildFailed    EventType = "build_failed"
	EventDeployCompleted EventType = "deploy_completed"
)

// Event is a structured notification with a rendered message body.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Branch    string    `json:"branch"`
	Commit    string    `json:"commit"`
	Status    string    `json:"status"`
	ImageTag  string    `json:"image_tag,omitempty"`
	Approver  string    `json:"approver,omitempty"`
	LogURL    string    `json:"log_url,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers a single event to one sink.
type Notifier interface {
	Send(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the structured log. It is always enabled.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Send(_ context.Context, ev Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"type", ev.Type,
		"run_id", ev.RunID,
		"branch", ev.Branch,
		"status", ev.Status,
		"message", ev.Message,
	)
	return nil
}

// Fanout sends each event to every sink, swallowing and logging failures.
type Fanout struct {
	sinks  []Notifier
	logger *slog.Logger
}

// NewFanout creates a Fanout over the given sinks.
func NewFanout(logger *slog.Logger, sinks ...Notifier) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, logger: logger}
}

// Send delivers ev to all sinks. It never returns an error.
func (f *Fanout) Send(ctx context.Context, ev Event) error {
	for _, sink := range f.sinks {
		if err := sink.Send(ctx, ev); err != nil {
			f.logger.Warn("notification delivery failed",
				"type", ev.Type,
				"run_id", ev.RunID,
				"error", err,
			)
		}
	}
	return nil
}
