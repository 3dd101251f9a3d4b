package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/careops/surveyci/internal/pipeline"
)

// Renderer builds notification events from run state.
type Renderer struct {
	// LogURLTemplate points at detailed logs; "{run_id}" is replaced
	// with the run ID. Empty disables the link.
	LogURLTemplate string
}

// Started builds the build_started event for a run.
func (r Renderer) Started(run *pipeline.Run) Event {
	return Event{
		Type:      EventBuildStarted,
		RunID:     run.ID,
		Branch:    run.Branch,
		Commit:    run.Commit,
		Status:    string(run.Status),
		ImageTag:  run.ImageTag(),
		LogURL:    r.logURL(run.ID),
		Message:   fmt.Sprintf("build %s started on %s (%s)", run.ID, run.Branch, run.Event),
		Timestamp: time.Now().UTC(),
	}
}

// Terminal builds the single notification for a finished run. Failure
// messages carry branch, commit and the log link; production successes
// carry the approver identity and image tag.
func (r Renderer) Terminal(run *pipeline.Run, deployed bool) Event {
	ev := Event{
		RunID:     run.ID,
		Branch:    run.Branch,
		Commit:    run.Commit,
		Status:    string(run.Status),
		ImageTag:  run.ImageTag(),
		Approver:  run.Approver,
		LogURL:    r.logURL(run.ID),
		Timestamp: time.Now().UTC(),
	}

	switch run.Status {
	case pipeline.StatusFailed:
		ev.Type = EventBuildFailed
		reason := failureReason(run)
		msg := fmt.Sprintf("build %s failed on %s (commit %s)", run.ID, run.Branch, run.Commit)
		if reason != "" {
			msg += ": " + reason
		}
		if ev.LogURL != "" {
			msg += " (logs: " + ev.LogURL + ")"
		}
		ev.Message = msg
	case pipeline.StatusUnstable:
		ev.Type = EventBuildUnstable
		ev.Message = fmt.Sprintf("build %s unstable on %s (commit %s)", run.ID, run.Branch, run.Commit)
	default:
		if deployed {
			ev.Type = EventDeployCompleted
			ev.Message = fmt.Sprintf("deployed %s to production. Deployed by: %s (image %s)",
				run.ID, run.Approver, run.ImageTag())
		} else {
			ev.Type = EventBuildSucceeded
			ev.Message = fmt.Sprintf("build %s succeeded on %s (image %s)", run.ID, run.Branch, run.ImageTag())
		}
	}
	return ev
}

func (r Renderer) logURL(runID string) string {
	if r.LogURLTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(r.LogURLTemplate, "{run_id}", runID)
}

// failureReason picks the first failed stage's reason.
func failureReason(run *pipeline.Run) string {
	for _, s := range run.Stages {
		if s.Status == pipeline.StageFailed {
			if s.Reason != "" {
				return fmt.Sprintf("stage %s: %s", s.Name, s.Reason)
			}
			return "stage " + s.Name + " failed"
		}
	}
	return ""
}
