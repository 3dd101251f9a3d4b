package trigger

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/careops/surveyci/internal/config"
	"github.com/careops/surveyci/internal/pipeline"
)

// Scheduler fires schedule triggers from the pipeline config's cron
// entries. Firing is delegated to a callback so the scheduler stays
// decoupled from run submission.
type Scheduler struct {
	cron   *cron.Cron
	fire   func(Trigger)
	logger *slog.Logger
}

// NewScheduler builds a Scheduler for the given entries. The callback is
// invoked on the cron goroutine for every due entry.
func NewScheduler(entries []config.Schedule, fire func(Trigger), logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cron:   cron.New(),
		fire:   fire,
		logger: logger,
	}

	for i, entry := range entries {
		entry := entry
		_, err := s.cron.AddFunc(entry.Cron, func() {
			params, err := ParseParams(entry.Params)
			if err != nil {
				s.logger.Error("schedule entry has bad params",
					"cron", entry.Cron,
					"branch", entry.Branch,
					"error", err,
				)
				return
			}
			t := New(pipeline.EventSchedule, entry.Branch, "", params)
			s.logger.Info("schedule fired", "branch", entry.Branch, "trigger_id", t.ID)
			s.fire(t)
		})
		if err != nil {
			return nil, fmt.Errorf("schedule[%d] %q: %w", i, entry.Cron, err)
		}
	}

	return s, nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for in-flight callbacks.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
