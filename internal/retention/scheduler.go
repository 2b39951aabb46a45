package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"fg-go/internal/fg"
)

// Scheduler runs a Sweeper on a cron schedule.
type Scheduler struct {
	sweeper  *Sweeper
	schedule cron.Schedule
	logger   fg.Logger
	now      func() time.Time

	// done, when set, receives the outcome of every scheduled sweep.
	done chan<- error
}

// NewScheduler parses spec (standard five-field cron or a descriptor such as "@daily").
func NewScheduler(spec string, sweeper *Sweeper, logger fg.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing retention schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = fg.NewNopLogger()
	}
	return &Scheduler{sweeper: sweeper, schedule: schedule, logger: logger, now: time.Now}, nil
}

// Next returns the first run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run sweeps at every scheduled time until ctx is cancelled.
// A sweep that is still running when the next one is due is not doubled up.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.schedule.Next(s.now())
		s.logger.Debug("next cleanup scheduled", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		_, err := s.sweeper.Sweep(ctx)
		if err != nil {
			s.logger.Error("scheduled cleanup failed", "error", err)
		}
		if s.done != nil {
			select {
			case s.done <- err:
			case <-ctx.Done():
			}
		}
	}
}
