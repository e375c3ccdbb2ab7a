package scheduler

import (
	"errors"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/gateway-fm/xosactivity/internal/errs"
)

// AutoStart starts a cycle on a cron schedule. Runs that find a cycle
// already active are skipped. The returned function stops the cron and
// waits for a running trigger to return.
//
// Schedule examples:
//   - "@daily"        - every midnight
//   - "0 8 * * *"     - 08:00 every day
//   - "@every 6h"     - every six hours
func (s *Scheduler) AutoStart(schedule string) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		switch err := s.Start(); {
		case err == nil:
			s.logger.Info("Daily activity auto-started", slog.String("schedule", schedule))
		case errors.Is(err, errs.ErrAlreadyRunning):
			s.logger.Debug("Auto-start skipped: cycle already active")
		default:
			s.logger.Error("Auto-start failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	s.logger.Info("Auto-start registered", slog.String("schedule", schedule))

	return func() {
		<-c.Stop().Done()
	}, nil
}
