package reminders

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the scan at the top of every hour.
const DefaultSchedule = "@hourly"

// Scheduler runs the reminder scan on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service *Service, logger *slog.Logger, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		service:  service,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the reminder job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		s.logger.Error("failed to schedule reminder job", "error", err)
		return err
	}
	s.logger.Info("scheduled reminder job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// RunOnce performs a single reminder scan.
func (s *Scheduler) RunOnce() {
	s.logger.Info("starting reminder job")

	sent, err := s.service.Run(context.Background())
	if err != nil {
		s.logger.Error("reminder job failed", "error", err)
		return
	}

	s.logger.Info("reminder job finished", "sent", sent)
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
