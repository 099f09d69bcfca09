// Package cron turns configured cron entries into recurring job
// submissions. Every fire of an entry's schedule submits one job through
// the ordinary submission path; from there the jobs are claimed, retried,
// and dead-lettered like any client-submitted work.
package cron

import (
	"context"
	"fmt"
	"log/slog"

	cronlib "github.com/robfig/cron/v3"

	"github.com/batonq/baton"
	"github.com/batonq/baton/job"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler submits a job for every fire of each configured entry.
type Scheduler struct {
	service *job.Service
	logger  *slog.Logger
	cron    *cronlib.Cron
}

// NewScheduler creates a scheduler over the given entries. Invalid
// schedules are rejected up front so a config typo fails at startup
// rather than silently never firing.
func NewScheduler(service *job.Service, entries []baton.CronEntry, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		service: service,
		logger:  logger,
		cron:    cronlib.New(cronlib.WithParser(cronParser)),
	}

	for _, entry := range entries {
		entry := entry
		if entry.JobType == "" {
			return nil, fmt.Errorf("baton/cron: entry %q has no job type", entry.Name)
		}
		if _, err := s.cron.AddFunc(entry.Schedule, func() { s.runEntry(entry) }); err != nil {
			return nil, fmt.Errorf("baton/cron: entry %q: invalid schedule %q: %w", entry.Name, entry.Schedule, err)
		}
	}
	return s, nil
}

// Start begins firing entries. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	s.logger.Info("cron scheduler started", slog.Int("entries", len(s.cron.Entries())))
	return nil
}

// Stop halts future fires and waits for in-flight entry submissions.
func (s *Scheduler) Stop(_ context.Context) error {
	<-s.cron.Stop().Done()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// runEntry submits one job for a fired entry. Submission errors are logged
// and dropped; the next fire tries again.
func (s *Scheduler) runEntry(entry baton.CronEntry) {
	j, err := s.service.Submit(context.Background(), entry.JobType, entry.Payload, job.SubmitOptions{})
	if err != nil {
		s.logger.Error("cron submission failed",
			slog.String("entry", entry.Name),
			slog.String("job_type", entry.JobType),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("cron entry fired",
		slog.String("entry", entry.Name),
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", entry.JobType),
	)
}
