// Package scheduler wraps robfig/cron for the engine's wall-clock-driven
// actions: daily forced logout (C3), sandbox square-off and weekly
// reset (C6), per-strategy intraday square-off (C7) and the alert clock
// sweep (C8). No master-contract rotation job is scheduled; a symbol
// table changes only when symbols.Resolver.Rotate is called.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is anything the scheduler can run on a cron schedule.
type Job interface {
	Run() error
	Name() string
}

// Scheduler is a thin, logged wrapper around cron.Cron.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New builds a Scheduler using the standard 5-field cron parser with
// seconds disabled, matching the schedule strings used elsewhere in
// this codebase (e.g. "0 3 * * *" for 03:00 daily), evaluating
// schedules in the host's local time.
func New(log zerolog.Logger) *Scheduler {
	return NewInLocation(log, time.Local)
}

// NewInLocation builds a Scheduler whose cron expressions are
// evaluated in loc. The engine passes the market timezone here so
// square-off and forced-logout times fire at market-local wall-clock
// regardless of where the host runs.
func NewInLocation(log zerolog.Logger, loc *time.Location) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// AddJob registers job on the given cron schedule expression.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		log := s.log.With().Str("job", job.Name()).Logger()
		log.Debug().Msg("job starting")
		if err := job.Run(); err != nil {
			log.Error().Err(err).Msg("job failed")
			return
		}
		log.Debug().Msg("job completed")
	})
	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Str("schedule", schedule).Msg("failed to register job")
	}
	return err
}

// RunNow executes job immediately, off the cron schedule, logging the
// same way a scheduled firing would. Used by admin endpoints and
// tests that need to force a square-off or reset without waiting.
func (s *Scheduler) RunNow(job Job) error {
	log := s.log.With().Str("job", job.Name()).Logger()
	log.Info().Msg("job forced to run now")
	if err := job.Run(); err != nil {
		log.Error().Err(err).Msg("job failed")
		return err
	}
	log.Info().Msg("job completed")
	return nil
}
