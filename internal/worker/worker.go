// Package worker fires the periodic metering jobs: the daily quota warning
// sweep and the monthly token counter reset. Scheduling is at-least-once;
// both handlers are idempotent over already-settled state, so a duplicate or
// late run is safe.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnmchuo/agentmeter/internal/metering"
	"github.com/vnmchuo/agentmeter/internal/quota"
)

type Scheduler struct {
	sweeper   *quota.Sweeper
	metering  *metering.Service
	sweepHour int // UTC hour for the daily sweep
	resetHour int // UTC hour for the reset on the 1st
	log       zerolog.Logger
	now       func() time.Time
}

func NewScheduler(sweeper *quota.Sweeper, meteringSvc *metering.Service, sweepHour, resetHour int, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		sweeper:   sweeper,
		metering:  meteringSvc,
		sweepHour: sweepHour,
		resetHour: resetHour,
		log:       log,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, firing each job at its next occurrence.
func (s *Scheduler) Run(ctx context.Context) {
	go s.loop(ctx, "daily_warning_sweep", s.nextDaily, func(ctx context.Context) error {
		_, err := s.sweeper.RunDailyWarningCheck(ctx)
		return err
	})
	s.loop(ctx, "monthly_counter_reset", s.nextMonthly, func(ctx context.Context) error {
		_, err := s.metering.ResetMonthlyCounters(ctx)
		return err
	})
}

func (s *Scheduler) loop(ctx context.Context, name string, next func(time.Time) time.Time, job func(context.Context) error) {
	for {
		at := next(s.now())
		s.log.Info().Str("job", name).Time("next_run", at).Msg("job scheduled")

		timer := time.NewTimer(at.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := job(ctx); err != nil {
			// The next occurrence will retry; both jobs are idempotent.
			s.log.Error().Err(err).Str("job", name).Msg("periodic job failed")
		}
	}
}

func (s *Scheduler) nextDaily(t time.Time) time.Time {
	return NextDaily(t, s.sweepHour)
}

func (s *Scheduler) nextMonthly(t time.Time) time.Time {
	return NextMonthly(t, s.resetHour)
}

// NextDaily returns the next occurrence of the given UTC hour after t.
func NextDaily(t time.Time, hour int) time.Time {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextMonthly returns the next 1st-of-month occurrence of the given UTC hour
// after t.
func NextMonthly(t time.Time, hour int) time.Time {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), 1, hour, 0, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}
