// Package scheduler runs the recurring jobs (ingest pass, validation
// retries) on cron specs, with a redis lock so one worker in the fleet
// runs a given job per tick.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Locker grants at most one worker a named job slot per tick.
type Locker interface {
	TryAcquire(ctx context.Context, job string) (bool, error)
}

// Scheduler drives registered jobs on their cron specs.
type Scheduler struct {
	cron *cron.Cron
	lock Locker
	ctx  context.Context
	log  zerolog.Logger
}

// New constructs a Scheduler. Jobs registered later run with the given
// context; cancelling it makes in-flight jobs wind down.
func New(ctx context.Context, lock Locker, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		lock: lock,
		ctx:  ctx,
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a named job on the given cron spec.
func (s *Scheduler) Register(spec, name string, run func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runJob(name, run)
	})
	if err != nil {
		return fmt.Errorf("register job %s on spec %q: %w", name, spec, err)
	}
	return nil
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runJob(name string, run func(ctx context.Context) error) {
	log := s.log.With().Str("job", name).Logger()

	ok, err := s.lock.TryAcquire(s.ctx, name)
	if err != nil {
		log.Error().Err(err).Msg("acquire job lock")
		return
	}
	if !ok {
		log.Debug().Msg("job lock held elsewhere, skipping tick")
		return
	}

	if err := run(s.ctx); err != nil {
		log.Error().Err(err).Msg("job run failed")
		return
	}
	log.Debug().Msg("job run finished")
}
