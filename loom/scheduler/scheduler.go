// Package scheduler reopens completed recurring tasks on a cron cadence.
// A task completed with a recurrence rule comes back as pending with its
// due date advanced by one recurrence step.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/taskloom/taskloom/loom/metrics"
	"github.com/taskloom/taskloom/loom/tasks"
)

const sweepTimeout = time.Minute

// Sweeper runs the recurrence sweep as a background cron job.
type Sweeper struct {
	cron   *cron.Cron
	store  *tasks.Store
	logger zerolog.Logger
}

// New creates a sweeper scheduled by spec (any robfig/cron expression,
// "@every 10m" included).
func New(spec string, store *tasks.Store, logger zerolog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:   cron.New(),
		store:  store,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("recurrence sweep spec %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running sweeps on schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info().Msg("recurrence scheduler started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	reopened, err := s.Sweep(ctx)
	if err != nil {
		metrics.SchedulerSweeps.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Msg("recurrence sweep failed")
		return
	}
	metrics.SchedulerSweeps.WithLabelValues("ok").Inc()
	if reopened > 0 {
		s.logger.Info().Int("reopened", reopened).Msg("recurrence sweep complete")
	}
}

// Sweep reopens every completed recurring task once and reports how many
// came back. Per-task conflicts (a concurrent delete or another sweep
// instance) are skipped, not fatal.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.store.ListRecurringCompleted(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recurring tasks: %w", err)
	}

	reopened := 0
	for _, task := range due {
		next := nextOccurrence(task, time.Now().UTC())
		if task.RecurrenceEndDate != nil && next.After(*task.RecurrenceEndDate) {
			// The recurrence has run its course; the task stays completed.
			continue
		}
		err := s.store.Reopen(ctx, task.UserID, task.ID, next)
		switch {
		case errors.Is(err, tasks.ErrConflict):
			s.logger.Debug().Int64("task_id", task.ID).Msg("recurring task changed under the sweep, skipping")
			continue
		case err != nil:
			return reopened, fmt.Errorf("reopen task %d: %w", task.ID, err)
		}
		reopened++
		metrics.RecurringSpawned.Inc()
	}
	return reopened, nil
}

// nextOccurrence advances the task's due date past now by whole
// recurrence steps. A task without a due date restarts from its
// completion time.
func nextOccurrence(task *tasks.Task, now time.Time) time.Time {
	base := task.UpdatedAt
	if task.DueDate != nil {
		base = *task.DueDate
	}

	next := tasks.NextDueDate(task.RecurrencePattern, task.RecurrenceInterval, base)
	// A long-overdue task skips the missed occurrences instead of coming
	// back already late.
	for i := 0; !next.After(now) && i < 1000; i++ {
		next = tasks.NextDueDate(task.RecurrencePattern, task.RecurrenceInterval, next)
	}
	return next
}
