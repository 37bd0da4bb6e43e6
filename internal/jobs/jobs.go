// Package jobs runs the periodic maintenance tasks of the scheduler service.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/iliyamo/repost-scheduler/internal/ledger"
	"github.com/iliyamo/repost-scheduler/internal/model"
)

// Pruner drops ledger counters that can no longer be booked against.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) error
}

// PruneJob removes counters for dates before today and months before the
// current month.  "Today" is evaluated in Location.
type PruneJob struct {
	Ledger   Pruner
	Location *time.Location
	Now      func() time.Time
	Log      zerolog.Logger
}

func (j PruneJob) Run(ctx context.Context) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	loc := j.Location
	if loc == nil {
		loc = time.UTC
	}
	today := ledger.Day(now().In(loc))
	if err := j.Ledger.Prune(ctx, today); err != nil {
		return fmt.Errorf("prune before %s: %w", today.Format(model.DateLayout), err)
	}
	j.Log.Info().Str("before", today.Format(model.DateLayout)).Msg("ledger pruned")
	return nil
}

// Scheduler wraps a cron runner.  Each job runs with its own timeout.
type Scheduler struct {
	c   *cron.Cron
	log zerolog.Logger
}

func NewScheduler(loc *time.Location, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		c:   cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		log: log.With().Str("component", "jobs").Logger(),
	}
}

// Add registers job under spec.  An invalid spec is returned as an error.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	_, err := s.c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		if err := job(ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("job done")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) Start() { s.c.Start() }

// Stop halts the scheduler and waits for running jobs or ctx, whichever
// comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
}

// Len reports the number of registered jobs.
func (s *Scheduler) Len() int { return len(s.c.Entries()) }
