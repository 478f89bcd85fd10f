package cron

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/supermarket-backend/pkg/lock"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/metrics"
)

// Job is one unit of storefront housekeeping.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Options tune a Scheduler. Zero values fall back to an hourly cycle with
// no per-job deadline.
type Options struct {
	Interval   time.Duration
	JobTimeout time.Duration
	Metrics    *metrics.CronJobMetrics
}

// Scheduler runs its jobs in order once per interval. Cycles only run on the
// worker holding the lease, so several cron workers can be deployed safely.
type Scheduler struct {
	logg  *logger.Logger
	lease lock.Lock
	opts  Options
	jobs  []Job
}

// NewScheduler rejects nil jobs and duplicate job names.
func NewScheduler(logg *logger.Logger, lease lock.Lock, opts Options, jobs ...Job) (*Scheduler, error) {
	if logg == nil || lease == nil {
		return nil, errors.New("cron scheduler needs a logger and a lease")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	seen := make(map[string]bool, len(jobs))
	for i, job := range jobs {
		if job == nil {
			return nil, fmt.Errorf("cron job %d is nil", i)
		}
		if seen[job.Name()] {
			return nil, fmt.Errorf("cron job %q registered twice", job.Name())
		}
		seen[job.Name()] = true
	}
	return &Scheduler{logg: logg, lease: lease, opts: opts, jobs: jobs}, nil
}

// JobNames lists the scheduled jobs in run order.
func (s *Scheduler) JobNames() []string {
	names := make([]string, len(s.jobs))
	for i, job := range s.jobs {
		names[i] = job.Name()
	}
	return names
}

// Run runs a cycle right away, then one per interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "cron.cycle_failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs one cycle if the lease is free. Every job runs even when an
// earlier one fails; the failures come back combined.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	held, err := s.lease.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lease: %w", err)
	}
	if !held {
		s.logg.Info(ctx, "cron.cycle_skipped")
		return nil
	}
	defer func() {
		if relErr := s.lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "cron.lease_release_failed", relErr)
		}
	}()

	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return multierr.Append(err, ctx.Err())
		}
		if jobErr := s.runJob(ctx, job); jobErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", job.Name(), jobErr))
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs":   len(s.jobs),
		"failed": len(multierr.Errors(err)),
	}), "cron.cycle_complete")
	return err
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (err error) {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	if s.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
		took := time.Since(start)
		s.opts.Metrics.Record(job.Name(), took, err)
		ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
		if err != nil {
			s.logg.Error(ctx, "cron.job_failed", err)
			return
		}
		s.logg.Info(ctx, "cron.job_completed")
	}()
	return job.Run(ctx)
}
