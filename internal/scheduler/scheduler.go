// Package scheduler implements C7: a generic periodic job runner driving
// the matching pass, request expiry, health recomputation, streak decay,
// and queue eviction (spec §4.7).
//
// The ticking/panic-recovery/readiness shape is grounded on the teacher's
// indexer/pkg/dz/revdist.View: Start() launches a goroutine that runs the
// job once immediately, then on every clockwork.Clock tick, recovering
// from panics and logging non-fatal errors rather than killing the loop.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/malbeclabs/buddyup/internal/metrics"
)

// JobFunc is one scheduled unit of work. It receives the instant the
// scheduler considers "now" for this tick (from the injected clock, so
// tests are deterministic).
type JobFunc func(ctx context.Context, now time.Time) error

// Job is a named, intervaled unit of scheduled work (spec §4.7 table).
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// Scheduler runs a fixed set of named Jobs, each on its own ticker, each
// single-flighted so overlapping ticks never run the same job
// concurrently (spec §9: "single-flight per job via a lease").
type Scheduler struct {
	log   *slog.Logger
	clock clockwork.Clock
	jobs  []Job

	flight singleflight.Group
	wg     sync.WaitGroup
}

func New(log *slog.Logger, clock clockwork.Clock, jobs []Job) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{log: log, clock: clock, jobs: jobs}
}

// Start launches one goroutine per job. Each runs immediately, then on
// every tick of its own interval, until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.log.Info("scheduler: starting job", "job", job.Name, "interval", job.Interval)

			s.safeRun(ctx, job)

			ticker := s.clock.NewTicker(job.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.Chan():
					s.safeRun(ctx, job)
				}
			}
		}()
	}
}

// Wait blocks until every job goroutine has returned (i.e. ctx was
// cancelled and jobs yielded in-flight work).
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: job panicked", "job", job.Name, "panic", r)
			metrics.JobRunsTotal.WithLabelValues(job.Name, "panic").Inc()
			sentry.CaptureMessage("scheduler job panic: " + job.Name)
		}
	}()

	start := time.Now()
	_, err, _ := s.flight.Do(job.Name, func() (any, error) {
		return nil, job.Run(ctx, s.clock.Now())
	})
	metrics.JobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error("scheduler: job failed", "job", job.Name, "error", err)
		metrics.JobRunsTotal.WithLabelValues(job.Name, "error").Inc()
		sentry.CaptureException(err)
		return
	}
	metrics.JobRunsTotal.WithLabelValues(job.Name, "ok").Inc()
}
