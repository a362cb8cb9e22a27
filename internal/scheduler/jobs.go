package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/malbeclabs/buddyup/internal/checkin"
	"github.com/malbeclabs/buddyup/internal/config"
	"github.com/malbeclabs/buddyup/internal/health"
	"github.com/malbeclabs/buddyup/internal/metrics"
	"github.com/malbeclabs/buddyup/internal/notify"
	"github.com/malbeclabs/buddyup/internal/partnership"
)

// MatchingEngine is the subset of queue.Engine the scheduler needs.
type MatchingEngine interface {
	RunMatchingPass(ctx context.Context, now time.Time) (int, error)
	EvictIdle(ctx context.Context, idleAfter time.Duration, now time.Time) (int, error)
}

// BuildJobs wires the five named jobs from spec §4.7 against the
// component implementations.
func BuildJobs(cfg config.Config, log *slog.Logger, engine MatchingEngine, partnerships partnership.Store, checkins checkin.Store, healthEvents health.EventStore, notifier notify.Notifier) []Job {
	return []Job{
		{
			Name:     "match-pass",
			Interval: cfg.MatchingInterval,
			Run: func(ctx context.Context, now time.Time) error {
				n, err := engine.RunMatchingPass(ctx, now)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info("match-pass: proposed partnerships", "count", n)
				}
				return nil
			},
		},
		{
			Name:     "expire-pending",
			Interval: time.Hour,
			Run: func(ctx context.Context, now time.Time) error {
				n, err := partnerships.ExpireStalePending(ctx, requestTTLOrDefault(cfg), now)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info("expire-pending: expired stale requests", "count", n)
				}
				return nil
			},
		},
		{
			Name:     "health-recompute",
			Interval: cfg.HealthRecomputeInterval,
			Run: func(ctx context.Context, now time.Time) error {
				return recomputeHealth(ctx, partnerships, checkins, healthEvents, notifier, cfg, now)
			},
		},
		{
			Name:     "streak-decay",
			Interval: 24 * time.Hour,
			Run: func(ctx context.Context, now time.Time) error {
				return logMissedStreaks(ctx, partnerships, checkins, log, now)
			},
		},
		{
			Name:     "queue-eviction",
			Interval: time.Hour,
			Run: func(ctx context.Context, now time.Time) error {
				n, err := engine.EvictIdle(ctx, cfg.QueueIdleEvictAfter, now)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info("queue-eviction: evicted idle entries", "count", n)
				}
				return nil
			},
		},
	}
}

func requestTTLOrDefault(cfg config.Config) time.Duration {
	if cfg.PartnershipRequestTTL > 0 {
		return cfg.PartnershipRequestTTL
	}
	return 72 * time.Hour
}

// recomputeHealth recomputes health for every ACTIVE|PAUSED partnership
// whose health is stale, emitting HealthAtRisk on edge-triggered entry
// into the risk band (spec §4.6).
func recomputeHealth(ctx context.Context, partnerships partnership.Store, checkins checkin.Store, healthEvents health.EventStore, notifier notify.Notifier, cfg config.Config, now time.Time) error {
	stale, err := partnerships.ListActiveOrPaused(ctx, cfg.HealthRecomputeInterval, now)
	if err != nil {
		return err
	}

	for _, p := range stale {
		acctA, err := checkins.Accountability(ctx, p.ID, p.UserA, now)
		if err != nil {
			continue
		}
		acctB, err := checkins.Accountability(ctx, p.ID, p.UserB, now)
		if err != nil {
			continue
		}

		daysSince := now.Sub(p.LastActivityAt).Hours() / 24

		score, enteredRisk, err := health.Recompute(ctx, healthEvents, p.ID, health.Inputs{
			DaysSinceLastActivity: daysSince,
			AccountabilityA:       acctA,
			AccountabilityB:       acctB,
			CurrentStreak:         p.CurrentStreak,
		}, now)
		if err != nil {
			continue
		}

		if err := partnerships.SetHealth(ctx, p.ID, score, now); err != nil {
			continue
		}

		if enteredRisk {
			_ = notifier.Emit(ctx, notify.Event{
				Name:      notify.HealthAtRisk,
				Payload:   notify.MarshalPayload(map[string]any{"partnershipId": p.ID, "health": score}),
				CreatedAt: now,
			})
		}
	}
	return nil
}

// logMissedStreaks flags participants whose last daily check-in predates
// yesterday (UTC), the inactivity signal spec §4.7 asks the streak-decay
// job to surface. Per-user local-date comparison would need each
// participant's timezone from their preferences, which this job doesn't
// have access to; UTC is used as the approximation, recorded as an open
// decision in DESIGN.md. The recency factor in C6's health score is
// already derived from lastActivityAt, so this job's role is limited to
// this logging/metrics signal rather than mutating any stored state.
func logMissedStreaks(ctx context.Context, partnerships partnership.Store, checkins checkin.Store, log *slog.Logger, now time.Time) error {
	active, err := partnerships.ListActiveOrPaused(ctx, 0, now)
	if err != nil {
		return err
	}

	yesterday, err := checkin.LocalDate(now.AddDate(0, 0, -1), "UTC")
	if err != nil {
		return err
	}
	today, err := checkin.LocalDate(now, "UTC")
	if err != nil {
		return err
	}

	for _, p := range active {
		for _, userID := range []string{p.UserA, p.UserB} {
			streak, err := checkins.Streak(ctx, p.ID, userID)
			if err != nil {
				continue
			}
			if streak.LastCheckInDate == yesterday || streak.LastCheckInDate == today {
				continue
			}
			log.Debug("streak-decay: participant missed yesterday's check-in", "partnershipId", p.ID, "userId", userID, "lastCheckInDate", streak.LastCheckInDate)
			metrics.StreakDecayMissedTotal.Inc()
		}
	}
	return nil
}
