// Package metrics defines the Prometheus instrumentation for the MPC,
// grounded on the teacher's api/metrics/metrics.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "buddyup_mpc_build_info",
			Help: "Build information of the accountability partnership MPC service.",
		},
		[]string{"version", "commit", "date"},
	)

	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddyup_mpc_job_runs_total",
			Help: "Total number of scheduled job executions by name and outcome.",
		},
		[]string{"job", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buddyup_mpc_job_duration_seconds",
			Help:    "Duration of scheduled job executions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	MatchingPassProposals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buddyup_mpc_matching_pass_proposals_total",
			Help: "Total number of partnerships proposed by matching passes.",
		},
	)

	MatchingPassCandidatesScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buddyup_mpc_matching_pass_candidates_scored_total",
			Help: "Total number of candidate pairs scored across all matching passes.",
		},
	)

	PartnershipTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddyup_mpc_partnership_transitions_total",
			Help: "Total number of partnership state transitions by action and result.",
		},
		[]string{"action", "result"},
	)

	CheckInsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddyup_mpc_checkins_total",
			Help: "Total number of check-ins recorded by kind and result.",
		},
		[]string{"kind", "result"},
	)

	HealthRecomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddyup_mpc_health_recompute_total",
			Help: "Total number of health score recomputations by band.",
		},
		[]string{"band"},
	)

	NotifyEmitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddyup_mpc_notify_emit_total",
			Help: "Total number of outbound notification emissions by event and result.",
		},
		[]string{"event", "result"},
	)

	StreakDecayMissedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buddyup_mpc_streak_decay_missed_total",
			Help: "Total number of participants found to have missed yesterday's daily check-in by the streak-decay job.",
		},
	)
)
