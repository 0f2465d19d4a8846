package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished jobs by source mode and outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "likebot_jobs_total",
			Help: "Total number of finished like jobs",
		},
		[]string{"mode", "outcome"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "likebot_jobs_active",
			Help: "Number of jobs currently running",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "likebot_job_duration_seconds",
			Help:    "Wall time of finished jobs in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10s to ~5.7h
		},
		[]string{"mode"},
	)

	LikesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "likebot_likes_total",
			Help: "Total number of like actions performed",
		},
	)

	AlreadyLikedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "likebot_already_liked_total",
			Help: "Total number of items skipped because they were already liked",
		},
	)

	// TargetErrorsTotal counts per-target failures that were swallowed by the engine.
	TargetErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "likebot_target_errors_total",
			Help: "Total number of per-target errors",
		},
	)

	RateLimitBackoffsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "likebot_rate_limit_backoffs_total",
			Help: "Total number of fixed rate-limit backoffs taken",
		},
	)

	// FlowsTotal counts conversation flows by kind and how they ended.
	FlowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "likebot_flows_total",
			Help: "Total number of configuration flows by outcome",
		},
		[]string{"flow", "outcome"},
	)

	SessionsAuthenticated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "likebot_sessions_authenticated",
			Help: "Number of chat sessions holding a remote login",
		},
	)
)
