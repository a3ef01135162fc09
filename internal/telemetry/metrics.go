package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Game-loop counters, exposed on /metrics. Labels stay low-cardinality:
// phases and reasons only, never room identities.
var (
	TransitionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Name:      "transitions_applied_total",
		Help:      "Phase transitions written to the room record.",
	}, []string{"to"})

	QuestionAdvances = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Name:      "question_advances_total",
		Help:      "Question to leaderboard advances, split by trigger.",
	}, []string{"reason"}) // quorum | timeout

	WatchdogResyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Name:      "watchdog_resyncs_total",
		Help:      "Client resyncs that corrected a stale local view.",
	}, []string{"source"}) // poll | stuck

	FeedDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quiz",
		Name:      "feed_subscription_drops_total",
		Help:      "Change feed subscriptions that died and were not resumed.",
	})
)
