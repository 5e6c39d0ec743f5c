package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StateTransitions counts committed state changes.
	// Labels: from, to
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "penny",
			Subsystem: "engine",
			Name:      "state_transitions_total",
			Help:      "Total committed engine state transitions",
		},
		[]string{"from", "to"},
	)

	// Verdicts counts impasse verdicts by type.
	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "penny",
			Subsystem: "engine",
			Name:      "verdicts_total",
			Help:      "Total impasse verdicts by type",
		},
		[]string{"type"},
	)

	// Decisions counts remediation decisions by action.
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "penny",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Total remediation decisions by action",
		},
		[]string{"action"},
	)

	// TasksFinished counts tasks reaching a terminal status.
	// Labels: status (completed, aborted)
	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "penny",
			Subsystem: "engine",
			Name:      "tasks_finished_total",
			Help:      "Total tasks that reached a terminal status",
		},
		[]string{"status"},
	)

	// VersionConflicts counts reload-and-redecide cycles.
	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "penny",
			Subsystem: "engine",
			Name:      "version_conflicts_total",
			Help:      "Total optimistic concurrency conflicts observed by the engine",
		},
	)

	// PhaseDuration observes wall time from resolving to commit per phase.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "penny",
			Subsystem: "engine",
			Name:      "phase_duration_seconds",
			Help:      "Duration of one phase step in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)
)
