// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts completed runs by terminal status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scriptbox_runs_total",
		Help: "Completed runs by terminal status.",
	}, []string{"status"})

	// AttemptsTotal counts every attempt, including pre-execution rejections.
	AttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scriptbox_attempts_total",
		Help: "Execution attempts across all runs.",
	})

	// AutoCorrectTotal counts applied fixes by method.
	AutoCorrectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scriptbox_autocorrect_total",
		Help: "Applied automatic fixes by method.",
	}, []string{"method"})

	// ExecutionSeconds observes total guest execution time per run.
	ExecutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scriptbox_execution_seconds",
		Help:    "Guest execution wall-clock seconds per run.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 13),
	})
)
