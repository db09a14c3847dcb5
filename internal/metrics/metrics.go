// Package metrics holds the Prometheus collectors for pipeline runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished runs.
	// Labels: outcome (success or a failure kind)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patchr",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	// PhaseDuration tracks phase call latency.
	// Labels: phase, outcome
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "patchr",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Duration of phase and gate calls in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"phase", "outcome"},
	)

	// GateVerdicts counts gate evaluations.
	// Labels: status (PASS, NEEDS_FIX, FATAL)
	GateVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patchr",
			Subsystem: "gate",
			Name:      "verdicts_total",
			Help:      "Total number of gate verdicts by status",
		},
		[]string{"status"},
	)

	// Generations records how many generation attempts each run used.
	Generations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "patchr",
			Subsystem: "pipeline",
			Name:      "generations_per_run",
			Help:      "Number of GENERATE calls per run",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	// InFlight is the number of runs currently executing.
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "patchr",
			Subsystem: "pipeline",
			Name:      "runs_in_flight",
			Help:      "Number of pipeline runs currently executing",
		},
	)
)
