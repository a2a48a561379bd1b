package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cpufreqctl"

var (
	// SamplesTotal counts completed samples by mode
	SamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Total number of frequency samples taken",
		},
		[]string{"mode"},
	)

	// SampleErrors counts samples that produced no readings
	SampleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_errors_total",
			Help:      "Total number of failed frequency samples",
		},
		[]string{"mode", "code"},
	)

	SampleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_duration_seconds",
			Help:      "Frequency sample latency in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)

	// CoreFrequency is the last reading per core in MHz
	CoreFrequency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "core_frequency_mhz",
			Help:      "Last sampled clock of each core in MHz",
		},
		[]string{"core"},
	)

	// Indicator is 0 normal, 1 warning, 2 danger
	Indicator = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indicator_status",
			Help:      "Alert indicator (0 normal, 1 warning, 2 danger)",
		},
	)

	StagnationCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stagnation_count",
			Help:      "Consecutive unchanged samples",
		},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of threshold alerts fired",
		},
		[]string{"severity"},
	)

	ModeAutoSwitches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_auto_switches_total",
			Help:      "Total number of automatic switches to the fallback sampling mode",
		},
	)

	// ActionRuns counts trigger action executions by final phase
	ActionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_action_runs_total",
			Help:      "Total number of trigger action runs",
		},
		[]string{"result"},
	)

	EngineRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_restarts_total",
			Help:      "Total number of sampling loop generations started",
		},
	)

	// DroppedEvents counts events a slow subscriber did not receive
	DroppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Total number of events dropped for slow subscribers",
		},
		[]string{"type"},
	)
)
