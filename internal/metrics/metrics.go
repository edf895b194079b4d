// Package metrics exposes Prometheus collectors for pipeline runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Metrics groups the collectors registered on one registry
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	RunFailures   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	ChecksTotal   *prometheus.CounterVec
	RunsActive    prometheus.Gauge
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcriber_runs_total",
				Help: "Total number of pipeline runs",
			},
			[]string{"partner", "outcome"},
		),
		RunFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcriber_run_failures_total",
				Help: "Total number of failed runs by error kind",
			},
			[]string{"partner", "kind"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transcriber_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcriber_validation_checks_total",
				Help: "Total number of validation checks by item and result",
			},
			[]string{"item", "passed"},
		),
		RunsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "transcriber_runs_active",
				Help: "Number of runs in progress",
			},
		),
	}
}

// ObserveStage records a stage duration
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// ObserveCheck counts one validation check
func (m *Metrics) ObserveCheck(item string, passed bool) {
	label := "false"
	if passed {
		label = "true"
	}
	m.ChecksTotal.WithLabelValues(item, label).Inc()
}

// ObserveRun counts a finished run. kind is empty for successful runs.
func (m *Metrics) ObserveRun(partner string, success bool, kind string) {
	if success {
		m.RunsTotal.WithLabelValues(partner, OutcomeSucceeded).Inc()
		return
	}
	m.RunsTotal.WithLabelValues(partner, OutcomeFailed).Inc()
	m.RunFailures.WithLabelValues(partner, kind).Inc()
}
