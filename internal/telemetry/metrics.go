package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the pipeline counters and histograms exposed on
// /metrics in serve mode.
type Metrics struct {
	RunsStarted       prometheus.Counter
	RunsCompleted     *prometheus.CounterVec // label: status
	RunsSuperseded    prometheus.Counter
	StageDuration     *prometheus.HistogramVec // label: stage
	StagesSkipped     *prometheus.CounterVec   // label: stage
	ApprovalDecisions *prometheus.CounterVec   // label: decision (approved, rejected, timeout)
}

// NewMetrics registers the pipeline metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "surveyci_runs_started_total",
			Help: "Pipeline runs started.",
		}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "surveyci_runs_completed_total",
			Help: "Pipeline runs finished, by terminal status.",
		}, []string{"status"}),
		RunsSuperseded: factory.NewCounter(prometheus.CounterOpts{
			Name: "surveyci_runs_superseded_total",
			Help: "Runs cancelled because a newer trigger arrived for the branch.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surveyci_stage_duration_seconds",
			Help:    "Wall-clock duration of executed stages.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"stage"}),
		StagesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "surveyci_stages_skipped_total",
			Help: "Stages skipped because their gating predicate was unmet.",
		}, []string{"stage"}),
		ApprovalDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "surveyci_approval_decisions_total",
			Help: "Production approval gate outcomes.",
		}, []string{"decision"}),
	}
}
