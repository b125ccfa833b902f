// Copyright 2025 Certen Protocol
//
// Package metrics exposes the relayer's Prometheus instrumentation.
// The teacher depends on client_golang without wiring it; here it
// defines and registers counters and histograms for compliance
// decisions, submission outcomes, retries, and reconciliation. No
// component updates them: cmd/relayer registers them and serves
// /metrics, so they stay at their zero values.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the relayer's metric collectors as exported fields; it
// has no methods of its own.
type Registry struct {
	TransfersSubmitted   *prometheus.CounterVec
	ComplianceDecisions  *prometheus.CounterVec
	SubmissionAttempts   *prometheus.CounterVec
	SubmissionRetries    prometheus.Counter
	ReconciliationRuns   prometheus.Counter
	ReconciliationFixed  *prometheus.CounterVec
	ClaimBatchSize       prometheus.Histogram
	SubmissionLatency    prometheus.Histogram
	BlocklistSize        prometheus.Gauge
}

// New registers and returns a Registry against reg. Pass
// prometheus.NewRegistry() for tests, prometheus.DefaultRegisterer in
// production.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		TransfersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "transfers_submitted_total",
			Help:      "Transfer submission requests accepted by the intake service, by outcome.",
		}, []string{"outcome"}),

		ComplianceDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "compliance_decisions_total",
			Help:      "Compliance gate verdicts, by decision and reason class.",
		}, []string{"decision", "reason"}),

		SubmissionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "submission_attempts_total",
			Help:      "Chain submission attempts made by the submission worker, by result.",
		}, []string{"result"}),

		SubmissionRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "submission_retries_total",
			Help:      "Retries scheduled by the submission worker.",
		}),

		ReconciliationRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "reconciliation_runs_total",
			Help:      "Reconciliation crank passes executed.",
		}),

		ReconciliationFixed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "reconciliation_resolutions_total",
			Help:      "Stale submitted rows resolved by the reconciliation crank, by resolution.",
		}, []string{"resolution"}),

		ClaimBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayer",
			Name:      "claim_batch_size",
			Help:      "Number of records claimed per submission worker tick.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		SubmissionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayer",
			Name:      "submission_latency_seconds",
			Help:      "Time from claim to chain submission per record.",
			Buckets:   prometheus.DefBuckets,
		}),

		BlocklistSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relayer",
			Name:      "blocklist_entries",
			Help:      "Entries currently held in the in-memory blocklist cache.",
		}),
	}
}
