package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsSubmitted *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	allocations   *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	ledgerCalls   *prometheus.CounterVec

	runDuration   *prometheus.HistogramVec
	stepDuration  *prometheus.HistogramVec
	ledgerLatency *prometheus.HistogramVec

	activeRuns        prometheus.Gauge
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *Collector {
	return &Collector{
		runsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_runs_submitted_total",
				Help: "Total number of runs submitted",
			},
			[]string{"status"},
		),
		runsFinished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_runs_finished_total",
				Help: "Total number of runs finished",
			},
			[]string{"status"},
		),
		allocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_allocations_total",
				Help: "Total number of budget allocations",
			},
			[]string{"role"},
		),
		settlements: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_settlements_total",
				Help: "Total number of settlements",
			},
			[]string{"role", "status"},
		),
		fallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_fallbacks_total",
				Help: "Total number of degraded step outputs",
			},
			[]string{"role"},
		),
		ledgerCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_ledger_calls_total",
				Help: "Total number of ledger calls",
			},
			[]string{"operation", "outcome"},
		),
		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		stepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_step_duration_seconds",
				Help:    "Step execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"role"},
		),
		ledgerLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_ledger_latency_seconds",
				Help:    "Ledger call latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		activeRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpay_active_runs",
				Help: "Number of currently active runs",
			},
		),
		workerPoolIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpay_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpay_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpay_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordRunSubmitted increments the count of submitted runs
func (c *Collector) RecordRunSubmitted(status string) {
	c.runsSubmitted.WithLabelValues(status).Inc()
}

// RecordRunFinished increments the finished counter and observes duration
func (c *Collector) RecordRunFinished(status string, seconds float64) {
	c.runsFinished.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(seconds)
}

// RecordAllocation increments the allocation counter for a role
func (c *Collector) RecordAllocation(role string) {
	c.allocations.WithLabelValues(role).Inc()
}

// RecordSettlement increments the settlement counter for a role and outcome
func (c *Collector) RecordSettlement(role, status string) {
	c.settlements.WithLabelValues(role, status).Inc()
}

// RecordFallback increments the degraded output counter for a role
func (c *Collector) RecordFallback(role string) {
	c.fallbacks.WithLabelValues(role).Inc()
}

// RecordStepDuration observes a step execution duration
func (c *Collector) RecordStepDuration(role string, seconds float64) {
	c.stepDuration.WithLabelValues(role).Observe(seconds)
}

// RecordLedgerCall records a ledger call outcome and latency
func (c *Collector) RecordLedgerCall(op, outcome string, seconds float64) {
	c.ledgerCalls.WithLabelValues(op, outcome).Inc()
	c.ledgerLatency.WithLabelValues(op).Observe(seconds)
}

// SetActiveRuns sets the active run gauge
func (c *Collector) SetActiveRuns(n int) {
	c.activeRuns.Set(float64(n))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
