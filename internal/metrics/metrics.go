package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlpad",
			Subsystem: "pipeline_engine",
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs grouped by terminal outcome.",
		},
		[]string{"outcome"},
	)
	jobsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlpad",
			Subsystem: "pipeline_engine",
			Name:      "jobs_executed_total",
			Help:      "Total number of jobs executed grouped by type and terminal status.",
		},
		[]string{"type", "status"},
	)
	approvalsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlpad",
			Subsystem: "pipeline_engine",
			Name:      "approvals_resolved_total",
			Help:      "Count of resolved approval gates grouped by decision.",
		},
		[]string{"decision"},
	)
	pendingApprovalsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mlpad",
			Subsystem: "pipeline_engine",
			Name:      "pending_approvals",
			Help:      "Current number of approval gates awaiting a decision.",
		},
	)
	pipelineStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mlpad",
			Subsystem: "pipeline_engine",
			Name:      "pipelines_status",
			Help:      "Current number of pipelines grouped by status.",
		},
		[]string{"status"},
	)
	reconciliationCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mlpad",
			Subsystem: "pipeline_engine",
			Name:      "reconciliation_cycle_duration_seconds",
			Help:      "Duration of full reconciliation cycles.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	reconciliationCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlpad",
			Subsystem: "pipeline_engine",
			Name:      "reconciliation_cycles_total",
			Help:      "Total number of reconciliation cycles.",
		},
		[]string{"result"},
	)
)

var defaultPipelineStatuses = []string{"created", "running", "completed", "failed", "waiting"}

func init() {
	Register()
}

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			pipelineRunsTotal,
			jobsExecutedTotal,
			approvalsResolvedTotal,
			pendingApprovalsGauge,
			pipelineStatusGauge,
			reconciliationCycleDuration,
			reconciliationCyclesTotal,
		)

		for _, s := range defaultPipelineStatuses {
			pipelineStatusGauge.WithLabelValues(s).Set(0)
		}
	})
}

func ObservePipelineRun(outcome string) {
	pipelineRunsTotal.WithLabelValues(outcome).Inc()
}

func ObserveJobExecution(jobType, status string) {
	jobsExecutedTotal.WithLabelValues(jobType, status).Inc()
}

func ObserveApprovalResolved(decision string) {
	approvalsResolvedTotal.WithLabelValues(decision).Inc()
}

func SetPendingApprovals(count int) {
	pendingApprovalsGauge.Set(float64(count))
}

func SetPipelineStatusCounts(counts map[string]int) {
	for _, s := range defaultPipelineStatuses {
		pipelineStatusGauge.WithLabelValues(s).Set(0)
	}
	for status, count := range counts {
		pipelineStatusGauge.WithLabelValues(status).Set(float64(count))
	}
}

func ObserveReconciliationCycle(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	reconciliationCyclesTotal.WithLabelValues(result).Inc()
	reconciliationCycleDuration.Observe(duration.Seconds())
}
