package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/logging"
	metricspkg "github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/metrics"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
)

var reconcilerLogger = logging.C("engine.reconciler")

// Reconciler periodically re-derives approval state from the store. It is
// how a decision made in a different session becomes visible to the engine
// without a push channel.
type Reconciler struct {
	engine *Engine
}

func NewReconciler(e *Engine) *Reconciler {
	return &Reconciler{engine: e}
}

// ReconcileOnce performs a single pass: pending-approval records are read in
// creation order, filtered to pipelines currently waiting, and any record
// whose status left pending is handed to the coordinator.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (resolved int, err error) {
	approvals, err := r.engine.ListPendingApprovals(ctx)
	if err != nil {
		return 0, err
	}

	for _, pa := range approvals {
		if pa.Status == models.ApprovalPending {
			continue
		}
		p, getErr := r.engine.getPipeline(ctx, pa.PipelineID)
		if getErr != nil {
			reconcilerLogger.WithError(getErr).WithField("approval_id", pa.ID).
				Warn("pending approval references unknown pipeline")
			continue
		}
		if p.Status != models.PipelineWaiting {
			continue
		}
		if resErr := r.engine.coordinator.OnApprovalResolved(ctx, pa.ID); resErr != nil {
			reconcilerLogger.WithError(resErr).WithField("approval_id", pa.ID).
				Warn("failed to process resolved approval")
			continue
		}
		resolved++
	}
	return resolved, nil
}

// StartReconciliationLoop runs ReconcileOnce on a ticker until ctx is done.
func (r *Reconciler) StartReconciliationLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reconcilerLogger.WithField("interval", interval.String()).Info("starting reconciliation loop")
	for {
		select {
		case <-ctx.Done():
			reconcilerLogger.Info("stopping reconciliation loop")
			return
		case <-ticker.C:
			cycleStart := time.Now()
			resolved, err := r.ReconcileOnce(ctx)
			metricspkg.ObserveReconciliationCycle(time.Since(cycleStart), err)
			if err != nil {
				reconcilerLogger.WithError(err).Error("reconciliation cycle failed")
				continue
			}
			if resolved > 0 {
				reconcilerLogger.WithFields(logrus.Fields{
					"resolved": resolved,
				}).Info("reconciliation cycle summary")
			}
			if err := r.engine.RefreshStateMetrics(ctx); err != nil {
				reconcilerLogger.WithError(err).Warn("failed to refresh engine state metrics")
			}
		}
	}
}

// Stats summarizes the approval backlog for operational endpoints.
func (r *Reconciler) Stats(ctx context.Context) (map[string]interface{}, error) {
	approvals, err := r.engine.ListPendingApprovals(ctx)
	if err != nil {
		return nil, err
	}
	pipelines, err := r.engine.GetPipelines(ctx)
	if err != nil {
		return nil, err
	}

	pending := 0
	oldest := time.Time{}
	for _, pa := range approvals {
		if pa.Status != models.ApprovalPending {
			continue
		}
		pending++
		if oldest.IsZero() || pa.RequestedAt.Before(oldest) {
			oldest = pa.RequestedAt
		}
	}
	waiting := 0
	running := 0
	for _, p := range pipelines {
		switch p.Status {
		case models.PipelineWaiting:
			waiting++
		case models.PipelineRunning:
			running++
		}
	}

	stats := map[string]interface{}{
		"pendingApprovals":   pending,
		"waitingPipelines":   waiting,
		"runningPipelines":   running,
		"oldestPendingSince": "",
	}
	if !oldest.IsZero() {
		stats["oldestPendingSince"] = oldest.Format(time.RFC3339)
	}
	return stats, nil
}
