package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/logging"
	metricspkg "github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/metrics"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
)

var approvalLogger = logging.C("engine.approvals")

// Coordinator bridges the synchronous state machine and the asynchronous
// approver actor. It owns the pending-approval records and an explicit map of
// per-pipeline recheck timers; no ambient registries.
type Coordinator struct {
	engine *Engine

	mu       sync.Mutex
	rechecks map[string]*time.Timer
}

func NewCoordinator(e *Engine) *Coordinator {
	return &Coordinator{
		engine:   e,
		rechecks: make(map[string]*time.Timer),
	}
}

// requestApproval persists a pending approval for the gate at jobIndex and
// parks the pipeline in waiting state. A pipeline cannot be waiting at two
// gates at once: a second pending record for the same pipeline is refused as
// a consistency error.
func (c *Coordinator) requestApproval(ctx context.Context, p models.Pipeline, jobIndex int) error {
	if existing, found, err := c.engine.findPendingForPipeline(ctx, p.ID); err != nil {
		return err
	} else if found {
		approvalLogger.WithFields(logrus.Fields{
			"pipeline_id":          p.ID,
			"existing_approval_id": existing.ID,
		}).Error("refusing duplicate pending approval for pipeline")
		return fmt.Errorf("pipeline %s already has a pending approval %s", p.ID, existing.ID)
	}

	gate := p.Jobs[jobIndex]
	now := time.Now().UTC()

	idx := jobIndex
	p.Jobs[jobIndex].Status = models.JobWaiting
	p.Status = models.PipelineWaiting
	p.WaitingAtJobIndex = &idx
	if err := c.engine.savePipeline(ctx, p); err != nil {
		approvalLogger.WithError(err).WithField("pipeline_id", p.ID).Warn("state write failed while entering waiting state")
	}

	pa := models.PendingApproval{
		// Creation time in the id keeps repeated visits to the same gate
		// distinct across re-executions.
		ID:                fmt.Sprintf("%s-%d-%d", p.ID, jobIndex, now.UnixNano()),
		PipelineID:        p.ID,
		PipelineName:      p.Name,
		JobID:             gate.JobID,
		JobName:           gate.JobName,
		ApprovalStepIndex: jobIndex,
		Jobs:              append([]models.Job(nil), p.Jobs...),
		Status:            models.ApprovalPending,
		RequestedAt:       now,
	}
	if err := c.engine.savePendingApproval(ctx, pa); err != nil {
		return err
	}

	c.registerRecheck(p.ID)

	approvalLogger.WithFields(logrus.Fields{
		"pipeline_id": p.ID,
		"approval_id": pa.ID,
		"step_index":  jobIndex,
	}).Info("pipeline waiting for approval")

	if err := c.engine.RefreshStateMetrics(ctx); err != nil {
		approvalLogger.WithError(err).Warn("failed to refresh engine state metrics")
	}
	return nil
}

// Decide records an in-band approver decision on a pending approval and
// resolves it immediately. Decisions may also land out-of-band, written
// straight to the store by another session; those are picked up by the
// reconciliation loop instead.
func (c *Coordinator) Decide(ctx context.Context, approvalID string, decision models.ApprovalStatus, notes string) error {
	if decision != models.ApprovalApproved && decision != models.ApprovalRejected {
		return fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	pa, found, err := c.engine.GetPendingApproval(ctx, approvalID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("approval %s: %w", approvalID, ErrApprovalNotFound)
	}
	if pa.Status != models.ApprovalPending {
		return fmt.Errorf("approval %s: %w", approvalID, ErrAlreadyDecided)
	}

	pa.Status = decision
	pa.ApproverNotes = notes
	if err := c.engine.savePendingApproval(ctx, pa); err != nil {
		return err
	}
	return c.OnApprovalResolved(ctx, approvalID)
}

// OnApprovalResolved consumes a resolved pending approval: exactly one of
// resume or fail happens per record. The call is idempotent -- if the durable
// record is gone or still pending when re-observed, it is a no-op, so the
// periodic loop and the recheck timer may both fire harmlessly.
func (c *Coordinator) OnApprovalResolved(ctx context.Context, approvalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pa, found, err := c.engine.GetPendingApproval(ctx, approvalID)
	if err != nil {
		return err
	}
	if !found || pa.Status == models.ApprovalPending {
		return nil
	}
	decision := pa.Status

	// Consume first: once the record is gone, concurrent observers no-op.
	if err := c.engine.deletePendingApproval(ctx, approvalID); err != nil {
		return err
	}
	c.engine.appendApprovalHistory(ctx, pa, decision)
	c.cancelRecheckLocked(pa.PipelineID)
	metricspkg.ObserveApprovalResolved(string(decision))

	if decision == models.ApprovalApproved {
		approvalLogger.WithFields(logrus.Fields{
			"pipeline_id": pa.PipelineID,
			"approval_id": pa.ID,
		}).Info("approval granted, resuming pipeline")
		if err := c.engine.Resume(ctx, pa.PipelineID, pa.ApprovalStepIndex); err != nil {
			approvalLogger.WithError(err).WithField("pipeline_id", pa.PipelineID).Error("failed to resume approved pipeline")
			return err
		}
		if err := c.engine.RefreshStateMetrics(ctx); err != nil {
			approvalLogger.WithError(err).Warn("failed to refresh engine state metrics")
		}
		return nil
	}

	p, err := c.engine.getPipeline(ctx, pa.PipelineID)
	if err != nil {
		approvalLogger.WithError(err).WithField("pipeline_id", pa.PipelineID).Warn("rejected approval references missing pipeline")
		return nil
	}
	if pa.ApprovalStepIndex >= 0 && pa.ApprovalStepIndex < len(p.Jobs) {
		p.Jobs[pa.ApprovalStepIndex].Status = models.JobRejected
	}
	p.Status = models.PipelineFailed
	p.WaitingAtJobIndex = nil
	p.FailureReason = fmt.Sprintf("approval %q rejected at step %d", pa.JobName, pa.ApprovalStepIndex)
	if err := c.engine.savePipeline(ctx, p); err != nil {
		approvalLogger.WithError(err).WithField("pipeline_id", p.ID).Warn("state write failed while failing pipeline")
	}
	metricspkg.ObservePipelineRun("rejected")
	approvalLogger.WithFields(logrus.Fields{
		"pipeline_id": p.ID,
		"step":        pa.JobName,
	}).Warn("pipeline failed: approval rejected")

	if err := c.engine.RefreshStateMetrics(ctx); err != nil {
		approvalLogger.WithError(err).Warn("failed to refresh engine state metrics")
	}
	return nil
}

// registerRecheck arms the redundant per-pipeline detection path. The
// primary reconciliation loop usually wins; both converge on the same
// idempotent resolution call.
func (c *Coordinator) registerRecheck(pipelineID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, exists := c.rechecks[pipelineID]; exists {
		t.Stop()
	}
	c.rechecks[pipelineID] = time.AfterFunc(c.engine.cfg.ApprovalRecheckInterval, func() {
		c.recheck(pipelineID)
	})
}

func (c *Coordinator) recheck(pipelineID string) {
	ctx := c.engine.baseContext()
	approvals, err := c.engine.ListPendingApprovals(ctx)
	if err != nil {
		approvalLogger.WithError(err).WithField("pipeline_id", pipelineID).Warn("recheck failed to list approvals")
		return
	}
	for _, pa := range approvals {
		if pa.PipelineID != pipelineID {
			continue
		}
		if pa.Status == models.ApprovalPending {
			c.registerRecheck(pipelineID)
			return
		}
		if err := c.OnApprovalResolved(ctx, pa.ID); err != nil {
			approvalLogger.WithError(err).WithField("approval_id", pa.ID).Warn("recheck resolution failed")
		}
		return
	}
	// Nothing left to watch for this pipeline.
	c.cancelRecheck(pipelineID)
}

func (c *Coordinator) cancelRecheck(pipelineID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRecheckLocked(pipelineID)
}

func (c *Coordinator) cancelRecheckLocked(pipelineID string) {
	if t, exists := c.rechecks[pipelineID]; exists {
		t.Stop()
		delete(c.rechecks, pipelineID)
	}
}
