package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	metricspkg "github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/metrics"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
)

// Execute starts a pipeline run from the first job. A terminal pipeline may
// be re-executed; that resets every job to pending and clears the previous
// run's logs. Pipelines that are running or waiting at a gate are refused.
func (e *Engine) Execute(ctx context.Context, pipelineID string) error {
	p, err := e.getPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}
	if e.isRunning(pipelineID) || p.Status == models.PipelineRunning {
		return fmt.Errorf("pipeline %s is already running", pipelineID)
	}
	if p.Status == models.PipelineWaiting {
		return fmt.Errorf("pipeline %s is waiting for approval", pipelineID)
	}

	// Re-entrant run: previous job state and logs do not accumulate.
	for i := range p.Jobs {
		p.Jobs[i].Status = models.JobPending
		p.Jobs[i].Duration = ""
		p.Jobs[i].FailureReason = ""
	}
	now := time.Now().UTC()
	p.Status = models.PipelineRunning
	p.Progress = 0
	p.ExecutedAt = &now
	p.TotalDuration = ""
	p.WaitingAtJobIndex = nil
	p.FailureReason = ""
	e.clearPipelineLogs(ctx, pipelineID)

	if err := e.savePipeline(ctx, p); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(e.baseContext())
	if !e.markRunning(pipelineID, cancel) {
		cancel()
		return fmt.Errorf("pipeline %s is already running", pipelineID)
	}

	engineLogger.WithFields(logrus.Fields{
		"pipeline_id": p.ID,
		"jobs":        len(p.Jobs),
	}).Info("executing pipeline")

	e.bgWG.Add(1)
	go e.runFrom(runCtx, p, 0)
	return nil
}

// Resume continues a waiting pipeline after its gate at fromIndex was
// approved, starting at fromIndex+1. It works purely from durable state: if
// the pipeline is absent from memory it is rehydrated from the store first.
func (e *Engine) Resume(ctx context.Context, pipelineID string, fromIndex int) error {
	p, err := e.getPipeline(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("cannot resume: %w", err)
	}
	if e.isRunning(pipelineID) {
		return fmt.Errorf("pipeline %s is already running", pipelineID)
	}
	if fromIndex < 0 || fromIndex >= len(p.Jobs) {
		return fmt.Errorf("resume index %d out of range for pipeline %s", fromIndex, pipelineID)
	}

	if p.Jobs[fromIndex].JobType == models.JobTypeApproval {
		p.Jobs[fromIndex].Status = models.JobApproved
	}
	p.Status = models.PipelineRunning
	p.WaitingAtJobIndex = nil
	p.Progress = (fromIndex + 1) * 100 / len(p.Jobs)
	if err := e.savePipeline(ctx, p); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(e.baseContext())
	if !e.markRunning(pipelineID, cancel) {
		cancel()
		return fmt.Errorf("pipeline %s is already running", pipelineID)
	}

	engineLogger.WithFields(logrus.Fields{
		"pipeline_id": p.ID,
		"from_index":  fromIndex,
	}).Info("resuming pipeline")

	e.bgWG.Add(1)
	go e.runFrom(runCtx, p, fromIndex+1)
	return nil
}

// runFrom advances the job sequence from startIdx. It is the only writer for
// its pipeline while the run is in flight. Suspension points (between log
// lines, between jobs, at gates) never block other pipelines.
func (e *Engine) runFrom(ctx context.Context, p models.Pipeline, startIdx int) {
	defer e.bgWG.Done()
	defer e.clearRunning(p.ID)

	for i := startIdx; i < len(p.Jobs); i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.Jobs[i].JobType == models.JobTypeApproval {
			// Hand off and return: the run is suspended, no goroutine is
			// held waiting for the decision.
			if err := e.coordinator.requestApproval(ctx, p, i); err != nil {
				engineLogger.WithError(err).WithField("pipeline_id", p.ID).
					Error("failed to request approval")
			}
			return
		}

		if i > startIdx && e.cfg.JobInterval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.JobInterval):
			}
		}

		job := &p.Jobs[i]
		job.Status = models.JobRunning
		if err := e.savePipeline(ctx, p); err != nil {
			engineLogger.WithError(err).WithField("pipeline_id", p.ID).Warn("state write failed mid-run")
		}

		jobID := job.JobID
		res, err := e.runner.Run(ctx, *job, func(message string) {
			e.appendPipelineLog(ctx, p.ID, jobID, message)
		})
		if err != nil {
			// Run context cancelled: the pipeline was deleted or the
			// process is shutting down. Committed state stays as-is.
			engineLogger.WithError(err).WithField("pipeline_id", p.ID).Debug("job run interrupted")
			return
		}
		metricspkg.ObserveJobExecution(string(job.JobType), string(res.Status))

		if res.Status == models.JobFailed {
			job.Status = models.JobFailed
			job.FailureReason = res.FailureReason
			p.Status = models.PipelineFailed
			p.FailureReason = fmt.Sprintf("job %q failed: %s", job.JobName, res.FailureReason)
			if err := e.savePipeline(ctx, p); err != nil {
				engineLogger.WithError(err).WithField("pipeline_id", p.ID).Warn("state write failed mid-run")
			}
			metricspkg.ObservePipelineRun("failed")
			engineLogger.WithFields(logrus.Fields{
				"pipeline_id": p.ID,
				"job_id":      job.JobID,
				"reason":      res.FailureReason,
			}).Warn("pipeline failed")
			return
		}

		job.Status = models.JobCompleted
		job.Duration = res.Duration.Round(time.Millisecond).String()
		p.Progress = (i + 1) * 100 / len(p.Jobs)
		if err := e.savePipeline(ctx, p); err != nil {
			engineLogger.WithError(err).WithField("pipeline_id", p.ID).Warn("state write failed mid-run")
		}
	}

	p.Status = models.PipelineCompleted
	p.Progress = 100
	if p.ExecutedAt != nil {
		p.TotalDuration = time.Since(*p.ExecutedAt).Round(time.Millisecond).String()
	}
	if err := e.savePipeline(ctx, p); err != nil {
		engineLogger.WithError(err).WithField("pipeline_id", p.ID).Warn("state write failed mid-run")
	}
	metricspkg.ObservePipelineRun("completed")
	engineLogger.WithField("pipeline_id", p.ID).Info("pipeline completed")
}

// DeletePipeline removes a pipeline and everything owned by it: any in-flight
// run is stopped, its pending approval and recheck timer are discarded, and
// its run log is dropped. Approval history survives as the audit trail.
func (e *Engine) DeletePipeline(ctx context.Context, pipelineID string) error {
	if _, err := e.getPipeline(ctx, pipelineID); err != nil {
		return err
	}

	e.clearRunning(pipelineID)
	e.coordinator.cancelRecheck(pipelineID)

	if pa, found, err := e.findPendingForPipeline(ctx, pipelineID); err != nil {
		storeLogger.WithError(err).WithField("pipeline_id", pipelineID).Warn("failed to look up pending approval during delete")
	} else if found {
		if err := e.deletePendingApproval(ctx, pa.ID); err != nil {
			storeLogger.WithError(err).WithField("approval_id", pa.ID).Warn("failed to remove pending approval during delete")
		}
	}

	if err := e.store.Delete(ctx, pipelineKey(pipelineID)); err != nil {
		return fmt.Errorf("delete pipeline %s: %w", pipelineID, err)
	}
	e.clearPipelineLogs(ctx, pipelineID)
	e.dropFromCache(pipelineID)

	engineLogger.WithField("pipeline_id", pipelineID).Info("deleted pipeline")
	return nil
}
