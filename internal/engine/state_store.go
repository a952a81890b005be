package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
)

// Logical key prefixes. Views read these same keys to render state, so the
// layout below is the wire contract to the rest of the system.
const (
	pipelinesPrefix        = "/pipelines/"
	pipelineLogsPrefix     = "/pipeline-logs/"
	pendingApprovalsPrefix = "/approvals/pending/"
	approvalHistoryPrefix  = "/approvals/history/"
)

func pipelineKey(pipelineID string) string     { return pipelinesPrefix + pipelineID }
func pipelineLogsKey(pipelineID string) string { return pipelineLogsPrefix + pipelineID }
func pendingApprovalKey(approvalID string) string {
	return pendingApprovalsPrefix + approvalID
}
func approvalHistoryKey(historyID string) string { return approvalHistoryPrefix + historyID }

// savePipeline writes the pipeline through to the store and refreshes the
// in-memory cache. On a store failure the cache copy stays authoritative for
// the session and the error is surfaced to the caller to decide on.
func (e *Engine) savePipeline(ctx context.Context, p models.Pipeline) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pipeline %s: %w", p.ID, err)
	}

	e.mu.Lock()
	clone := p
	clone.Jobs = append([]models.Job(nil), p.Jobs...)
	e.pipelines[p.ID] = &clone
	e.mu.Unlock()

	if err := e.store.Set(ctx, pipelineKey(p.ID), payload); err != nil {
		storeLogger.WithError(err).WithField("pipeline_id", p.ID).Warn("failed to persist pipeline")
		return fmt.Errorf("persist pipeline %s: %w", p.ID, err)
	}
	return nil
}

// getPipeline returns the cached copy when present and otherwise rehydrates
// from the store, so lookups keep working across process restarts.
func (e *Engine) getPipeline(ctx context.Context, pipelineID string) (models.Pipeline, error) {
	e.mu.Lock()
	cached, ok := e.pipelines[pipelineID]
	if ok {
		p := *cached
		p.Jobs = append([]models.Job(nil), cached.Jobs...)
		e.mu.Unlock()
		return p, nil
	}
	e.mu.Unlock()

	val, found, err := e.store.Get(ctx, pipelineKey(pipelineID))
	if err != nil {
		return models.Pipeline{}, fmt.Errorf("get pipeline %s: %w", pipelineID, err)
	}
	if !found {
		return models.Pipeline{}, fmt.Errorf("pipeline %s: %w", pipelineID, ErrPipelineNotFound)
	}
	var p models.Pipeline
	if err := json.Unmarshal(val, &p); err != nil {
		return models.Pipeline{}, fmt.Errorf("unmarshal pipeline %s: %w", pipelineID, err)
	}

	e.mu.Lock()
	clone := p
	clone.Jobs = append([]models.Job(nil), p.Jobs...)
	e.pipelines[p.ID] = &clone
	e.mu.Unlock()
	return p, nil
}

// CreatePipeline persists a freshly authored pipeline. Creation reports
// success only once the store write is confirmed; an unsaved run definition
// must not be silently lost.
func (e *Engine) CreatePipeline(ctx context.Context, projectID, name string, jobs []models.Job) (models.Pipeline, error) {
	if name == "" {
		return models.Pipeline{}, fmt.Errorf("pipeline name is required")
	}
	if len(jobs) == 0 {
		return models.Pipeline{}, fmt.Errorf("pipeline requires at least one job")
	}
	for i := range jobs {
		if jobs[i].JobID == "" {
			jobs[i].JobID = uuid.NewString()
		}
		jobs[i].Status = models.JobPending
		jobs[i].Duration = ""
		jobs[i].FailureReason = ""
	}

	p := models.Pipeline{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      name,
		Jobs:      jobs,
		Status:    models.PipelineCreated,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.savePipeline(ctx, p); err != nil {
		return models.Pipeline{}, err
	}
	engineLogger.WithField("pipeline_id", p.ID).Info("created pipeline")
	return p, nil
}

// GetPipelineByID retrieves a pipeline, rehydrating from the store if needed.
func (e *Engine) GetPipelineByID(ctx context.Context, pipelineID string) (models.Pipeline, error) {
	return e.getPipeline(ctx, pipelineID)
}

// GetPipelines retrieves all pipelines from the store.
func (e *Engine) GetPipelines(ctx context.Context) ([]models.Pipeline, error) {
	kvs, err := e.store.List(ctx, pipelinesPrefix)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	pipelines := make([]models.Pipeline, 0, len(kvs))
	for _, kv := range kvs {
		var p models.Pipeline
		if err := json.Unmarshal(kv.Value, &p); err != nil {
			storeLogger.WithError(err).WithField("key", kv.Key).Warn("failed to unmarshal pipeline data")
			continue
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}

// appendPipelineLog appends one line to the pipeline's durable log list with
// the next monotonically increasing index. Each pipeline run has a single
// writer goroutine, so the read-modify-write needs no extra coordination.
func (e *Engine) appendPipelineLog(ctx context.Context, pipelineID, jobID, message string) {
	lines, err := e.GetPipelineLogs(ctx, pipelineID)
	if err != nil {
		storeLogger.WithError(err).WithField("pipeline_id", pipelineID).Warn("failed to read pipeline logs")
		return
	}
	lines = append(lines, models.LogLine{
		Index:     len(lines),
		JobID:     jobID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	payload, err := json.Marshal(lines)
	if err != nil {
		storeLogger.WithError(err).WithField("pipeline_id", pipelineID).Warn("failed to marshal pipeline logs")
		return
	}
	if err := e.store.Set(ctx, pipelineLogsKey(pipelineID), payload); err != nil {
		storeLogger.WithError(err).WithField("pipeline_id", pipelineID).Warn("failed to persist pipeline logs")
	}
}

// GetPipelineLogs returns the pipeline's durable run log in order.
func (e *Engine) GetPipelineLogs(ctx context.Context, pipelineID string) ([]models.LogLine, error) {
	val, found, err := e.store.Get(ctx, pipelineLogsKey(pipelineID))
	if err != nil {
		return nil, fmt.Errorf("get pipeline logs %s: %w", pipelineID, err)
	}
	if !found {
		return []models.LogLine{}, nil
	}
	var lines []models.LogLine
	if err := json.Unmarshal(val, &lines); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline logs %s: %w", pipelineID, err)
	}
	return lines, nil
}

func (e *Engine) clearPipelineLogs(ctx context.Context, pipelineID string) {
	if err := e.store.Delete(ctx, pipelineLogsKey(pipelineID)); err != nil {
		storeLogger.WithError(err).WithField("pipeline_id", pipelineID).Warn("failed to clear pipeline logs")
	}
}

func (e *Engine) savePendingApproval(ctx context.Context, pa models.PendingApproval) error {
	payload, err := json.Marshal(pa)
	if err != nil {
		return fmt.Errorf("marshal pending approval %s: %w", pa.ID, err)
	}
	if err := e.store.Set(ctx, pendingApprovalKey(pa.ID), payload); err != nil {
		return fmt.Errorf("persist pending approval %s: %w", pa.ID, err)
	}
	return nil
}

// GetPendingApproval reads one pending-approval record from the store.
// The second return reports whether the record still exists.
func (e *Engine) GetPendingApproval(ctx context.Context, approvalID string) (models.PendingApproval, bool, error) {
	val, found, err := e.store.Get(ctx, pendingApprovalKey(approvalID))
	if err != nil {
		return models.PendingApproval{}, false, fmt.Errorf("get pending approval %s: %w", approvalID, err)
	}
	if !found {
		return models.PendingApproval{}, false, nil
	}
	var pa models.PendingApproval
	if err := json.Unmarshal(val, &pa); err != nil {
		return models.PendingApproval{}, false, fmt.Errorf("unmarshal pending approval %s: %w", approvalID, err)
	}
	return pa, true, nil
}

// ListPendingApprovals returns all pending-approval records in creation
// order, so multiple approvals resolving between two reconciliation passes
// are always processed deterministically.
func (e *Engine) ListPendingApprovals(ctx context.Context) ([]models.PendingApproval, error) {
	kvs, err := e.store.List(ctx, pendingApprovalsPrefix)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	approvals := make([]models.PendingApproval, 0, len(kvs))
	for _, kv := range kvs {
		var pa models.PendingApproval
		if err := json.Unmarshal(kv.Value, &pa); err != nil {
			storeLogger.WithError(err).WithField("key", kv.Key).Warn("failed to unmarshal pending approval")
			continue
		}
		approvals = append(approvals, pa)
	}
	sort.Slice(approvals, func(i, j int) bool {
		if approvals[i].RequestedAt.Equal(approvals[j].RequestedAt) {
			return approvals[i].ID < approvals[j].ID
		}
		return approvals[i].RequestedAt.Before(approvals[j].RequestedAt)
	})
	return approvals, nil
}

// findPendingForPipeline returns the pipeline's outstanding approval record,
// if any. The data model allows at most one per pipeline.
func (e *Engine) findPendingForPipeline(ctx context.Context, pipelineID string) (models.PendingApproval, bool, error) {
	approvals, err := e.ListPendingApprovals(ctx)
	if err != nil {
		return models.PendingApproval{}, false, err
	}
	for _, pa := range approvals {
		if pa.PipelineID == pipelineID && pa.Status == models.ApprovalPending {
			return pa, true, nil
		}
	}
	return models.PendingApproval{}, false, nil
}

func (e *Engine) deletePendingApproval(ctx context.Context, approvalID string) error {
	if err := e.store.Delete(ctx, pendingApprovalKey(approvalID)); err != nil {
		return fmt.Errorf("delete pending approval %s: %w", approvalID, err)
	}
	return nil
}

// appendApprovalHistory records the audit entry for a resolved approval.
// History entries are never mutated afterwards.
func (e *Engine) appendApprovalHistory(ctx context.Context, pa models.PendingApproval, decision models.ApprovalStatus) models.ApprovalHistory {
	entry := models.ApprovalHistory{
		ID:           uuid.NewString(),
		PipelineID:   pa.PipelineID,
		PipelineName: pa.PipelineName,
		JobName:      pa.JobName,
		Status:       decision,
		RequestedAt:  pa.RequestedAt,
		DecidedAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		storeLogger.WithError(err).WithField("approval_id", pa.ID).Warn("failed to marshal approval history entry")
		return entry
	}
	if err := e.store.Set(ctx, approvalHistoryKey(entry.ID), payload); err != nil {
		storeLogger.WithError(err).WithField("approval_id", pa.ID).Warn("failed to persist approval history entry")
	}
	return entry
}

// ListApprovalHistory returns the audit trail, most recent decision first.
func (e *Engine) ListApprovalHistory(ctx context.Context) ([]models.ApprovalHistory, error) {
	kvs, err := e.store.List(ctx, approvalHistoryPrefix)
	if err != nil {
		return nil, fmt.Errorf("list approval history: %w", err)
	}
	entries := make([]models.ApprovalHistory, 0, len(kvs))
	for _, kv := range kvs {
		var entry models.ApprovalHistory
		if err := json.Unmarshal(kv.Value, &entry); err != nil {
			storeLogger.WithError(err).WithField("key", kv.Key).Warn("failed to unmarshal approval history entry")
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DecidedAt.After(entries[j].DecidedAt)
	})
	return entries, nil
}

// DeleteApprovalHistory removes a single audit entry, a user housekeeping
// action.
func (e *Engine) DeleteApprovalHistory(ctx context.Context, historyID string) error {
	if err := e.store.Delete(ctx, approvalHistoryKey(historyID)); err != nil {
		return fmt.Errorf("delete approval history %s: %w", historyID, err)
	}
	return nil
}
