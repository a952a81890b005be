package models

import (
	"time"
)

// JobType identifies the kind of work a job performs. The approval type is
// synthetic: it carries no work and exists only to pause the pipeline until a
// human decision is recorded.
type JobType string

const (
	JobTypeIngestion   JobType = "ingestion"
	JobTypePreparation JobType = "preparation"
	JobTypeTraining    JobType = "training"
	JobTypeRegistry    JobType = "registry"
	JobTypeDeployment  JobType = "deployment"
	JobTypeInferencing JobType = "inferencing"
	JobTypeMonitoring  JobType = "monitoring"
	JobTypeApproval    JobType = "approval"
)

// JobStatus values move monotonically within a single run:
// pending -> running -> {completed | failed}. An approval job additionally
// sits at waiting until resolved to approved or rejected.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobApproved  JobStatus = "approved"
	JobRejected  JobStatus = "rejected"
	JobWaiting   JobStatus = "waiting"
)

type PipelineStatus string

const (
	PipelineCreated   PipelineStatus = "created"
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
	PipelineWaiting   PipelineStatus = "waiting"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Job is one unit of work inside a pipeline. Jobs are owned by exactly one
// pipeline and are only mutated by the state machine during a run.
type Job struct {
	JobID         string    `json:"jobId" binding:"required"`
	JobType       JobType   `json:"jobType" binding:"required"`
	JobName       string    `json:"jobName" binding:"required"`
	ProjectID     string    `json:"projectId,omitempty"`
	Status        JobStatus `json:"status"`
	Duration      string    `json:"duration,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
}

// Pipeline is an ordered job sequence plus run-level metadata.
// WaitingAtJobIndex is set if and only if Status == waiting, and points at the
// approval gate most recently entered.
type Pipeline struct {
	ID                string         `json:"id"`
	ProjectID         string         `json:"projectId,omitempty"`
	Name              string         `json:"name" binding:"required"`
	Jobs              []Job          `json:"jobs"`
	Status            PipelineStatus `json:"status"`
	Progress          int            `json:"progress"`
	CreatedAt         time.Time      `json:"createdAt"`
	ExecutedAt        *time.Time     `json:"executedAt,omitempty"`
	TotalDuration     string         `json:"totalDuration,omitempty"`
	WaitingAtJobIndex *int           `json:"waitingAtJobIndex,omitempty"`
	FailureReason     string         `json:"failureReason,omitempty"`
}

// LogLine is one durable entry in a pipeline's run log. Index increases
// monotonically across the whole run, timestamps never go backwards.
type LogLine struct {
	Index     int       `json:"index"`
	JobID     string    `json:"jobId,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingApproval is the durable record of an outstanding human decision.
// At most one pending record may exist per pipeline at a time. The approver
// actor flips Status directly in the store; the engine only observes it.
type PendingApproval struct {
	ID                string         `json:"id"`
	PipelineID        string         `json:"pipelineId"`
	PipelineName      string         `json:"pipelineName"`
	JobID             string         `json:"jobId"`
	JobName           string         `json:"jobName"`
	ApprovalStepIndex int            `json:"approvalStepIndex"`
	Jobs              []Job          `json:"jobs,omitempty"`
	Status            ApprovalStatus `json:"status"`
	RequestedAt       time.Time      `json:"requestedAt"`
	ApproverNotes     string         `json:"approverNotes,omitempty"`
}

// ApprovalHistory is the append-only audit record created when a pending
// approval resolves. It survives deletion of the source pipeline.
type ApprovalHistory struct {
	ID           string         `json:"id"`
	PipelineID   string         `json:"pipelineId"`
	PipelineName string         `json:"pipelineName"`
	JobName      string         `json:"jobName"`
	Status       ApprovalStatus `json:"status"`
	RequestedAt  time.Time      `json:"requestedAt"`
	DecidedAt    time.Time      `json:"decidedAt"`
}

// IsTerminal reports whether the pipeline finished its current run.
// A terminal pipeline may be re-executed, which resets every job.
func (p *Pipeline) IsTerminal() bool {
	return p.Status == PipelineCompleted || p.Status == PipelineFailed
}
