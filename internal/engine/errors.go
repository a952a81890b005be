package engine

import "errors"

var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrApprovalNotFound = errors.New("pending approval not found")
	ErrAlreadyDecided   = errors.New("approval already decided")
	ErrInvalidDecision  = errors.New("invalid approval decision")
)
