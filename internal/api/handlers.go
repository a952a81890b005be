package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/engine"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/models"
)

type Handler struct {
	Engine *engine.Engine
}

func NewHandler(e *engine.Engine) *Handler {
	return &Handler{Engine: e}
}

type createPipelineRequest struct {
	ProjectID string       `json:"projectId"`
	Name      string       `json:"name" binding:"required"`
	Jobs      []models.Job `json:"jobs" binding:"required"`
}

type decisionRequest struct {
	Decision models.ApprovalStatus `json:"decision" binding:"required"`
	Notes    string                `json:"notes"`
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /api/v1/pipelines
func (h *Handler) CreatePipeline(c *gin.Context) {
	var req createPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	p, err := h.Engine.CreatePipeline(c.Request.Context(), req.ProjectID, req.Name, req.Jobs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GET /api/v1/pipelines
func (h *Handler) ListPipelines(c *gin.Context) {
	pipelines, err := h.Engine.GetPipelines(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pipelines)
}

// GET /api/v1/pipelines/:id
func (h *Handler) GetPipeline(c *gin.Context) {
	p, err := h.Engine.GetPipelineByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// DELETE /api/v1/pipelines/:id
func (h *Handler) DeletePipeline(c *gin.Context) {
	if err := h.Engine.DeletePipeline(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, engine.ErrPipelineNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// POST /api/v1/pipelines/:id/execute
func (h *Handler) ExecutePipeline(c *gin.Context) {
	id := c.Param("id")
	if err := h.Engine.Execute(c.Request.Context(), id); err != nil {
		if errors.Is(err, engine.ErrPipelineNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
			return
		}
		// Running or waiting pipelines refuse re-execution.
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	apiLogger.WithField("pipeline_id", id).Info("pipeline execution accepted")
	c.JSON(http.StatusAccepted, gin.H{"status": "executing", "pipelineId": id})
}

// GET /api/v1/pipelines/:id/logs
func (h *Handler) GetPipelineLogs(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Engine.GetPipelineByID(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
		return
	}
	lines, err := h.Engine.GetPipelineLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lines)
}

// GET /api/v1/pipelines/:id/export
func (h *Handler) ExportPipeline(c *gin.Context) {
	doc, err := h.Engine.ExportWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
		return
	}
	c.Data(http.StatusOK, "application/yaml", []byte(doc))
}

// GET /api/v1/approvals/pending
func (h *Handler) ListPendingApprovals(c *gin.Context) {
	pending, err := h.Engine.ListPendingApprovals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pending)
}

// POST /api/v1/approvals/:id/decision
func (h *Handler) DecideApproval(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	id := c.Param("id")
	err := h.Engine.Coordinator().Decide(c.Request.Context(), id, req.Decision, req.Notes)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "resolved", "decision": req.Decision})
	case errors.Is(err, engine.ErrInvalidDecision):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrApprovalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "pending approval not found"})
	case errors.Is(err, engine.ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{"error": "approval already decided"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GET /api/v1/approvals/history
func (h *Handler) ListApprovalHistory(c *gin.Context) {
	history, err := h.Engine.ListApprovalHistory(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, history)
}

// DELETE /api/v1/approvals/history/:id
func (h *Handler) DeleteApprovalHistory(c *gin.Context) {
	if err := h.Engine.DeleteApprovalHistory(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// GET /api/v1/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.Engine.Reconciler().Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
