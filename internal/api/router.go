package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/engine"
	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/logging"
)

var apiLogger = logging.C("api")

// NewRouter wires the HTTP surface over the engine. The engine is the only
// dependency; handlers never touch the store directly.
func NewRouter(e *engine.Engine, serviceName string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))

	h := NewHandler(e)

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/pipelines", h.CreatePipeline)
		v1.GET("/pipelines", h.ListPipelines)
		v1.GET("/pipelines/:id", h.GetPipeline)
		v1.DELETE("/pipelines/:id", h.DeletePipeline)
		v1.POST("/pipelines/:id/execute", h.ExecutePipeline)
		v1.GET("/pipelines/:id/logs", h.GetPipelineLogs)
		v1.GET("/pipelines/:id/export", h.ExportPipeline)

		v1.GET("/approvals/pending", h.ListPendingApprovals)
		v1.POST("/approvals/:id/decision", h.DecideApproval)
		v1.GET("/approvals/history", h.ListApprovalHistory)
		v1.DELETE("/approvals/history/:id", h.DeleteApprovalHistory)

		v1.GET("/stats", h.Stats)
	}
	return r
}
