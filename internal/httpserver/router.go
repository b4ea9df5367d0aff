package httpserver

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailtriage/internal/handler"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(triageHandler *handler.TriageHandler, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware(logger))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/records/ingest", triageHandler.Ingest)
		api.GET("/records", triageHandler.ListRecords)
		api.GET("/records/:id", triageHandler.GetRecord)
		api.POST("/records/:id/approve", triageHandler.Approve)
		api.POST("/records/:id/decline", triageHandler.Decline)
		api.POST("/records/:id/restore", triageHandler.Restore)
		api.POST("/records/:id/category", triageHandler.UpdateCategory)
		api.POST("/records/bulk/approve", triageHandler.BulkApprove)
		api.POST("/records/bulk/decline", triageHandler.BulkDecline)
		api.POST("/records/bulk/approve-review", triageHandler.BulkApproveReview)
	}

	return &Router{Engine: r}
}
