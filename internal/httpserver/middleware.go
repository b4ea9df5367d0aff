package httpserver

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/pkg/logger"
	"mailtriage/pkg/trace"
)

// TraceMiddleware 为每个请求注入 trace_id，随事件发布透传到 MQ header
func TraceMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := trace.WithContext(c.Request.Context(), trace.GenerateTraceID())
		c.Request = c.Request.WithContext(ctx)

		logger.WithTrace(ctx, log).Debug("Handling request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		c.Next()
	}
}
