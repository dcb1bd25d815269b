package middlewares

import (
	"github.com/gin-gonic/gin"
)

// This middleware is used to add headers to response for Server-Side-Events (SSE) to work properly.
// X-Accel-Buffering disables proxy buffering (nginx), which would otherwise hold frames back.
func SSEMiddleware() gin.HandlerFunc {
	return func(gctx *gin.Context) {
		gctx.Writer.Header().Set("Content-Type", "text/event-stream")
		gctx.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
		gctx.Writer.Header().Set("Connection", "keep-alive")
		gctx.Writer.Header().Set("X-Accel-Buffering", "no")
		gctx.Next()
	}
}
