package middlewares

import (
	"Shipper/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
)

// CorrelationHeader carries the correlation id across Shipper services.
const CorrelationHeader = "X-Correlation-ID"

// This middleware will be used to populate every incoming request's context with a CorrelationID.
// An id sent by an upstream service (the API server publishing events) is reused so a chain of
// events can be followed across processes, otherwise a fresh xid is generated.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(gctx *gin.Context) {
		correlationID := gctx.GetHeader(CorrelationHeader)
		if _, err := xid.FromString(correlationID); err != nil {
			correlationID = xid.New().String()
		}
		// Setting the correlationID in request's context
		gctx.Set(log.CorrelationIDKey, correlationID)
		// Setting the correlationID to response header
		gctx.Writer.Header().Set(CorrelationHeader, correlationID)
		gctx.Next()
	}
}
