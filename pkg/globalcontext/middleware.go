// Context middleware is used in gin to populate request context with unique ID.
// This ID will be helpful in debugging issues happening for a request in handler chain.

package globalcontext

import (
	"Shipper/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader lets a proxy in front of Shipper hand over its own request id.
const RequestIDHeader = "X-Request-ID"

// This middleware will be used to populate every incoming request's context with an Unique UUID.
// A valid UUID sent in X-Request-ID is kept, the id is echoed back in the response either way.
func UniqueIDMiddleware(logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		rqId, prserr := uuid.Parse(gctx.GetHeader(RequestIDHeader))
		if prserr != nil {
			var uuiderr error
			if rqId, uuiderr = uuid.NewRandom(); uuiderr != nil {
				logger.Error().Err(uuiderr).Msg("Error during generating UUID for ReqID.")
				gctx.Next()
				return
			}
		}
		gctx.Set(log.RequestIDKey, rqId.String())
		gctx.Writer.Header().Set(RequestIDHeader, rqId.String())
		gctx.Next()
	}
}
