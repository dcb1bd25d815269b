// This middleware is used to integrate the zerolog backed Logger into gin server.

package log

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// LoggerGinExtension forces gin to use Logger instead of the default one.
// Paths listed in skip (e.g. the Prometheus scrape endpoint) are not logged.
// Event streams are logged once they close, so their latency is the lifetime of the stream.
func LoggerGinExtension(logger Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(gctx *gin.Context) {
		start := time.Now() // Start timer
		path := gctx.Request.URL.Path
		if _, ok := skipped[path]; ok {
			gctx.Next()
			return
		}
		if raw := gctx.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		// Process request
		gctx.Next()

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		}
		status := gctx.Writer.Status()

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.WithCtx(gctx).Error()
		case status >= 400:
			event = logger.WithCtx(gctx).Warn()
		default:
			event = logger.WithCtx(gctx).Info()
		}
		if strings.HasPrefix(gctx.Writer.Header().Get("Content-Type"), "text/event-stream") {
			event = event.Bool("stream", true)
		}
		event.
			Str("client_ip", gctx.ClientIP()).
			Str("method", gctx.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Int("body_size", gctx.Writer.Size()).
			Str("errors", gctx.Errors.ByType(gin.ErrorTypePrivate).String()).
			Msg("request handled")
	}
}
