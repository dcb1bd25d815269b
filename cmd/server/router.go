// List of all REST API endpoints being used by Shipper can be found here.

package main

import (
	"Shipper/internal/auth"
	"Shipper/internal/config"
	"Shipper/internal/metrics"
	"Shipper/internal/presence"
	"Shipper/internal/realtime"
	"Shipper/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

func Router(router *gin.Engine, cfg config.Config, hub *realtime.Hub, publisher *realtime.Publisher, presenceSvc presence.Service, m *metrics.Metrics, logger log.Logger) {
	// This is the route to default path
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Welcome to Shipper!")
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": hub.Stats().Mode, "version": cfg.Version})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	realtime.APIHandlers(router, hub, publisher, presenceSvc, realtime.Guards{
		User:        auth.UserMiddleware(logger, cfg.JWTSecret, false),
		RequireUser: auth.UserMiddleware(logger, cfg.JWTSecret, true),
		Internal:    auth.InternalMiddleware(logger, cfg.InternalToken),
	}, logger)
}
