// Mock methods required in Shipper tests are all here.

package test

import (
	"Shipper/pkg/middlewares"

	"github.com/gin-gonic/gin"
)

// NewRouter returns a fresh gin engine in test mode with the CORS middleware
// every Shipper route runs behind.
func NewRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middlewares.CORSMiddleware("*")) // CORS middleware which allows request from all origin
	return router
}
