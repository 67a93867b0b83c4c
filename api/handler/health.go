package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
func Health(o Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := o.Health()
		h.Version = Version
		c.JSON(http.StatusOK, h)
	}
}
