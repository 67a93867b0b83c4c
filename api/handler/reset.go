package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/rendergate/models"
)

// Reset returns a handler for POST /api/v1/admin/reset. Outside persistent
// mode the orchestrator rejects it with NOT_APPLICABLE (409).
func Reset(o Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := o.Reset(c.Request.Context()); err != nil {
			respondError(c, err, models.TimingInfo{})
			return
		}
		c.JSON(http.StatusOK, models.ResetResponse{Success: true})
	}
}
