package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/rendergate/engine"
	"github.com/use-agent/rendergate/models"
)

// Orchestrator is the part of engine.Orchestrator the handlers use.
type Orchestrator interface {
	Submit(ctx context.Context, req engine.FetchRequest) (*engine.FetchResult, error)
	Reset(ctx context.Context) error
	Health() models.HealthResponse
}

// Fetch returns a handler for POST /api/v1/fetch. Timeouts above
// maxTimeout are rejected rather than clamped.
//
// Flow:
//  1. Parse & validate the request body.
//  2. Orchestrator.Submit: URL validation, routing, pool lifecycle, retries.
//  3. Fill Timing, return 200 with the rendered HTML.
func Fetch(o Orchestrator, maxTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		var req models.FetchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.FetchResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			respondError(c, models.NewFetchError(models.ErrCodeInvalidURL, "url is required", nil), models.TimingInfo{})
			return
		}
		timeout := time.Duration(req.TimeoutMs) * time.Millisecond
		if maxTimeout > 0 && timeout > maxTimeout {
			msg := fmt.Sprintf("timeout_ms %d exceeds the maximum of %d", req.TimeoutMs, maxTimeout.Milliseconds())
			respondError(c, models.NewFetchError(models.ErrCodeInvalidInput, msg, nil), models.TimingInfo{})
			return
		}

		res, err := o.Submit(c.Request.Context(), engine.FetchRequest{
			URL:          req.URL,
			WaitSelector: req.WaitSelector,
			Timeout:      timeout,
			ForceReset:   req.ForceReset,
		})
		if err != nil {
			respondError(c, err, models.TimingInfo{
				TotalMs: time.Since(totalStart).Milliseconds(),
			})
			return
		}

		c.JSON(http.StatusOK, models.FetchResponse{
			Success:    true,
			RequestID:  res.RequestID,
			StatusCode: res.StatusCode,
			FinalURL:   res.FinalURL,
			HTML:       res.HTML,
			Route:      res.Route,
			Attempts:   res.Attempts,
			Timing: models.TimingInfo{
				TotalMs: time.Since(totalStart).Milliseconds(),
				FetchMs: res.Duration.Milliseconds(),
			},
		})
	}
}
