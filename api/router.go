package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/rendergate/api/handler"
	"github.com/use-agent/rendergate/api/middleware"
	"github.com/use-agent/rendergate/config"
	"github.com/use-agent/rendergate/metrics"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger → Metrics
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so monitoring probes always work.
// ctx bounds the rate limiter's background sweep.
func NewRouter(ctx context.Context, o handler.Orchestrator, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	r.Use(middleware.Metrics())

	if cfg.Server.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(o))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.POST("/fetch", handler.Fetch(o, cfg.Fetch.MaxTimeout))
	protected.POST("/admin/reset", handler.Reset(o))

	return r
}
