package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"surfacesync/internal/config"
	"surfacesync/internal/constants"
	"surfacesync/internal/logger"
	"surfacesync/pkg/metrics"
	"surfacesync/pkg/middleware"
	"surfacesync/pkg/ratelimit"
	"surfacesync/pkg/tracing"
)

// NewRouter builds the engine with the standard middleware chain. ctx
// bounds background work started by the middleware.
func NewRouter(ctx context.Context, cfg *config.Config, h *Handler, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.MetricsMiddleware())

	if cfg.Server.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(cfg.Server.RateLimit)
		router.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		log.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	metrics.RegisterHTTPMetrics()

	h.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
