package router

import (
	"time"

	"orderrelay/internal/config"
	"orderrelay/internal/domain/delivery"
	"orderrelay/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New creates and configures the Gin router with all middleware and routes.
// The returned RateLimiter is swept periodically by the caller.
func New(
	cfg *config.Config,
	relayHandler *delivery.Handler,
) (*gin.Engine, *middleware.RateLimiter) {
	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// Global middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	rateLimiter := middleware.NewRateLimiter(
		cfg.RateLimit.RequestsPerSecond,
		cfg.RateLimit.Burst,
		10*time.Minute,
	)
	r.Use(rateLimiter.Middleware())

	r.Use(gin.Logger())

	// Operational routes
	r.GET("/health", relayHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		relayHandler.RegisterRoutes(api)
	}

	return r, rateLimiter
}
