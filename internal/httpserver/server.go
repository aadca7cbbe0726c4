package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/statlane/event-insights/internal/auth"
	"github.com/statlane/event-insights/internal/cache"
	"github.com/statlane/event-insights/internal/config"
	"github.com/statlane/event-insights/internal/handlers"
	"github.com/statlane/event-insights/internal/metrics"
)

// accessLog emits one structured line per request.
func accessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /metrics (scrapers must never be locked out)
// Authenticated: /events, /events/batch, /analytics
func NewRouter(cfg config.Config, st handlers.EventStore, reg *metrics.Registry, ca *cache.Cache, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), accessLog(logger))

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the repository dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Live counter snapshot in exposition format.
	r.GET("/metrics", gin.WrapH(reg.Handler()))

	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(cfg.APIKeys))

	handlers.RegisterEventRoutes(authGroup, st, reg, ca, logger)
	handlers.RegisterAnalyticsRoutes(authGroup, st, reg, ca, cfg.CacheTTL, logger)

	return r
}
