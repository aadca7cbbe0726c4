package main

import (
	"github.com/joho/godotenv"

	"github.com/statlane/event-insights/internal/cache"
	"github.com/statlane/event-insights/internal/config"
	"github.com/statlane/event-insights/internal/httpserver"
	"github.com/statlane/event-insights/internal/logging"
	"github.com/statlane/event-insights/internal/metrics"
	"github.com/statlane/event-insights/internal/store"
)

// main boots the service: env → config → logging → DB → schema → HTTP server.
func main() {
	// Optional .env for local dev; real deployments set the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.Init("info", "")
		bootLogger.Fatal().Err(err).Msg("config load failed")
	}

	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

	// Connect to durable storage (Postgres) using a connection pool.
	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	// Ensure required tables/indexes exist so `docker compose up --build`
	// is enough.
	if err := db.EnsureSchema(); err != nil {
		logger.Fatal().Err(err).Msg("schema bootstrap failed")
	}

	// Process-wide shared state: live counters and the result cache.
	reg := metrics.New()
	db.OnRetry = reg.RepositoryRetry
	ca := cache.New()

	router := httpserver.NewRouter(cfg, db, reg, ca, logger)

	logger.Info().Str("addr", cfg.Addr).Msg("server started")
	if err := router.Run(cfg.Addr); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
