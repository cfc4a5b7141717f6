package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"metals-trader/internal/api"
	"metals-trader/internal/config"
	"metals-trader/internal/database"
	"metals-trader/internal/logging"
	"metals-trader/internal/models"
	"metals-trader/internal/services/metalsapi"
	"metals-trader/internal/services/pricecache"
	"metals-trader/internal/services/snapshot"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, cfg.Environment)
	if envErr != nil {
		logger.Debug().Msg("no .env file found")
	}
	for _, w := range cfg.Warnings {
		logger.Warn().Str("setting", w).Msg("invalid config value, using default")
	}

	market := models.ParseMarketType(cfg.MarketType)
	catalog := models.CatalogFor(market)

	// A missing API key switches to fallback-only pricing instead of failing
	var source pricecache.RateSource
	if cfg.LiveMode() {
		source = metalsapi.NewClient(cfg.MetalsAPIURL, cfg.MetalsAPIKey, cfg.UpstreamTimeout)
		logger.Info().Str("market", string(market)).Msg("price source: live upstream API")
	} else {
		logger.Warn().Str("market", string(market)).Msg("price source: no API key configured, serving simulated prices")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := cacheStore(ctx, cfg, logger)
	defer closeStore()

	prices := pricecache.NewService(catalog, source, store, logger, pricecache.Options{
		TTL:         cfg.PriceCacheTTL,
		ChangeRange: cfg.ChangeRange,
	})

	// Snapshot recorder is optional
	var snapshots snapshot.Store
	if cfg.DatabaseURL != "" {
		db, err := database.Initialize(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer database.Close(db)

		gormStore := snapshot.NewGormStore(db)
		snapshots = gormStore
		recorder := snapshot.NewRecorder(prices, gormStore, catalog.Len(), logger)
		if err := recorder.Start(cfg.SnapshotSchedule); err != nil {
			logger.Fatal().Err(err).Msg("failed to start snapshot recorder")
		}
		defer recorder.Stop()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestID(), logging.GinLogger(logger))

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.AdminTokenHeader)
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Liveness only; /api/v1/<market>/health probes prices
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api/v1/" + string(market))
	api.SetupRoutes(apiGroup, prices, api.Options{
		AdminToken:     cfg.AdminToken,
		Snapshots:      snapshots,
		StreamInterval: cfg.StreamInterval,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// cacheStore returns the Redis store when REDIS_ADDR is set and reachable,
// the in-memory store otherwise.
func cacheStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (pricecache.Store, func()) {
	if cfg.RedisAddr == "" {
		return pricecache.NewMemoryStore(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	store := pricecache.NewRedisStore(client)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, using in-memory price cache")
		_ = client.Close()
		return pricecache.NewMemoryStore(), func() {}
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis price cache")
	return store, func() { _ = client.Close() }
}
