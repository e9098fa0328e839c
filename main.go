package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"auth-service/internal/cache"
	"auth-service/internal/config"
	"auth-service/internal/handlers"
	"auth-service/internal/kong"
	"auth-service/internal/logger"
	"auth-service/internal/metrics"
	"auth-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	appLog := logger.GetLogger()

	appLog.Info("Starting Authentication Service...")

	// Propagate W3C trace context on outbound admin API calls.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Initialize the credential cache
	var store cache.Cache
	if cfg.Caching.HighAvailability {
		redisCache, err := cache.NewRedisCache(&cfg.Caching)
		if err != nil {
			appLog.WithError(err).Fatal("Failed to connect to Redis")
		}
		store = redisCache
	} else {
		store = cache.NewMemoryCache(cfg.Caching.MaxEntries, cfg.Caching.PrimaryTTL())
		appLog.Info("Using local in-memory credential cache")
	}

	// Initialize the Kong Admin API adapter
	adminClient, err := kong.NewAdminClient(cfg.Kong)
	if err != nil {
		appLog.WithError(err).Fatal("Invalid Kong Admin API configuration")
	}

	// Initialize the credential service
	kongService := kong.NewService(cfg, store, adminClient)

	// Initialize handlers
	tokenHandler := handlers.NewTokenHandler(kongService, cfg.JWTExpiry)
	adminHandler := handlers.NewAdminHandler(kongService)
	healthHandler := handlers.NewHealthHandler(kongService)

	// Create Gin router
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestMetrics())

	rateLimiter := middleware.NewRateLimiter(100, 50)

	api := router.Group("/api/v1")
	api.POST("/tokens/:consumerId", rateLimiter.Handler(), tokenHandler.IssueToken)
	api.POST("/consumers/:consumerId/credentials", tokenHandler.CreateCredential)
	api.GET("/admin/cache/stats", adminHandler.CacheStats)
	api.DELETE("/admin/cache", adminHandler.ClearCache)
	api.GET("/admin/circuit-breaker", adminHandler.BreakerStats)

	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		appLog.WithField("port", cfg.HTTPPort).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down Authentication Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLog.WithError(err).Error("HTTP server shutdown failed")
	}

	// The health monitor stops before the connection closes.
	if err := kongService.Close(); err != nil {
		appLog.WithError(err).Error("Cache shutdown failed")
	}

	appLog.Info("Authentication Service stopped")
}

// requestMetrics records one counter and one latency sample per request.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.RecordHTTPRequest(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
