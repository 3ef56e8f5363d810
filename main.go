package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"market-dashboard-api/internal/api"
	"market-dashboard-api/internal/cache"
	"market-dashboard-api/internal/config"
	"market-dashboard-api/internal/logger"
	"market-dashboard-api/internal/platform"
	"market-dashboard-api/internal/ratelimit"
	"market-dashboard-api/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(cfg.LogLevel)

	// Initialize the data pipeline
	dataCache := cache.New(cfg.CacheMaxSize, cfg.CacheSweepInterval, appLogger)
	rateLimiter := ratelimit.NewLimiter(cfg, appLogger)

	stockProvider := service.NewHTTPQuoteProvider(cfg.StockProvider, appLogger)
	cryptoProvider := service.NewHTTPQuoteProvider(cfg.CryptoProvider, appLogger)
	marketService := service.NewMarketService(cfg, appLogger, dataCache, stockProvider, cryptoProvider)

	// Initialize HTTP handlers
	handlers := api.NewHandlers(marketService, appLogger).WithRateLimit(rateLimiter)

	// Setup Gin router
	router := handlers.SetupRoutes()

	// Setup HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("Starting market data service on port " + cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Create a shutdown context that works across platforms
	shutdownCtx, stop := platform.NewShutdownContext(context.Background())
	defer stop()
	<-shutdownCtx.Done()

	appLogger.Info("Shutting down server...")

	// Stop background sweeps
	rateLimiter.Stop()
	dataCache.Stop()

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("Server exited")
}
