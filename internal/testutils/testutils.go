package testutils

import (
	"context"
	"time"

	"market-dashboard-api/internal/config"
	"market-dashboard-api/internal/logger"
	"market-dashboard-api/internal/models"
)

// MockLogger creates a logger for testing
func MockLogger() *logger.Logger {
	return logger.New("debug")
}

// MockConfig creates a configuration for testing. Outbound shaping knobs
// are zeroed or shortened so tests do not sleep through production delays.
func MockConfig() *config.Config {
	return &config.Config{
		Port:     "8082",
		LogLevel: "debug",

		StockProvider: config.MarketDataProvider{
			Name:       "stocks",
			Kind:       "stocks",
			BaseURL:    "https://stocks.test/quote",
			Enabled:    true,
			Timeout:    5 * time.Second,
			RetryCount: 1,
			RetryDelay: 10 * time.Millisecond,
		},
		CryptoProvider: config.MarketDataProvider{
			Name:       "cryptos",
			Kind:       "cryptos",
			BaseURL:    "https://cryptos.test/quote",
			Enabled:    true,
			Timeout:    5 * time.Second,
			RetryCount: 1,
			RetryDelay: 10 * time.Millisecond,
		},

		CacheMaxSize:       100,
		CacheSweepInterval: time.Minute,
		StocksTTL:          240 * time.Second,
		CryptosTTL:         180 * time.Second,
		TrendingTTL:        120 * time.Second,
		MetadataTTL:        600 * time.Second,

		FetchMinInterval:     0,
		FetchBatchSize:       3,
		FetchBatchDelay:      0,
		MaxConcurrentFetches: 2,

		TrendingMinValidFraction: 0.5,

		BreakerFailureThreshold: 5,
		BreakerResetTimeout:     60 * time.Second,

		RateLimitEnabled:  true,
		RateLimitRequests: 100,
		RateLimitWindow:   60 * time.Second,
	}
}

// MockQuote creates a live-looking quote for testing
func MockQuote(symbol string) models.Quote {
	return models.NewQuote(symbol, symbol+" Inc.", 175.5, 170.0)
}

// MockContext creates a context for testing
func MockContext() context.Context {
	return context.Background()
}

// MockContextWithTimeout creates a context with timeout for testing
func MockContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
