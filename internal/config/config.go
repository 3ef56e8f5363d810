package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MarketDataProvider represents a single upstream market data API
type MarketDataProvider struct {
	Name       string
	Kind       string // "stocks" or "cryptos"
	BaseURL    string
	APIKey     string
	Enabled    bool
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

// Config holds all configuration for the application
type Config struct {
	Port     string
	LogLevel string

	// Upstream market data providers
	StockProvider  MarketDataProvider
	CryptoProvider MarketDataProvider

	// Cache
	CacheMaxSize       int
	CacheSweepInterval time.Duration
	StocksTTL          time.Duration
	CryptosTTL         time.Duration
	TrendingTTL        time.Duration
	MetadataTTL        time.Duration

	// Outbound fetch shaping
	FetchMinInterval     time.Duration
	FetchBatchSize       int
	FetchBatchDelay      time.Duration
	MaxConcurrentFetches int

	// Trending quality threshold: live results below this fraction of the
	// requested limit trigger the sample-data fallback.
	TrendingMinValidFraction float64

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration

	// Inbound rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8082"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StockProvider: MarketDataProvider{
			Name:       getEnv("STOCK_PROVIDER_NAME", "stocks"),
			Kind:       "stocks",
			BaseURL:    getEnv("STOCK_PROVIDER_BASE_URL", "https://query1.finance.example.com/v8"),
			APIKey:     getEnv("STOCK_PROVIDER_API_KEY", ""),
			Enabled:    getEnv("STOCK_PROVIDER_ENABLED", "true") == "true",
			Timeout:    time.Duration(mustAtoi(getEnv("STOCK_PROVIDER_TIMEOUT", "10"))) * time.Second,
			RetryCount: mustAtoi(getEnv("STOCK_PROVIDER_RETRY_COUNT", "2")),
			RetryDelay: time.Duration(mustAtoi(getEnv("STOCK_PROVIDER_RETRY_DELAY", "1"))) * time.Second,
		},
		CryptoProvider: MarketDataProvider{
			Name:       getEnv("CRYPTO_PROVIDER_NAME", "cryptos"),
			Kind:       "cryptos",
			BaseURL:    getEnv("CRYPTO_PROVIDER_BASE_URL", "https://api.coinquote.example.com/v3"),
			APIKey:     getEnv("CRYPTO_PROVIDER_API_KEY", ""),
			Enabled:    getEnv("CRYPTO_PROVIDER_ENABLED", "true") == "true",
			Timeout:    time.Duration(mustAtoi(getEnv("CRYPTO_PROVIDER_TIMEOUT", "10"))) * time.Second,
			RetryCount: mustAtoi(getEnv("CRYPTO_PROVIDER_RETRY_COUNT", "2")),
			RetryDelay: time.Duration(mustAtoi(getEnv("CRYPTO_PROVIDER_RETRY_DELAY", "1"))) * time.Second,
		},

		CacheMaxSize:       mustAtoi(getEnv("CACHE_MAX_SIZE", "2000")),
		CacheSweepInterval: time.Duration(mustAtoi(getEnv("CACHE_SWEEP_INTERVAL_SECONDS", "60"))) * time.Second,
		StocksTTL:          time.Duration(mustAtoi(getEnv("STOCKS_CACHE_TTL_SECONDS", "240"))) * time.Second,
		CryptosTTL:         time.Duration(mustAtoi(getEnv("CRYPTOS_CACHE_TTL_SECONDS", "180"))) * time.Second,
		TrendingTTL:        time.Duration(mustAtoi(getEnv("TRENDING_CACHE_TTL_SECONDS", "120"))) * time.Second,
		MetadataTTL:        time.Duration(mustAtoi(getEnv("METADATA_CACHE_TTL_SECONDS", "600"))) * time.Second,

		FetchMinInterval:     time.Duration(mustAtoi(getEnv("FETCH_MIN_INTERVAL_MS", "1000"))) * time.Millisecond,
		FetchBatchSize:       mustAtoi(getEnv("FETCH_BATCH_SIZE", "3")),
		FetchBatchDelay:      time.Duration(mustAtoi(getEnv("FETCH_BATCH_DELAY_MS", "2000"))) * time.Millisecond,
		MaxConcurrentFetches: mustAtoi(getEnv("MAX_CONCURRENT_FETCHES", "2")),

		TrendingMinValidFraction: mustParseFloat(getEnv("TRENDING_MIN_VALID_FRACTION", "0.5")),

		BreakerFailureThreshold: mustAtoi(getEnv("BREAKER_FAILURE_THRESHOLD", "5")),
		BreakerResetTimeout:     time.Duration(mustAtoi(getEnv("BREAKER_RESET_TIMEOUT_SECONDS", "60"))) * time.Second,

		RateLimitEnabled:  getEnv("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitRequests: mustAtoi(getEnv("RATE_LIMIT_REQUESTS", "100")),
		RateLimitWindow:   time.Duration(mustAtoi(getEnv("RATE_LIMIT_WINDOW_SECONDS", "60"))) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects configurations the services cannot operate with
func (cfg *Config) validate() error {
	if cfg.CacheMaxSize <= 0 {
		return fmt.Errorf("CACHE_MAX_SIZE must be positive, got %d", cfg.CacheMaxSize)
	}
	if cfg.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive, got %d", cfg.BreakerFailureThreshold)
	}
	if cfg.FetchBatchSize <= 0 {
		return fmt.Errorf("FETCH_BATCH_SIZE must be positive, got %d", cfg.FetchBatchSize)
	}
	if cfg.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_FETCHES must be positive, got %d", cfg.MaxConcurrentFetches)
	}
	if cfg.TrendingMinValidFraction < 0 || cfg.TrendingMinValidFraction > 1 {
		return fmt.Errorf("TRENDING_MIN_VALID_FRACTION must be within [0,1], got %v", cfg.TrendingMinValidFraction)
	}
	return nil
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func mustAtoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 60
	}
	return i
}

func mustParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0.5
	}
	return f
}
