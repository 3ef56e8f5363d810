package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"market-dashboard-api/internal/logger"
	"market-dashboard-api/internal/middleware"
	"market-dashboard-api/internal/models"
	"market-dashboard-api/internal/ratelimit"
	"market-dashboard-api/internal/service"
)

const (
	maxTrendingLimit = 15
	maxBatchSymbols  = 20
)

// Handlers contains all HTTP handlers
type Handlers struct {
	marketService *service.MarketService
	logger        *logger.Logger
	rateLimiter   *ratelimit.Limiter
}

// NewHandlers creates a new handlers instance
func NewHandlers(marketService *service.MarketService, log *logger.Logger) *Handlers {
	return &Handlers{
		marketService: marketService,
		logger:        log,
	}
}

// WithRateLimit attaches the rate limiter after initialization
func (handlers *Handlers) WithRateLimit(rateLimiter *ratelimit.Limiter) *Handlers {
	handlers.rateLimiter = rateLimiter
	return handlers
}

// SetupRoutes configures all the routes using Gin
func (handlers *Handlers) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.RequestLogger(handlers.logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestID())
	router.Use(handlers.corsMiddleware())

	if handlers.rateLimiter != nil {
		router.Use(handlers.rateLimitMiddleware())
	}

	router.GET("/health", handlers.HealthCheck)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/stocks/:symbol", handlers.GetStock)
		apiV1.GET("/cryptos/:symbol", handlers.GetCrypto)
		apiV1.GET("/trending/stocks", handlers.GetTrendingStocks)
		apiV1.GET("/trending/cryptos", handlers.GetTrendingCryptos)
		apiV1.GET("/quotes", handlers.GetQuoteBatch)

		admin := apiV1.Group("/admin")
		{
			admin.DELETE("/cache", handlers.ClearCache)
			admin.GET("/cache/stats", handlers.GetCacheStats)
			admin.GET("/circuits", handlers.GetCircuitStatus)
			admin.GET("/metrics", handlers.GetServiceMetrics)
		}
	}

	return router
}

// HealthCheck handles health check requests
func (handlers *Handlers) HealthCheck(context *gin.Context) {
	healthCheckResponse := handlers.marketService.HealthCheck()

	statusCode := http.StatusOK
	if healthCheckResponse.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	context.JSON(statusCode, healthCheckResponse)
}

// GetStock returns the quote for a single stock symbol
func (handlers *Handlers) GetStock(context *gin.Context) {
	symbol := strings.TrimSpace(context.Param("symbol"))
	if symbol == "" {
		handlers.writeErrorResponse(context, http.StatusBadRequest, "invalid symbol", "symbol must not be empty")
		return
	}

	quote, fetchError := handlers.marketService.GetStock(context.Request.Context(), symbol)
	if fetchError != nil {
		handlers.writeQuoteError(context, symbol, fetchError)
		return
	}

	context.JSON(http.StatusOK, quote)
}

// GetCrypto returns the quote for a single cryptocurrency symbol
func (handlers *Handlers) GetCrypto(context *gin.Context) {
	symbol := strings.TrimSpace(context.Param("symbol"))
	if symbol == "" {
		handlers.writeErrorResponse(context, http.StatusBadRequest, "invalid symbol", "symbol must not be empty")
		return
	}

	quote, fetchError := handlers.marketService.GetCrypto(context.Request.Context(), symbol)
	if fetchError != nil {
		handlers.writeQuoteError(context, symbol, fetchError)
		return
	}

	context.JSON(http.StatusOK, quote)
}

// GetTrendingStocks returns the trending stock list for a region
func (handlers *Handlers) GetTrendingStocks(context *gin.Context) {
	region := context.DefaultQuery("region", "US")

	limit, ok := handlers.parseLimit(context)
	if !ok {
		return
	}

	trending, fetchError := handlers.marketService.GetTrendingStocks(context.Request.Context(), region, limit)
	if fetchError != nil {
		handlers.writeErrorResponse(context, http.StatusBadGateway, "failed to fetch trending stocks", fetchError.Error())
		return
	}

	context.JSON(http.StatusOK, gin.H{"region": strings.ToUpper(region), "count": len(trending), "quotes": trending})
}

// GetTrendingCryptos returns the trending cryptocurrency list
func (handlers *Handlers) GetTrendingCryptos(context *gin.Context) {
	orderBy := models.ParseTrendingOrder(context.DefaultQuery("order_by", string(models.OrderByChangePercent)))

	limit, ok := handlers.parseLimit(context)
	if !ok {
		return
	}

	trending, fetchError := handlers.marketService.GetTrendingCryptos(context.Request.Context(), orderBy, limit)
	if fetchError != nil {
		handlers.writeErrorResponse(context, http.StatusBadGateway, "failed to fetch trending cryptos", fetchError.Error())
		return
	}

	context.JSON(http.StatusOK, gin.H{"order_by": orderBy, "count": len(trending), "quotes": trending})
}

// GetQuoteBatch returns quotes for a comma-separated list of stock
// symbols. The response is partial: unresolved symbols are absent.
func (handlers *Handlers) GetQuoteBatch(context *gin.Context) {
	raw := strings.TrimSpace(context.Query("symbols"))
	if raw == "" {
		handlers.writeErrorResponse(context, http.StatusBadRequest, "missing symbols", "symbols query parameter is required")
		return
	}

	symbols := strings.Split(raw, ",")
	if len(symbols) > maxBatchSymbols {
		handlers.writeErrorResponse(context, http.StatusBadRequest, "too many symbols",
			"at most "+strconv.Itoa(maxBatchSymbols)+" symbols per request")
		return
	}

	quotes, fetchError := handlers.marketService.GetMany(context.Request.Context(), symbols)
	if fetchError != nil {
		handlers.writeErrorResponse(context, http.StatusBadGateway, "failed to fetch quotes", fetchError.Error())
		return
	}

	context.JSON(http.StatusOK, gin.H{"count": len(quotes), "quotes": quotes})
}

// ClearCache removes cached data, optionally scoped to one category
func (handlers *Handlers) ClearCache(context *gin.Context) {
	category := context.Query("category")
	context.JSON(http.StatusOK, handlers.marketService.ClearCache(category))
}

// GetCacheStats returns cache hit/miss counters
func (handlers *Handlers) GetCacheStats(context *gin.Context) {
	context.JSON(http.StatusOK, handlers.marketService.CacheStats())
}

// GetCircuitStatus returns the state of every circuit breaker
func (handlers *Handlers) GetCircuitStatus(context *gin.Context) {
	context.JSON(http.StatusOK, handlers.marketService.CircuitStatus())
}

// GetServiceMetrics returns per-service request counters
func (handlers *Handlers) GetServiceMetrics(context *gin.Context) {
	context.JSON(http.StatusOK, handlers.marketService.ServiceMetrics())
}

// parseLimit reads the limit query parameter, clamping it to the allowed
// range. A malformed value gets a 400 and a false return.
func (handlers *Handlers) parseLimit(context *gin.Context) (int, bool) {
	limitString := context.DefaultQuery("limit", "10")
	limit, parseError := strconv.Atoi(limitString)
	if parseError != nil || limit < 1 {
		handlers.writeErrorResponse(context, http.StatusBadRequest, "invalid limit", "limit must be a positive number")
		return 0, false
	}
	if limit > maxTrendingLimit {
		limit = maxTrendingLimit
	}
	return limit, true
}

func (handlers *Handlers) writeQuoteError(context *gin.Context, symbol string, err error) {
	if errors.Is(err, service.ErrNotFound) {
		handlers.writeErrorResponse(context, http.StatusNotFound, "symbol not found", symbol)
		return
	}
	handlers.logger.Errorf("Failed to fetch quote for %s: %v", symbol, err)
	handlers.writeErrorResponse(context, http.StatusBadGateway, "failed to fetch quote", err.Error())
}

// writeErrorResponse writes an error response using Gin context
func (handlers *Handlers) writeErrorResponse(context *gin.Context, statusCode int, errorMessage, errorDetails string) {
	errorResponse := models.ErrorResponse{
		Error:   errorMessage,
		Message: errorDetails,
		Code:    statusCode,
	}

	context.JSON(statusCode, errorResponse)
}

// corsMiddleware adds CORS headers using Gin middleware
func (handlers *Handlers) corsMiddleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		context.Header("Access-Control-Allow-Origin", "*")
		context.Header("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		context.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if context.Request.Method == "OPTIONS" {
			context.AbortWithStatus(http.StatusOK)
			return
		}

		context.Next()
	}
}

// rateLimitMiddleware provides rate limiting using Gin middleware
func (handlers *Handlers) rateLimitMiddleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		clientIP := handlers.rateLimiter.GetClientIP(context.Request)

		if !handlers.rateLimiter.Allow(clientIP) {
			handlers.logger.Warnf("Rate limit exceeded for IP: %s", clientIP)
			context.Header("X-RateLimit-Limit", strconv.Itoa(handlers.rateLimiter.Configuration.RateLimitRequests))
			context.Header("X-RateLimit-Remaining", "0")
			context.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(handlers.rateLimiter.Configuration.RateLimitWindow).Unix(), 10))
			context.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			context.Abort()
			return
		}

		context.Next()
	}
}
