package models

import "time"

// Quote is a point-in-time snapshot of a stock or cryptocurrency.
// Instances are immutable once constructed; every fetch produces a fresh
// value. The derived fields (ChangeAmount, ChangePercent, IsGaining) are
// always recomputed by NewQuote and never set independently.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close"`
	MarketCap     float64   `json:"market_cap,omitempty"`
	Volume        int64     `json:"volume,omitempty"`
	ChangeAmount  float64   `json:"change_amount"`
	ChangePercent float64   `json:"change_percent"`
	IsGaining     bool      `json:"is_gaining"`
	LastUpdated   time.Time `json:"last_updated"`
	IsSampleData  bool      `json:"is_sample_data"`
}

// NewQuote builds a Quote and computes its derived fields. When
// previousClose is zero or negative the percent change is left at zero.
func NewQuote(symbol, name string, price, previousClose float64) Quote {
	quote := Quote{
		Symbol:        symbol,
		Name:          name,
		Price:         price,
		PreviousClose: previousClose,
		LastUpdated:   time.Now(),
	}
	quote.ChangeAmount = price - previousClose
	if previousClose > 0 {
		quote.ChangePercent = quote.ChangeAmount / previousClose * 100
	}
	quote.IsGaining = quote.ChangeAmount > 0
	return quote
}

// Valid reports whether the quote carries usable market data.
func (quote Quote) Valid() bool {
	return quote.Symbol != "" && quote.Price > 0
}

// TrendingOrder selects the ranking key for trending lists
type TrendingOrder string

const (
	OrderByChangePercent TrendingOrder = "percent_change"
	OrderByMarketCap     TrendingOrder = "market_cap"
	OrderByVolume        TrendingOrder = "volume"
	OrderByPrice         TrendingOrder = "price"
)

// ParseTrendingOrder maps a request parameter onto a known ordering,
// defaulting to percent change.
func ParseTrendingOrder(raw string) TrendingOrder {
	switch TrendingOrder(raw) {
	case OrderByMarketCap, OrderByVolume, OrderByPrice, OrderByChangePercent:
		return TrendingOrder(raw)
	default:
		return OrderByChangePercent
	}
}

// CategoryStats holds per-category cache counters
type CategoryStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// CacheStats is the cache statistics snapshot exposed to admin endpoints
type CacheStats struct {
	Size       int                      `json:"size"`
	MaxSize    int                      `json:"max_size"`
	HitCount   int64                    `json:"hit_count"`
	MissCount  int64                    `json:"miss_count"`
	HitRate    float64                  `json:"hit_rate"`
	Categories map[string]CategoryStats `json:"categories"`
}

// ClearSummary reports the outcome of a cache clear operation
type ClearSummary struct {
	Category  string    `json:"category,omitempty"`
	Removed   int       `json:"removed"`
	Timestamp time.Time `json:"timestamp"`
}

// ServiceMetrics holds per-service request counters maintained by the
// orchestrator.
type ServiceMetrics struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	AvgResponseTime    time.Duration `json:"avg_response_time"`
	LastRequestTime    time.Time     `json:"last_request_time"`
}

// CircuitSnapshot is the externally visible state of one circuit breaker
type CircuitSnapshot struct {
	Service          string    `json:"service"`
	State            string    `json:"state"`
	FailureCount     int       `json:"failure_count"`
	FailureThreshold int       `json:"failure_threshold"`
	LastFailureAt    time.Time `json:"last_failure_at,omitempty"`
}

// HealthCheck represents a health check response
type HealthCheck struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
