package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"market-dashboard-api/internal/cache"
	"market-dashboard-api/internal/models"
	"market-dashboard-api/internal/ratelimit"
	"market-dashboard-api/internal/service"
	"market-dashboard-api/internal/testutils"
)

// newMockMarketServer serves the neutral quote API shape for any symbol,
// returning 404 for symbols prefixed with "MISSING".
func newMockMarketServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch {
		case strings.HasPrefix(request.URL.Path, "/quote/"):
			symbol := strings.TrimPrefix(request.URL.Path, "/quote/")
			if strings.HasPrefix(symbol, "MISSING") {
				writer.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprintf(writer, `{"symbol":%q,"name":"%s Inc.","price":120.5,"previous_close":118.0,"volume":1000000}`, symbol, symbol)
		case request.URL.Path == "/quotes":
			symbols := strings.Split(request.URL.Query().Get("symbols"), ",")
			payloads := make([]string, 0, len(symbols))
			for index, symbol := range symbols {
				payloads = append(payloads, fmt.Sprintf(`{"symbol":%q,"name":"%s Inc.","price":%d,"previous_close":100}`, symbol, symbol, 110+index))
			}
			fmt.Fprintf(writer, `{"quotes":[%s]}`, strings.Join(payloads, ","))
		case request.URL.Path == "/candidates":
			fmt.Fprint(writer, `{"symbols":["AAA","BBB","CCC","DDD"]}`)
		default:
			writer.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestRouter(t *testing.T, withRateLimit bool) (*gin.Engine, *service.MarketService) {
	t.Helper()

	server := newMockMarketServer(t)
	t.Cleanup(server.Close)

	cfg := testutils.MockConfig()
	cfg.StockProvider.BaseURL = server.URL
	cfg.CryptoProvider.BaseURL = server.URL

	log := testutils.MockLogger()
	dataCache := cache.New(cfg.CacheMaxSize, cfg.CacheSweepInterval, log)
	t.Cleanup(dataCache.Stop)

	marketService := service.NewMarketService(cfg, log, dataCache,
		service.NewHTTPQuoteProvider(cfg.StockProvider, log),
		service.NewHTTPQuoteProvider(cfg.CryptoProvider, log))

	handlers := NewHandlers(marketService, log)
	if withRateLimit {
		limiter := ratelimit.NewLimiter(cfg, log)
		t.Cleanup(limiter.Stop)
		handlers = handlers.WithRateLimit(limiter)
	}
	return handlers.SetupRoutes(), marketService
}

func performRequest(router *gin.Engine, method, target string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, target, nil)
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestHandlers_HealthCheck(t *testing.T) {
	router, _ := newTestRouter(t, false)

	recorder := performRequest(router, "GET", "/health")
	if recorder.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", recorder.Code, http.StatusOK)
	}

	var response models.HealthCheck
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("response unmarshal error = %v", err)
	}
	if response.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", response.Status)
	}
	if response.Version == "" || response.Uptime == "" {
		t.Error("response missing version or uptime")
	}
}

func TestHandlers_GetStock(t *testing.T) {
	router, _ := newTestRouter(t, false)

	recorder := performRequest(router, "GET", "/api/v1/stocks/aapl")
	if recorder.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/stocks/aapl status = %d, want %d: %s", recorder.Code, http.StatusOK, recorder.Body.String())
	}

	var quote models.Quote
	if err := json.Unmarshal(recorder.Body.Bytes(), &quote); err != nil {
		t.Fatalf("response unmarshal error = %v", err)
	}
	if quote.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", quote.Symbol)
	}
	if quote.Price != 120.5 {
		t.Errorf("Price = %v, want 120.5", quote.Price)
	}
	if quote.IsSampleData {
		t.Error("IsSampleData = true, want live quote")
	}
}

func TestHandlers_GetStock_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, false)

	recorder := performRequest(router, "GET", "/api/v1/stocks/MISSING1")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusNotFound)
	}

	var response models.ErrorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("response unmarshal error = %v", err)
	}
	if response.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want %d", response.Code, http.StatusNotFound)
	}
}

func TestHandlers_GetCrypto(t *testing.T) {
	router, _ := newTestRouter(t, false)

	recorder := performRequest(router, "GET", "/api/v1/cryptos/btc")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}

	var quote models.Quote
	if err := json.Unmarshal(recorder.Body.Bytes(), &quote); err != nil {
		t.Fatalf("response unmarshal error = %v", err)
	}
	if quote.Symbol != "BTC" {
		t.Errorf("Symbol = %q, want BTC", quote.Symbol)
	}
}

func TestHandlers_GetTrendingStocks(t *testing.T) {
	router, _ := newTestRouter(t, false)

	recorder := performRequest(router, "GET", "/api/v1/trending/stocks?region=us&limit=4")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", recorder.Code, http.StatusOK, recorder.Body.String())
	}

	var response struct {
		Region string         `json:"region"`
		Count  int            `json:"count"`
		Quotes []models.Quote `json:"quotes"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("response unmarshal error = %v", err)
	}
	if response.Region != "US" {
		t.Errorf("region = %q, want US", response.Region)
	}
	if response.Count != 4 || len(response.Quotes) != 4 {
		t.Errorf("count = %d with %d quotes, want 4", response.Count, len(response.Quotes))
	}
}

func TestHandlers_GetTrendingCryptos_InvalidLimit(t *testing.T) {
	router, _ := newTestRouter(t, false)

	for _, target := range []string{
		"/api/v1/trending/cryptos?limit=abc",
		"/api/v1/trending/cryptos?limit=0",
		"/api/v1/trending/cryptos?limit=-3",
	} {
		recorder := performRequest(router, "GET", target)
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want %d", target, recorder.Code, http.StatusBadRequest)
		}
	}
}

func TestHandlers_GetQuoteBatch(t *testing.T) {
	router, _ := newTestRouter(t, false)

	recorder := performRequest(router, "GET", "/api/v1/quotes?symbols=AAPL,MSFT")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", recorder.Code, http.StatusOK, recorder.Body.String())
	}

	var response struct {
		Count  int                     `json:"count"`
		Quotes map[string]models.Quote `json:"quotes"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("response unmarshal error = %v", err)
	}
	if response.Count != 2 {
		t.Errorf("count = %d, want 2", response.Count)
	}
	if _, ok := response.Quotes["MSFT"]; !ok {
		t.Error("missing quote for MSFT")
	}
}

func TestHandlers_GetQuoteBatch_BadRequests(t *testing.T) {
	router, _ := newTestRouter(t, false)

	if recorder := performRequest(router, "GET", "/api/v1/quotes"); recorder.Code != http.StatusBadRequest {
		t.Errorf("missing symbols status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}

	oversized := "/api/v1/quotes?symbols=" + strings.Repeat("S,", maxBatchSymbols) + "S"
	if recorder := performRequest(router, "GET", oversized); recorder.Code != http.StatusBadRequest {
		t.Errorf("oversized batch status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestHandlers_AdminEndpoints(t *testing.T) {
	router, marketService := newTestRouter(t, false)

	// populate the cache and metrics first
	if recorder := performRequest(router, "GET", "/api/v1/stocks/AAPL"); recorder.Code != http.StatusOK {
		t.Fatalf("priming request status = %d", recorder.Code)
	}

	recorder := performRequest(router, "GET", "/api/v1/admin/cache/stats")
	if recorder.Code != http.StatusOK {
		t.Fatalf("cache stats status = %d, want %d", recorder.Code, http.StatusOK)
	}
	var stats models.CacheStats
	if err := json.Unmarshal(recorder.Body.Bytes(), &stats); err != nil {
		t.Fatalf("stats unmarshal error = %v", err)
	}
	if stats.Size != 1 {
		t.Errorf("cache Size = %d, want 1", stats.Size)
	}

	recorder = performRequest(router, "GET", "/api/v1/admin/circuits")
	if recorder.Code != http.StatusOK {
		t.Fatalf("circuits status = %d, want %d", recorder.Code, http.StatusOK)
	}
	var circuits map[string]models.CircuitSnapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &circuits); err != nil {
		t.Fatalf("circuits unmarshal error = %v", err)
	}
	if circuits["stocks"].State != "closed" {
		t.Errorf("stocks circuit = %q, want closed", circuits["stocks"].State)
	}

	recorder = performRequest(router, "GET", "/api/v1/admin/metrics")
	if recorder.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", recorder.Code, http.StatusOK)
	}

	recorder = performRequest(router, "DELETE", "/api/v1/admin/cache?category=stocks")
	if recorder.Code != http.StatusOK {
		t.Fatalf("cache clear status = %d, want %d", recorder.Code, http.StatusOK)
	}
	var summary models.ClearSummary
	if err := json.Unmarshal(recorder.Body.Bytes(), &summary); err != nil {
		t.Fatalf("summary unmarshal error = %v", err)
	}
	if summary.Removed != 1 {
		t.Errorf("Removed = %d, want 1", summary.Removed)
	}
	if marketService.CacheStats().Size != 0 {
		t.Error("cache not empty after clear")
	}
}

func TestHandlers_RateLimit(t *testing.T) {
	server := newMockMarketServer(t)
	t.Cleanup(server.Close)

	cfg := testutils.MockConfig()
	cfg.StockProvider.BaseURL = server.URL
	cfg.CryptoProvider.BaseURL = server.URL
	cfg.RateLimitRequests = 2

	log := testutils.MockLogger()
	dataCache := cache.New(cfg.CacheMaxSize, cfg.CacheSweepInterval, log)
	t.Cleanup(dataCache.Stop)
	limiter := ratelimit.NewLimiter(cfg, log)
	t.Cleanup(limiter.Stop)

	marketService := service.NewMarketService(cfg, log, dataCache,
		service.NewHTTPQuoteProvider(cfg.StockProvider, log),
		service.NewHTTPQuoteProvider(cfg.CryptoProvider, log))
	router := NewHandlers(marketService, log).WithRateLimit(limiter).SetupRoutes()

	for index := 0; index < 2; index++ {
		if recorder := performRequest(router, "GET", "/health"); recorder.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want %d", index+1, recorder.Code, http.StatusOK)
		}
	}

	recorder := performRequest(router, "GET", "/health")
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusTooManyRequests)
	}
	if recorder.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", recorder.Header().Get("X-RateLimit-Limit"))
	}
	if recorder.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", recorder.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestHandlers_RequestIDHeader(t *testing.T) {
	router, _ := newTestRouter(t, false)

	recorder := performRequest(router, "GET", "/health")
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	request := httptest.NewRequest("GET", "/health", nil)
	request.Header.Set("X-Request-ID", "caller-supplied")
	echo := httptest.NewRecorder()
	router.ServeHTTP(echo, request)
	if got := echo.Header().Get("X-Request-ID"); got != "caller-supplied" {
		t.Errorf("X-Request-ID = %q, want caller-supplied echoed back", got)
	}
}
