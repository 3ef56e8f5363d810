package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"market-dashboard-api/internal/breaker"
	"market-dashboard-api/internal/cache"
	"market-dashboard-api/internal/config"
	"market-dashboard-api/internal/fallback"
	"market-dashboard-api/internal/logger"
	"market-dashboard-api/internal/metrics"
	"market-dashboard-api/internal/models"
	"market-dashboard-api/internal/ratelimit"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// defaultTrendingLimit is used when callers pass a non-positive limit
const defaultTrendingLimit = 10

// assetClass binds one kind of market data to its provider, breaker and
// cache settings.
type assetClass struct {
	name     string
	category string
	ttl      time.Duration
	provider QuoteProvider
	breaker  *breaker.Breaker
}

// MarketService is the data orchestrator. For every request it consults
// cache, then the throttled, breaker-wrapped provider, then the sample
// data generator, writing live results back to the cache. Synthetic
// records are never cached.
type MarketService struct {
	configuration *config.Config
	logger        *logger.Logger
	cache         *cache.Cache
	fallback      *fallback.Generator
	tracker       *metrics.Tracker
	throttle      *ratelimit.Throttle

	stocks  assetClass
	cryptos assetClass

	flightGroup    singleflight.Group
	fetchSemaphore *semaphore.Weighted
	startTime      time.Time
}

// NewMarketService wires the pipeline together
func NewMarketService(configuration *config.Config, log *logger.Logger, dataCache *cache.Cache, stockProvider, cryptoProvider QuoteProvider) *MarketService {
	return &MarketService{
		configuration: configuration,
		logger:        log,
		cache:         dataCache,
		fallback:      fallback.NewGenerator(nil),
		tracker:       metrics.NewTracker(),
		throttle:      ratelimit.NewThrottle(configuration.FetchMinInterval),
		stocks: assetClass{
			name:     "stocks",
			category: cache.CategoryStocks,
			ttl:      configuration.StocksTTL,
			provider: stockProvider,
			breaker:  breaker.New("stocks", configuration.BreakerFailureThreshold, configuration.BreakerResetTimeout, log),
		},
		cryptos: assetClass{
			name:     "cryptos",
			category: cache.CategoryCryptos,
			ttl:      configuration.CryptosTTL,
			provider: cryptoProvider,
			breaker:  breaker.New("cryptos", configuration.BreakerFailureThreshold, configuration.BreakerResetTimeout, log),
		},
		fetchSemaphore: semaphore.NewWeighted(int64(configuration.MaxConcurrentFetches)),
		startTime:      time.Now(),
	}
}

// WithGenerator replaces the sample data generator, letting tests inject
// a deterministic random source.
func (marketService *MarketService) WithGenerator(generator *fallback.Generator) *MarketService {
	marketService.fallback = generator
	return marketService
}

// GetStock returns the current quote for a stock symbol. Live data is
// served from cache when fresh; otherwise it is fetched and cached. On
// unavailability the last known (stale) quote or a tagged sample quote is
// returned instead. ErrNotFound is returned only for confirmed absence.
func (marketService *MarketService) GetStock(ctx context.Context, symbol string) (models.Quote, error) {
	return marketService.getQuote(ctx, &marketService.stocks, symbol, marketService.fallback.Stock)
}

// GetCrypto returns the current quote for a cryptocurrency symbol with
// the same semantics as GetStock.
func (marketService *MarketService) GetCrypto(ctx context.Context, symbol string) (models.Quote, error) {
	return marketService.getQuote(ctx, &marketService.cryptos, symbol, marketService.fallback.Crypto)
}

func (marketService *MarketService) getQuote(ctx context.Context, asset *assetClass, symbol string, sample func(string) models.Quote) (models.Quote, error) {
	symbol = normalizeSymbol(symbol)

	value, fresh, present := marketService.cache.Lookup(symbol, asset.category)
	if fresh {
		if quote, ok := value.(models.Quote); ok {
			return quote, nil
		}
	}

	var stale *models.Quote
	if present {
		if quote, ok := value.(models.Quote); ok {
			stale = &quote
		}
	}

	flightKey := asset.category + ":" + symbol
	result, err, _ := marketService.flightGroup.Do(flightKey, func() (interface{}, error) {
		// another in-flight request may have refreshed the cache already
		if value, ok := marketService.cache.Get(symbol, asset.category); ok {
			if quote, ok := value.(models.Quote); ok {
				return quote, nil
			}
		}

		if !marketService.throttle.Allow(flightKey) {
			if stale != nil {
				marketService.logger.Debugf("Serving stale %s quote for %s, fetch throttled", asset.name, symbol)
				return *stale, nil
			}
			return marketService.sampleQuote(asset, symbol, sample), nil
		}

		// The fetch is shared by every coalesced caller and its result is
		// cached for the next one, so a single caller abandoning the
		// request must not cancel it. The provider's own timeout bounds it.
		quote, err := marketService.fetchOne(context.WithoutCancel(ctx), asset, symbol)
		if err == nil {
			marketService.cache.Set(symbol, asset.category, quote, asset.ttl)
			return quote, nil
		}
		if errors.Is(err, ErrNotFound) {
			return models.Quote{}, ErrNotFound
		}

		marketService.logFetchFailure(asset, symbol, err)
		if stale != nil {
			return *stale, nil
		}
		return marketService.sampleQuote(asset, symbol, sample), nil
	})
	if err != nil {
		return models.Quote{}, err
	}
	return result.(models.Quote), nil
}

// fetchOne runs a single-symbol fetch through the asset's circuit breaker
// and records service metrics. A confirmed absence counts as a successful
// provider interaction, not a failure.
func (marketService *MarketService) fetchOne(ctx context.Context, asset *assetClass, symbol string) (models.Quote, error) {
	var quote models.Quote
	notFound := false

	start := time.Now()
	err := asset.breaker.Do(ctx, func(ctx context.Context) error {
		fetched, fetchError := asset.provider.FetchOne(ctx, symbol)
		if errors.Is(fetchError, ErrNotFound) {
			notFound = true
			return nil
		}
		if fetchError != nil {
			return fetchError
		}
		quote = fetched
		return nil
	})

	if errors.Is(err, breaker.ErrOpen) {
		marketService.tracker.RecordRejected(asset.name)
		return models.Quote{}, err
	}
	marketService.tracker.Record(asset.name, err == nil, time.Since(start))

	if err != nil {
		return models.Quote{}, err
	}
	if notFound {
		return models.Quote{}, ErrNotFound
	}
	return quote, nil
}

// GetTrendingStocks returns the trending list for a region, ordered by
// percent change descending. When live data covers less than the
// configured fraction of the requested limit, a synthetic list is
// returned (and never cached).
func (marketService *MarketService) GetTrendingStocks(ctx context.Context, region string, limit int) ([]models.Quote, error) {
	region = normalizeRegion(region)
	limit = normalizeLimit(limit)

	cacheKey := fmt.Sprintf("stocks_%s_%d", region, limit)
	sample := func() []models.Quote { return marketService.fallback.TrendingStocks(region, limit) }

	return marketService.getTrending(ctx, &marketService.stocks, cacheKey, region, limit, models.OrderByChangePercent, sample)
}

// GetTrendingCryptos returns the trending cryptocurrency list ordered by
// the requested key descending.
func (marketService *MarketService) GetTrendingCryptos(ctx context.Context, orderBy models.TrendingOrder, limit int) ([]models.Quote, error) {
	limit = normalizeLimit(limit)

	cacheKey := fmt.Sprintf("cryptos_%s_%d", orderBy, limit)
	sample := func() []models.Quote { return marketService.fallback.TrendingCryptos(limit, orderBy) }

	return marketService.getTrending(ctx, &marketService.cryptos, cacheKey, string(orderBy), limit, orderBy, sample)
}

func (marketService *MarketService) getTrending(ctx context.Context, asset *assetClass, cacheKey, criteria string, limit int, orderBy models.TrendingOrder, sample func() []models.Quote) ([]models.Quote, error) {
	if value, ok := marketService.cache.Get(cacheKey, cache.CategoryTrending); ok {
		if quotes, ok := value.([]models.Quote); ok {
			return quotes, nil
		}
	}

	result, err, _ := marketService.flightGroup.Do("trending:"+cacheKey, func() (interface{}, error) {
		if value, ok := marketService.cache.Get(cacheKey, cache.CategoryTrending); ok {
			if quotes, ok := value.([]models.Quote); ok {
				return quotes, nil
			}
		}

		valid, fetchError := marketService.fetchTrending(context.WithoutCancel(ctx), asset, criteria, limit, orderBy)
		if fetchError != nil {
			marketService.logFetchFailure(asset, "trending:"+criteria, fetchError)
			return sample(), nil
		}

		if len(valid) < int(float64(limit)*marketService.configuration.TrendingMinValidFraction) {
			marketService.logger.Warnf("Trending %s fetch returned %d of %d requested quotes, serving sample data", asset.name, len(valid), limit)
			return sample(), nil
		}

		marketService.cache.Set(cacheKey, cache.CategoryTrending, valid, marketService.configuration.TrendingTTL)
		return valid, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Quote), nil
}

// fetchTrending resolves the candidate universe and batch-fetches it
// through the circuit breaker, returning only valid quotes sorted by the
// requested key. The candidate list changes rarely, so it is held under
// the long metadata TTL and reused across trending refreshes.
func (marketService *MarketService) fetchTrending(ctx context.Context, asset *assetClass, criteria string, limit int, orderBy models.TrendingOrder) ([]models.Quote, error) {
	candidatesKey := asset.name + "_candidates_" + criteria
	var candidates []string
	if value, ok := marketService.cache.Get(candidatesKey, cache.CategoryMetadata); ok {
		if cached, ok := value.([]string); ok {
			candidates = cached
		}
	}

	var fetched map[string]models.Quote

	start := time.Now()
	err := asset.breaker.Do(ctx, func(ctx context.Context) error {
		if len(candidates) == 0 {
			listed, listError := asset.provider.ListCandidates(ctx, criteria)
			if listError != nil {
				return listError
			}
			marketService.cache.Set(candidatesKey, cache.CategoryMetadata, listed, marketService.configuration.MetadataTTL)
			candidates = listed
		}

		batch := candidates
		if len(batch) > limit {
			batch = batch[:limit]
		}

		quotes, fetchError := asset.provider.FetchMany(ctx, batch)
		if fetchError != nil {
			return fetchError
		}
		fetched = quotes
		return nil
	})

	if errors.Is(err, breaker.ErrOpen) {
		marketService.tracker.RecordRejected(asset.name)
		return nil, err
	}
	marketService.tracker.Record(asset.name, err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	valid := make([]models.Quote, 0, len(fetched))
	for _, quote := range fetched {
		if quote.Valid() {
			valid = append(valid, quote)
		}
	}
	sortByOrder(valid, orderBy)
	if len(valid) > limit {
		valid = valid[:limit]
	}
	return valid, nil
}

// GetMany returns quotes for a set of stock symbols, serving what it can
// from cache and fetching the remainder in bounded concurrent sub-batches
// with a delay between batches. The result is partial: symbols that could
// not be resolved are absent.
func (marketService *MarketService) GetMany(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	normalized := normalizeSymbols(symbols)

	results := make(map[string]models.Quote, len(normalized))
	missing := make([]string, 0, len(normalized))

	for symbol, value := range marketService.cache.GetBatch(normalized, cache.CategoryStocks) {
		if quote, ok := value.(models.Quote); ok {
			results[symbol] = quote
		}
	}
	for _, symbol := range normalized {
		if _, ok := results[symbol]; !ok {
			missing = append(missing, symbol)
		}
	}

	batchSize := marketService.configuration.FetchBatchSize
	for offset := 0; offset < len(missing); offset += batchSize {
		end := offset + batchSize
		if end > len(missing) {
			end = len(missing)
		}

		for symbol, quote := range marketService.fetchSubBatch(ctx, missing[offset:end]) {
			results[symbol] = quote
		}

		if end < len(missing) && marketService.configuration.FetchBatchDelay > 0 {
			select {
			case <-time.After(marketService.configuration.FetchBatchDelay):
			case <-ctx.Done():
				return results, nil
			}
		}
	}
	return results, nil
}

// fetchSubBatch fans out single-symbol fetches under the concurrency
// ceiling, caching each fresh result. Failures are skipped; the batch
// result is partial rather than erroring.
func (marketService *MarketService) fetchSubBatch(ctx context.Context, symbols []string) map[string]models.Quote {
	type symbolResult struct {
		symbol string
		quote  models.Quote
		err    error
	}

	resultsChannel := make(chan symbolResult, len(symbols))
	for _, symbol := range symbols {
		go func(symbol string) {
			if err := marketService.fetchSemaphore.Acquire(ctx, 1); err != nil {
				resultsChannel <- symbolResult{symbol: symbol, err: err}
				return
			}
			defer marketService.fetchSemaphore.Release(1)

			if !marketService.throttle.Allow(cache.CategoryStocks + ":" + symbol) {
				resultsChannel <- symbolResult{symbol: symbol, err: ErrRateLimited}
				return
			}

			// dispatched fetches run to completion even if the batch
			// caller goes away, so their results still land in the cache
			quote, err := marketService.fetchOne(context.WithoutCancel(ctx), &marketService.stocks, symbol)
			resultsChannel <- symbolResult{symbol: symbol, quote: quote, err: err}
		}(symbol)
	}

	fetched := make(map[string]models.Quote, len(symbols))
	for range symbols {
		result := <-resultsChannel
		if result.err != nil {
			continue
		}
		marketService.cache.Set(result.symbol, cache.CategoryStocks, result.quote, marketService.configuration.StocksTTL)
		fetched[result.symbol] = result.quote
	}
	return fetched
}

// ClearCache removes a category of cached data, or everything when the
// category is empty.
func (marketService *MarketService) ClearCache(category string) models.ClearSummary {
	removed := marketService.cache.Clear(category)
	marketService.logger.Infof("Cache clear removed %d entries (category=%q)", removed, category)
	return models.ClearSummary{
		Category:  category,
		Removed:   removed,
		Timestamp: time.Now(),
	}
}

// CacheStats returns cache counters for admin endpoints
func (marketService *MarketService) CacheStats() models.CacheStats {
	return marketService.cache.Stats()
}

// CircuitStatus returns the state of every circuit breaker
func (marketService *MarketService) CircuitStatus() map[string]models.CircuitSnapshot {
	return map[string]models.CircuitSnapshot{
		marketService.stocks.name:  marketService.stocks.breaker.Snapshot(),
		marketService.cryptos.name: marketService.cryptos.breaker.Snapshot(),
	}
}

// ServiceMetrics returns per-service request counters
func (marketService *MarketService) ServiceMetrics() map[string]models.ServiceMetrics {
	return marketService.tracker.Snapshot()
}

// HealthCheck summarizes pipeline health from circuit state
func (marketService *MarketService) HealthCheck() models.HealthCheck {
	services := map[string]string{
		"cache":   "healthy",
		"stocks":  circuitHealth(marketService.stocks.breaker.State()),
		"cryptos": circuitHealth(marketService.cryptos.breaker.State()),
	}

	overall := "healthy"
	for _, status := range services {
		if status == "unhealthy" {
			overall = "unhealthy"
			break
		}
		if status == "degraded" {
			overall = "degraded"
		}
	}

	return models.HealthCheck{
		Status:    overall,
		Services:  services,
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Uptime:    time.Since(marketService.startTime).String(),
	}
}

func (marketService *MarketService) sampleQuote(asset *assetClass, symbol string, sample func(string) models.Quote) models.Quote {
	marketService.logger.Infof("Serving sample %s quote for %s", asset.name, symbol)
	return sample(symbol)
}

func (marketService *MarketService) logFetchFailure(asset *assetClass, subject string, err error) {
	switch classifyError(err) {
	case ErrorTypeContextCancelled:
		marketService.logger.Warnf("%s fetch for %s cancelled: %v", asset.name, subject, err)
	case ErrorTypeNetworkError:
		marketService.logger.Warnf("%s fetch for %s network error: %v", asset.name, subject, err)
	case ErrorTypeInvalidResponse:
		marketService.logger.Warnf("%s fetch for %s invalid response: %v", asset.name, subject, err)
	default:
		marketService.logger.Warnf("%s fetch for %s failed: %v", asset.name, subject, err)
	}
}

func circuitHealth(state breaker.State) string {
	switch state {
	case breaker.StateOpen:
		return "unhealthy"
	case breaker.StateHalfOpen:
		return "degraded"
	default:
		return "healthy"
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	normalized := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = normalizeSymbol(symbol)
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		normalized = append(normalized, symbol)
	}
	return normalized
}

func normalizeRegion(region string) string {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		return "US"
	}
	return region
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultTrendingLimit
	}
	return limit
}

func sortByOrder(quotes []models.Quote, orderBy models.TrendingOrder) {
	sort.Slice(quotes, func(i, j int) bool {
		switch orderBy {
		case models.OrderByMarketCap:
			return quotes[i].MarketCap > quotes[j].MarketCap
		case models.OrderByVolume:
			return quotes[i].Volume > quotes[j].Volume
		case models.OrderByPrice:
			return quotes[i].Price > quotes[j].Price
		default:
			return quotes[i].ChangePercent > quotes[j].ChangePercent
		}
	})
}
