package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"market-dashboard-api/internal/config"
	"market-dashboard-api/internal/logger"
	"market-dashboard-api/internal/models"
)

// HTTPQuoteProvider implements QuoteProvider against an HTTP market data
// API exposing a neutral JSON quote shape.
type HTTPQuoteProvider struct {
	configuration config.MarketDataProvider
	logger        *logger.Logger
	httpClient    *http.Client
}

// NewHTTPQuoteProvider creates a new HTTP quote provider
func NewHTTPQuoteProvider(configuration config.MarketDataProvider, logger *logger.Logger) *HTTPQuoteProvider {
	httpTransport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPQuoteProvider{
		configuration: configuration,
		logger:        logger,
		httpClient: &http.Client{
			Timeout:   configuration.Timeout,
			Transport: httpTransport,
		},
	}
}

// GetName returns the provider name
func (provider *HTTPQuoteProvider) GetName() string {
	return provider.configuration.Name
}

type quotePayload struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	PreviousClose float64 `json:"previous_close"`
	MarketCap     float64 `json:"market_cap"`
	Volume        int64   `json:"volume"`
}

func (payload quotePayload) toQuote() models.Quote {
	quote := models.NewQuote(payload.Symbol, payload.Name, payload.Price, payload.PreviousClose)
	quote.MarketCap = payload.MarketCap
	quote.Volume = payload.Volume
	return quote
}

// FetchOne resolves a single symbol
func (provider *HTTPQuoteProvider) FetchOne(ctx context.Context, symbol string) (models.Quote, error) {
	endpoint := fmt.Sprintf("%s/quote/%s", provider.configuration.BaseURL, url.PathEscape(symbol))

	body, err := provider.getWithRetry(ctx, endpoint)
	if err != nil {
		return models.Quote{}, err
	}

	var payload quotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Quote{}, &ServiceError{
			Type:    ErrorTypeInvalidResponse,
			Message: fmt.Sprintf("failed to parse quote for %s", symbol),
			Cause:   err,
		}
	}
	return payload.toQuote(), nil
}

// FetchMany resolves a set of symbols; unresolved symbols are absent from
// the result map.
func (provider *HTTPQuoteProvider) FetchMany(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	endpoint := fmt.Sprintf("%s/quotes?symbols=%s", provider.configuration.BaseURL, url.QueryEscape(strings.Join(symbols, ",")))

	body, err := provider.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Quotes []quotePayload `json:"quotes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ServiceError{
			Type:    ErrorTypeInvalidResponse,
			Message: "failed to parse quote batch",
			Cause:   err,
		}
	}

	quotes := make(map[string]models.Quote, len(payload.Quotes))
	for _, quotePayload := range payload.Quotes {
		if quotePayload.Symbol == "" {
			continue
		}
		quotes[quotePayload.Symbol] = quotePayload.toQuote()
	}
	return quotes, nil
}

// ListCandidates returns the upstream's default symbol universe for the
// given region or ordering criteria.
func (provider *HTTPQuoteProvider) ListCandidates(ctx context.Context, criteria string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/candidates?criteria=%s", provider.configuration.BaseURL, url.QueryEscape(criteria))

	body, err := provider.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ServiceError{
			Type:    ErrorTypeInvalidResponse,
			Message: "failed to parse candidate list",
			Cause:   err,
		}
	}
	return payload.Symbols, nil
}

// getWithRetry performs a GET, retrying transport-level failures. A 404
// is a confirmed absence and is never retried.
func (provider *HTTPQuoteProvider) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	attempts := provider.configuration.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastError error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			provider.logger.Debugf("Retrying %s request (attempt %d/%d)", provider.configuration.Name, attempt+1, attempts)
			select {
			case <-time.After(provider.configuration.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := provider.get(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}
		lastError = err
	}
	return nil, lastError
}

func (provider *HTTPQuoteProvider) get(ctx context.Context, endpoint string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if provider.configuration.APIKey != "" {
		request.Header.Set("X-API-Key", provider.configuration.APIKey)
	}

	response, err := provider.httpClient.Do(request)
	if err != nil {
		return nil, &ServiceError{
			Type:    ErrorTypeNetworkError,
			Message: fmt.Sprintf("%s request failed", provider.configuration.Name),
			Cause:   err,
		}
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(response.Body)
		return nil, &ServiceError{
			Type:    ErrorTypeProviderFailed,
			Message: fmt.Sprintf("%s returned status %d: %s", provider.configuration.Name, response.StatusCode, string(body)),
		}
	}

	return io.ReadAll(response.Body)
}
