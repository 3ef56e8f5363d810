package service

import (
	"context"
	"errors"
	"fmt"

	"market-dashboard-api/internal/models"
)

// ErrNotFound signals that a provider resolved the request and confirmed
// the symbol does not exist. It is distinct from unavailability: confirmed
// absence is surfaced to callers, never papered over with sample data.
var ErrNotFound = errors.New("symbol not found")

// ErrRateLimited signals that the outbound throttle denied a fetch slot.
// Batch fetches skip the symbol; single fetches degrade to stale or
// sample data instead.
var ErrRateLimited = errors.New("fetch rate limited")

// QuoteProvider is the upstream capability consumed by the orchestrator.
// Implementations resolve symbols against one market data integration;
// the orchestrator treats them as black boxes with latency and failure
// modes it must tolerate.
type QuoteProvider interface {
	// GetName returns the provider name used in logs and metrics
	GetName() string

	// FetchOne resolves a single symbol. Returns ErrNotFound when the
	// upstream confirms the symbol does not exist.
	FetchOne(ctx context.Context, symbol string) (models.Quote, error)

	// FetchMany resolves a set of symbols, returning partial results.
	// Unresolvable symbols are simply absent from the map.
	FetchMany(ctx context.Context, symbols []string) (map[string]models.Quote, error)

	// ListCandidates returns the ordered default symbol universe for a
	// region or ordering, used to seed trending computations.
	ListCandidates(ctx context.Context, criteria string) ([]string, error)
}

// Error classification mirrored onto transport failures
type ErrorType int

const (
	ErrorTypeProviderFailed ErrorType = iota
	ErrorTypeContextCancelled
	ErrorTypeNetworkError
	ErrorTypeInvalidResponse
	ErrorTypeUnknown
)

// ServiceError represents a provider or pipeline error with type information
type ServiceError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// classifyError buckets an error for logging
func classifyError(err error) ErrorType {
	var serviceError *ServiceError
	if errors.As(err, &serviceError) {
		return serviceError.Type
	}

	switch {
	case err == nil:
		return ErrorTypeUnknown
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeContextCancelled
	default:
		errMsg := err.Error()
		switch {
		case containsAny(errMsg, "network", "connection", "timeout"):
			return ErrorTypeNetworkError
		case containsAny(errMsg, "invalid response", "parse", "unmarshal"):
			return ErrorTypeInvalidResponse
		default:
			return ErrorTypeUnknown
		}
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, substring := range substrings {
		if len(s) >= len(substring) && indexOf(s, substring) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, substring string) int {
	for i := 0; i+len(substring) <= len(s); i++ {
		if s[i:i+len(substring)] == substring {
			return i
		}
	}
	return -1
}
