package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"market-dashboard-api/internal/config"
	"market-dashboard-api/internal/logger"
)

// Limiter implements a sliding-window rate limiter keyed by an arbitrary
// string, typically a client IP. Accepted request timestamps are kept per
// key and pruned as the window slides; state is in-memory only, so a
// restart resets all counters.
type Limiter struct {
	Configuration *config.Config
	logger        *logger.Logger

	windowsMutex sync.Mutex
	windows      map[string][]time.Time

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewLimiter creates a new rate limiter and starts its cleanup goroutine
func NewLimiter(configuration *config.Config, logger *logger.Logger) *Limiter {
	rateLimiter := &Limiter{
		Configuration: configuration,
		logger:        logger,
		windows:       make(map[string][]time.Time),
		cleanupTicker: time.NewTicker(5 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}

	go rateLimiter.cleanup()

	return rateLimiter
}

// Allow checks the configured inbound limit for the given client IP
func (rateLimiter *Limiter) Allow(clientIP string) bool {
	if !rateLimiter.Configuration.RateLimitEnabled {
		return true
	}
	return rateLimiter.IsAllowed(clientIP, rateLimiter.Configuration.RateLimitRequests, rateLimiter.Configuration.RateLimitWindow)
}

// IsAllowed admits and records the request iff fewer than limit requests
// were accepted for the key within the window. Rejected requests are not
// recorded, so a rejected burst does not extend the penalty.
func (rateLimiter *Limiter) IsAllowed(key string, limit int, window time.Duration) bool {
	rateLimiter.windowsMutex.Lock()
	defer rateLimiter.windowsMutex.Unlock()

	recent := rateLimiter.pruneLocked(key, window)
	if len(recent) >= limit {
		return false
	}

	rateLimiter.windows[key] = append(recent, time.Now())
	return true
}

// GetRemaining reports how many requests the key may still issue within
// the window, without recording anything.
func (rateLimiter *Limiter) GetRemaining(key string, limit int, window time.Duration) int {
	rateLimiter.windowsMutex.Lock()
	defer rateLimiter.windowsMutex.Unlock()

	remaining := limit - len(rateLimiter.pruneLocked(key, window))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears the recorded history for a key and reports whether any
// history existed.
func (rateLimiter *Limiter) Reset(key string) bool {
	rateLimiter.windowsMutex.Lock()
	defer rateLimiter.windowsMutex.Unlock()

	_, existed := rateLimiter.windows[key]
	delete(rateLimiter.windows, key)
	return existed
}

// pruneLocked drops timestamps that have slid out of the window and
// stores the pruned history back, so the map entry always matches what
// the caller saw. The filter reuses the backing array, which is only
// safe because the shortened slice replaces the original. Callers must
// hold windowsMutex.
func (rateLimiter *Limiter) pruneLocked(key string, window time.Duration) []time.Time {
	history, tracked := rateLimiter.windows[key]
	if !tracked {
		return nil
	}

	cutoff := time.Now().Add(-window)
	recent := history[:0]
	for _, accepted := range history {
		if accepted.After(cutoff) {
			recent = append(recent, accepted)
		}
	}
	rateLimiter.windows[key] = recent
	return recent
}

// GetClientIP extracts the real client IP from the request
func (rateLimiter *Limiter) GetClientIP(request *http.Request) string {
	// Check X-Forwarded-For header
	if xForwardedFor := request.Header.Get("X-Forwarded-For"); xForwardedFor != "" {
		if clientIP := net.ParseIP(xForwardedFor); clientIP != nil {
			return clientIP.String()
		}
		if host, _, err := net.SplitHostPort(xForwardedFor); err == nil {
			if clientIP := net.ParseIP(host); clientIP != nil {
				return clientIP.String()
			}
		}
	}

	// Check X-Real-IP header
	if xRealIP := request.Header.Get("X-Real-IP"); xRealIP != "" {
		if clientIP := net.ParseIP(xRealIP); clientIP != nil {
			return clientIP.String()
		}
	}

	// Fall back to RemoteAddr
	clientIP, _, parseError := net.SplitHostPort(request.RemoteAddr)
	if parseError != nil {
		return request.RemoteAddr
	}
	return clientIP
}

// cleanup drops keys whose entire history has aged out, bounding memory
// for clients that never return.
func (rateLimiter *Limiter) cleanup() {
	for {
		select {
		case <-rateLimiter.cleanupTicker.C:
			rateLimiter.windowsMutex.Lock()
			cutoff := time.Now().Add(-rateLimiter.Configuration.RateLimitWindow)
			for key, accepted := range rateLimiter.windows {
				if len(accepted) == 0 || !accepted[len(accepted)-1].After(cutoff) {
					delete(rateLimiter.windows, key)
				}
			}
			rateLimiter.windowsMutex.Unlock()
		case <-rateLimiter.stopCleanup:
			rateLimiter.cleanupTicker.Stop()
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rateLimiter *Limiter) Stop() {
	close(rateLimiter.stopCleanup)
}
