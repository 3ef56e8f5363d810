package ratelimit

import (
	"sync"
	"time"
)

// Throttle enforces a minimum interval between accepted requests per key.
// It spaces outbound per-symbol fetches; a denied caller is expected to
// serve stale cache data or decline, never to wait.
type Throttle struct {
	minInterval time.Duration

	requestsMutex sync.Mutex
	lastRequest   map[string]time.Time
}

// NewThrottle creates a throttle with the given minimum spacing. A
// non-positive interval disables throttling.
func NewThrottle(minInterval time.Duration) *Throttle {
	return &Throttle{
		minInterval: minInterval,
		lastRequest: make(map[string]time.Time),
	}
}

// Allow reports whether a request for the key may proceed now, recording
// the attempt when it may.
func (throttle *Throttle) Allow(key string) bool {
	if throttle.minInterval <= 0 {
		return true
	}

	throttle.requestsMutex.Lock()
	defer throttle.requestsMutex.Unlock()

	now := time.Now()
	if last, ok := throttle.lastRequest[key]; ok && now.Sub(last) < throttle.minInterval {
		return false
	}

	throttle.lastRequest[key] = now
	return true
}

// Reset forgets the last accepted request for a key
func (throttle *Throttle) Reset(key string) {
	throttle.requestsMutex.Lock()
	defer throttle.requestsMutex.Unlock()
	delete(throttle.lastRequest, key)
}
