package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"market-dashboard-api/internal/testutils"
)

func TestNewLimiter(t *testing.T) {
	cfg := testutils.MockConfig()
	logger := testutils.MockLogger()

	limiter := NewLimiter(cfg, logger)
	defer limiter.Stop()

	if limiter == nil {
		t.Fatal("NewLimiter() returned nil")
	}
	if limiter.Configuration != cfg {
		t.Errorf("NewLimiter() configuration = %v, want %v", limiter.Configuration, cfg)
	}
	if limiter.windows == nil {
		t.Error("NewLimiter() windows map is nil")
	}
	if limiter.cleanupTicker == nil {
		t.Error("NewLimiter() cleanupTicker is nil")
	}
	if limiter.stopCleanup == nil {
		t.Error("NewLimiter() stopCleanup is nil")
	}
}

func TestLimiter_IsAllowed(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		requests int
		expected []bool
	}{
		{
			name:     "within limit",
			limit:    5,
			requests: 3,
			expected: []bool{true, true, true},
		},
		{
			name:     "exactly five then rejected",
			limit:    5,
			requests: 6,
			expected: []bool{true, true, true, true, true, false},
		},
		{
			name:     "limit of one",
			limit:    1,
			requests: 3,
			expected: []bool{true, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewLimiter(testutils.MockConfig(), testutils.MockLogger())
			defer limiter.Stop()

			for i := 0; i < tt.requests; i++ {
				result := limiter.IsAllowed("client", tt.limit, 60*time.Second)
				if result != tt.expected[i] {
					t.Errorf("IsAllowed() request %d = %v, want %v", i, result, tt.expected[i])
				}
			}
		})
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	limiter := NewLimiter(testutils.MockConfig(), testutils.MockLogger())
	defer limiter.Stop()

	window := 40 * time.Millisecond
	for i := 0; i < 2; i++ {
		if !limiter.IsAllowed("client", 2, window) {
			t.Fatalf("IsAllowed() request %d = false, want true", i)
		}
	}
	if limiter.IsAllowed("client", 2, window) {
		t.Fatal("IsAllowed() = true with window full")
	}

	time.Sleep(50 * time.Millisecond)

	if !limiter.IsAllowed("client", 2, window) {
		t.Error("IsAllowed() = false after the window elapsed")
	}
}

func TestLimiter_RejectionNotRecorded(t *testing.T) {
	limiter := NewLimiter(testutils.MockConfig(), testutils.MockLogger())
	defer limiter.Stop()

	limiter.IsAllowed("client", 1, time.Minute)
	for i := 0; i < 5; i++ {
		limiter.IsAllowed("client", 1, time.Minute)
	}

	if remaining := limiter.GetRemaining("client", 1, time.Minute); remaining != 0 {
		t.Errorf("GetRemaining() = %d, want 0", remaining)
	}
	// only the single accepted request is on record
	limiter.windowsMutex.Lock()
	recorded := len(limiter.windows["client"])
	limiter.windowsMutex.Unlock()
	if recorded != 1 {
		t.Errorf("recorded timestamps = %d, want 1", recorded)
	}
}

func TestLimiter_GetRemaining(t *testing.T) {
	limiter := NewLimiter(testutils.MockConfig(), testutils.MockLogger())
	defer limiter.Stop()

	if remaining := limiter.GetRemaining("client", 5, time.Minute); remaining != 5 {
		t.Errorf("GetRemaining() for fresh key = %d, want 5", remaining)
	}

	limiter.IsAllowed("client", 5, time.Minute)
	limiter.IsAllowed("client", 5, time.Minute)

	if remaining := limiter.GetRemaining("client", 5, time.Minute); remaining != 3 {
		t.Errorf("GetRemaining() = %d, want 3", remaining)
	}

	// GetRemaining must not mutate state
	if remaining := limiter.GetRemaining("client", 5, time.Minute); remaining != 3 {
		t.Errorf("repeated GetRemaining() = %d, want 3", remaining)
	}
}

func TestLimiter_GetRemaining_PartiallyExpiredWindow(t *testing.T) {
	limiter := NewLimiter(testutils.MockConfig(), testutils.MockLogger())
	defer limiter.Stop()

	window := 60 * time.Millisecond

	// two accepted requests age out of the window, two stay live
	limiter.IsAllowed("client", 10, window)
	limiter.IsAllowed("client", 10, window)
	time.Sleep(80 * time.Millisecond)
	limiter.IsAllowed("client", 10, window)
	limiter.IsAllowed("client", 10, window)

	for i := 0; i < 3; i++ {
		if remaining := limiter.GetRemaining("client", 10, window); remaining != 8 {
			t.Fatalf("GetRemaining() call %d = %d, want 8", i, remaining)
		}
	}

	// the pruned history holds exactly the live timestamps, no duplicates
	limiter.windowsMutex.Lock()
	recorded := len(limiter.windows["client"])
	limiter.windowsMutex.Unlock()
	if recorded != 2 {
		t.Errorf("recorded timestamps = %d, want 2", recorded)
	}
}

func TestLimiter_Reset(t *testing.T) {
	limiter := NewLimiter(testutils.MockConfig(), testutils.MockLogger())
	defer limiter.Stop()

	limiter.IsAllowed("client", 1, time.Minute)
	if limiter.IsAllowed("client", 1, time.Minute) {
		t.Fatal("IsAllowed() = true with window full")
	}

	if !limiter.Reset("client") {
		t.Error("Reset() = false for key with history")
	}
	if !limiter.IsAllowed("client", 1, time.Minute) {
		t.Error("IsAllowed() = false after Reset()")
	}
	if limiter.Reset("absent") {
		t.Error("Reset() = true for unknown key")
	}
}

func TestLimiter_DifferentKeys(t *testing.T) {
	limiter := NewLimiter(testutils.MockConfig(), testutils.MockLogger())
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		if !limiter.IsAllowed("192.168.1.1", 3, time.Minute) {
			t.Errorf("IsAllowed() key1 request %d = false, want true", i)
		}
		if !limiter.IsAllowed("192.168.1.2", 3, time.Minute) {
			t.Errorf("IsAllowed() key2 request %d = false, want true", i)
		}
	}

	if limiter.IsAllowed("192.168.1.1", 3, time.Minute) {
		t.Error("IsAllowed() key1 = true past limit")
	}
	if limiter.IsAllowed("192.168.1.2", 3, time.Minute) {
		t.Error("IsAllowed() key2 = true past limit")
	}
}

func TestLimiter_Allow_Disabled(t *testing.T) {
	cfg := testutils.MockConfig()
	cfg.RateLimitEnabled = false
	cfg.RateLimitRequests = 1

	limiter := NewLimiter(cfg, testutils.MockLogger())
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		if !limiter.Allow("192.168.1.1") {
			t.Errorf("Allow() request %d = false with limiting disabled", i)
		}
	}
}

func TestLimiter_GetClientIP(t *testing.T) {
	limiter := NewLimiter(testutils.MockConfig(), testutils.MockLogger())
	defer limiter.Stop()

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:       "x-forwarded-for",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "203.0.113.7",
		},
		{
			name:       "x-real-ip",
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "203.0.113.9",
		},
		{
			name:       "remote addr",
			remoteAddr: "10.0.0.1:1234",
			expected:   "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/", nil)
			request.RemoteAddr = tt.remoteAddr
			for key, value := range tt.headers {
				request.Header.Set(key, value)
			}

			if got := limiter.GetClientIP(request); got != tt.expected {
				t.Errorf("GetClientIP() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewLimiter(testutils.MockConfig(), testutils.MockLogger())
	defer limiter.Stop()

	var wg sync.WaitGroup
	var allowedMutex sync.Mutex
	allowed := 0

	for worker := 0; worker < 10; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if limiter.IsAllowed("shared", 50, time.Minute) {
					allowedMutex.Lock()
					allowed++
					allowedMutex.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d of 200 concurrent requests, want exactly 50", allowed)
	}
}

func TestThrottle_Allow(t *testing.T) {
	throttle := NewThrottle(30 * time.Millisecond)

	if !throttle.Allow("AAPL") {
		t.Fatal("Allow() first request = false")
	}
	if throttle.Allow("AAPL") {
		t.Error("Allow() within min interval = true")
	}
	// other keys are independent
	if !throttle.Allow("MSFT") {
		t.Error("Allow() different key = false")
	}

	time.Sleep(40 * time.Millisecond)

	if !throttle.Allow("AAPL") {
		t.Error("Allow() after min interval = false")
	}
}

func TestThrottle_Disabled(t *testing.T) {
	throttle := NewThrottle(0)

	for i := 0; i < 5; i++ {
		if !throttle.Allow("AAPL") {
			t.Errorf("Allow() request %d = false with zero interval", i)
		}
	}
}

func TestThrottle_Reset(t *testing.T) {
	throttle := NewThrottle(time.Minute)

	throttle.Allow("AAPL")
	if throttle.Allow("AAPL") {
		t.Fatal("Allow() within min interval = true")
	}

	throttle.Reset("AAPL")

	if !throttle.Allow("AAPL") {
		t.Error("Allow() after Reset() = false")
	}
}
