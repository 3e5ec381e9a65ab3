package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(3, 1*time.Second)

	// Test: Should allow first 3 requests
	for i := 0; i < 3; i++ {
		if !limiter.Allow("192.168.1.1") {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// Test: Should block 4th request
	if limiter.Allow("192.168.1.1") {
		t.Error("4th request should be blocked")
	}

	// Test: Different IP should be allowed
	if !limiter.Allow("192.168.1.2") {
		t.Error("Request from different IP should be allowed")
	}
}

func TestRateLimiter_WindowRefill(t *testing.T) {
	limiter := NewRateLimiter(2, 500*time.Millisecond)

	// Use up the burst
	limiter.Allow("192.168.1.1")
	limiter.Allow("192.168.1.1")

	// Should be blocked
	if limiter.Allow("192.168.1.1") {
		t.Error("Request should be blocked before the bucket refills")
	}

	// Wait for the bucket to refill
	time.Sleep(600 * time.Millisecond)

	// Should be allowed again
	if !limiter.Allow("192.168.1.1") {
		t.Error("Request should be allowed after the bucket refills")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(5, 100*time.Millisecond)

	// Make some requests
	limiter.Allow("192.168.1.1")
	limiter.Allow("192.168.1.2")
	limiter.Allow("192.168.1.3")

	// Check initial state
	limiter.mu.Lock()
	initialCount := len(limiter.limiters)
	limiter.mu.Unlock()

	if initialCount != 3 {
		t.Errorf("Expected 3 IPs in map, got %d", initialCount)
	}

	// Wait for entries to go idle
	time.Sleep(150 * time.Millisecond)

	// Trigger cleanup
	limiter.cleanup()

	// Check that idle entries were removed
	limiter.mu.Lock()
	afterCleanup := len(limiter.limiters)
	limiter.mu.Unlock()

	if afterCleanup != 0 {
		t.Errorf("Expected 0 IPs after cleanup, got %d", afterCleanup)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewRateLimiter(10, 1*time.Second)
	done := make(chan bool)

	// Simulate concurrent requests
	for i := 0; i < 5; i++ {
		go func(id int) {
			for j := 0; j < 3; j++ {
				limiter.Allow("192.168.1.1")
			}
			done <- true
		}(i)
	}

	// Wait for all goroutines
	for i := 0; i < 5; i++ {
		<-done
	}

	// Should have blocked some requests (15 total, burst is 10)
	// Next request should be blocked
	if limiter.Allow("192.168.1.1") {
		t.Error("Should have exceeded limit with concurrent requests")
	}
}

func TestRateLimiter_MultipleIPs(t *testing.T) {
	limiter := NewRateLimiter(2, 1*time.Second)

	// IP 1: Use up limit
	limiter.Allow("192.168.1.1")
	limiter.Allow("192.168.1.1")

	// IP 1: Should be blocked
	if limiter.Allow("192.168.1.1") {
		t.Error("IP 1 should be blocked")
	}

	// IP 2: Should still be allowed
	if !limiter.Allow("192.168.1.2") {
		t.Error("IP 2 should be allowed")
	}
	if !limiter.Allow("192.168.1.2") {
		t.Error("IP 2 second request should be allowed")
	}

	// IP 2: Should now be blocked
	if limiter.Allow("192.168.1.2") {
		t.Error("IP 2 should now be blocked")
	}
}

func TestRateLimitMiddleware_Blocks(t *testing.T) {
	limiter := NewRateLimiter(2, 1*time.Second)
	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
		req.RemoteAddr = "10.0.0.9:51234"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	// Same host from a different ephemeral port still shares the bucket
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.RemoteAddr = "10.0.0.9:51999"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		remote string
		want   string
	}{
		{"192.168.1.1:54321", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"192.168.1.1", "192.168.1.1"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.remote, got, tc.want)
		}
	}
}
