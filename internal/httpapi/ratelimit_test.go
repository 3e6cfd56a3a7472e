package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestRateLimiterStaysBounded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(RateLimitConfig{PerSecond: 1, Burst: 1, Capacity: 3, TTL: time.Minute})
	l.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		now = now.Add(time.Millisecond)
		l.Allow("10.0.0." + strconv.Itoa(i))
		if n := l.Len(); n > 3 {
			t.Fatalf("limiter grew past capacity: %d", n)
		}
	}
	// The most recent client survives eviction.
	if l.Allow("10.0.0.9") {
		t.Fatal("recent client should still be tracked and out of tokens")
	}

	now = now.Add(2 * time.Minute)
	l.Sweep()
	if n := l.Len(); n != 0 {
		t.Fatalf("expected idle clients swept, got %d", n)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{PerSecond: 0.5, Burst: 2, Capacity: 10, TTL: time.Minute})
	h := l.Middleware(okHandler(nil))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/roles", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
		if rr.Code == http.StatusTooManyRequests {
			if decodeErr(t, rr).Code != CodeRateLimited || rr.Header().Get("Retry-After") != "2" {
				t.Fatalf("unexpected 429 response: %v %s", rr.Header(), rr.Body.String())
			}
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence: %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/roles", nil)
	req.RemoteAddr = "198.51.100.8:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("other clients must not share a bucket, got %d", rr.Code)
	}
}

func TestRateLimiterIgnoresRotatingForwardedFor(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{PerSecond: 0.1, Burst: 1, Capacity: 100, TTL: time.Minute})
	h := ClientIP(nil)(l.Middleware(okHandler(nil)))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/roles", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != 1 {
		t.Fatalf("expected one request through, got %d", allowed)
	}
	if n := l.Len(); n != 1 {
		t.Fatalf("expected a single bucket, got %d", n)
	}
}
