package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := newRateLimiter(3)
	defer rl.stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("10.0.0.1"), "request %d should pass", i)
	}
	assert.False(t, rl.allow("10.0.0.1"), "fourth request is over the limit")

	// A different client has its own bucket.
	assert.True(t, rl.allow("10.0.0.2"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0)
	defer rl.stop()

	for i := 0; i < 100; i++ {
		assert.True(t, rl.allow("10.0.0.1"))
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := newRateLimiter(1)
	defer rl.stop()

	handler := rl.limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	rr := httptest.NewRecorder()
	handler(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// Same IP on a different port shares the bucket.
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	req2.RemoteAddr = "10.0.0.1:9999"
	rr = httptest.NewRecorder()
	handler(rr, req2)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:4242"
	assert.Equal(t, "192.0.2.7", clientKey(req))

	req.RemoteAddr = "not-host-port"
	assert.Equal(t, "not-host-port", clientKey(req))
}
