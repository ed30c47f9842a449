package server

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter is a per-client token bucket guarding the run-trigger endpoint.
// Analysis runs are expensive, so clients are capped per minute; read-only
// endpoints are not limited.
type rateLimiter struct {
	mu            sync.Mutex
	clients       map[string]*bucket
	limitPerMin   int
	cleanupTicker *time.Ticker
	stopCh        chan struct{}
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// newRateLimiter creates a limiter allowing limitPerMin requests per client
// per minute. A non-positive limit disables limiting entirely.
func newRateLimiter(limitPerMin int) *rateLimiter {
	rl := &rateLimiter{
		clients:       make(map[string]*bucket),
		limitPerMin:   limitPerMin,
		cleanupTicker: time.NewTicker(5 * time.Minute),
		stopCh:        make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// limit wraps a handler, rejecting over-limit clients with 429.
func (rl *rateLimiter) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}
		next(w, r)
	}
}

// clientKey identifies a client by remote IP, ignoring the ephemeral port so
// reconnecting clients share a bucket.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *rateLimiter) allow(client string) bool {
	if rl.limitPerMin <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, exists := rl.clients[client]
	if !exists {
		rl.clients[client] = &bucket{
			tokens:     rl.limitPerMin - 1,
			lastRefill: now,
		}
		return true
	}

	elapsed := now.Sub(b.lastRefill)
	if refill := int(elapsed.Minutes() * float64(rl.limitPerMin)); refill > 0 {
		b.tokens = min(rl.limitPerMin, b.tokens+refill)
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// cleanup drops buckets for clients idle longer than 10 minutes.
func (rl *rateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.mu.Lock()
			now := time.Now()
			for client, b := range rl.clients {
				if now.Sub(b.lastRefill) > 10*time.Minute {
					delete(rl.clients, client)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.cleanupTicker.Stop()
	close(rl.stopCh)
}
