package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// DefaultClientIdle is how long an unused client limiter is kept.
const DefaultClientIdle = 10 * time.Minute

// RateLimiter applies a global limit and a per-client limit. Limiters of
// idle clients are evicted.
type RateLimiter struct {
	global  *rate.Limiter
	clients *cache.Cache

	requestsPerSecond float64
	burst             int
}

// NewRateLimiter creates a rate limiter. The global limit allows ten times
// the per-client rate.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		global:            rate.NewLimiter(rate.Limit(requestsPerSecond*10), burst*10),
		clients:           cache.New(DefaultClientIdle, DefaultClientIdle),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

// Allow reports whether a request of clientID may proceed now.
func (rl *RateLimiter) Allow(clientID string) bool {
	if !rl.global.Allow() {
		return false
	}
	return rl.client(clientID).Allow()
}

// Wait blocks until a request of clientID may proceed.
func (rl *RateLimiter) Wait(ctx context.Context, clientID string) error {
	if err := rl.global.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limit: %w", err)
	}
	if err := rl.client(clientID).Wait(ctx); err != nil {
		return fmt.Errorf("client rate limit: %w", err)
	}
	return nil
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	return rl.clients.ItemCount()
}

func (rl *RateLimiter) client(id string) *rate.Limiter {
	if v, ok := rl.clients.Get(id); ok {
		// Touch to extend the idle window.
		rl.clients.SetDefault(id, v)
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst)
	if err := rl.clients.Add(id, l, cache.DefaultExpiration); err != nil {
		// Lost the race; use the stored limiter.
		if v, ok := rl.clients.Get(id); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

// ClientID identifies the caller of r: the X-Client-ID header when present,
// otherwise the remote IP.
func ClientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientID(r)) {
			w.Header().Set("Retry-After", "1")
			WriteError(w, http.StatusTooManyRequests, &APIError{Code: CodeRateLimit, Message: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
