package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterTTL      = 5 * time.Minute
	limiterCapacity = 10000
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(*http.Request) string

// ByIP counts requests per client address.
func ByIP(r *http.Request) string {
	return clientIP(r)
}

// RateLimit allows perMinute requests per key with bursts up to burst.
// Limiters of keys idle for limiterTTL are evicted.
func RateLimit(perMinute, burst int, key KeyFunc) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = perMinute
	}
	limit := rate.Limit(float64(perMinute) / 60)
	retryAfter := strconv.Itoa(int(math.Ceil(60 / float64(max(perMinute, 1)))))

	return func(next http.Handler) http.Handler {
		limiters := expirable.NewLRU[string, *rate.Limiter](limiterCapacity, nil, limiterTTL)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			limiter, ok := limiters.Get(k)
			if !ok {
				limiter = rate.NewLimiter(limit, burst)
			}
			// Re-adding refreshes the idle timer.
			limiters.Add(k, limiter)

			if !limiter.Allow() {
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":  "Too many requests",
					"action": "Please wait a moment and try again",
					"code":   "RATE001",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
