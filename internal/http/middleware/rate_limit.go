package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vpass-io/vpass-server/internal/http/response"
)

// RateLimitConfig defines fixed-window rate limiting parameters.
type RateLimitConfig struct {
	Requests int                            // max requests per window
	Window   time.Duration                  // window duration
	KeyFunc  func(r *http.Request) []string // generates limiter keys
}

// RateLimiter throttles requests through Redis counters. Fails open: if
// Redis is down, requests pass.
type RateLimiter struct {
	client *redis.Client
	config RateLimitConfig
}

func NewRateLimiter(client *redis.Client, config RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIPKeyFunc
	}
	return &RateLimiter{client: client, config: config}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.client == nil {
				next.ServeHTTP(w, r)
				return
			}

			for _, key := range rl.config.KeyFunc(r) {
				if !rl.allow(r.Context(), key) {
					response.RateLimit(w, "too many requests, try again later")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// Hash the key for privacy.
	hashed := fmt.Sprintf("ratelimit:%x", sha256.Sum256([]byte(key)))

	pipe := rl.client.TxPipeline()
	count := pipe.Incr(ctx, hashed)
	pipe.Expire(ctx, hashed, rl.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true
	}

	return count.Val() <= int64(rl.config.Requests)
}

// ClientIPKeyFunc limits by client IP.
func ClientIPKeyFunc(r *http.Request) []string {
	if ip := clientIP(r); ip != "" {
		return []string{"ip:" + ip}
	}
	return nil
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
