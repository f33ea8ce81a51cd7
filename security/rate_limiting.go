package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

// NewRateLimiter allows limit requests per key in each fixed window. A zero
// limit disables limiting.
func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: redisClient, limit: int64(limit), window: window}
}

// Allow counts one request against key and reports whether it is within the
// limit. The counter and its expiry are written in one MULTI/EXEC, and NX
// only sets the expiry when the key has none, so a counter can never be left
// without a window. EXPIRE NX needs Redis 7.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r.limit <= 0 || r.redis == nil {
		return true, nil
	}

	redisKey := fmt.Sprintf("ratelimit:%s", key)
	var incr *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, r.window)
		return nil
	})
	if err != nil {
		return true, err
	}
	return incr.Val() <= r.limit, nil
}

// ScanRateLimit limits scan requests per authenticated user, or per client
// IP when there is no auth record. Redis failures let the request through.
func (r *RateLimiter) ScanRateLimit() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		key := "scan:ip:" + e.RemoteIP()
		if e.Auth != nil {
			key = "scan:user:" + e.Auth.Id
		}

		ok, err := r.Allow(e.Request.Context(), key)
		if err != nil {
			slog.Warn("Rate limiter unavailable", "error", err, "key", key)
		}
		if !ok {
			return e.JSON(http.StatusTooManyRequests, map[string]any{
				"code":    "RATE_LIMITED",
				"message": "Too many scans. Please slow down.",
			})
		}
		return e.Next()
	}
}

// AntiBotMiddleware rejects obvious crawlers before they reach the API.
func (r *RateLimiter) AntiBotMiddleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if r.isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			return e.JSON(http.StatusForbidden, map[string]string{
				"code":    "FORBIDDEN",
				"message": "Access denied",
			})
		}
		return e.Next()
	}
}

func (r *RateLimiter) isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
