package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	KeyPrefix         string
}

// fixedWindow counts hits per key in Redis. A key expires one window after
// its first hit.
type fixedWindow struct {
	client *redis.Client
	config RateLimitConfig
}

// hit records one request and returns the running count and the time left
// in the window.
func (fw fixedWindow) hit(ctx context.Context, key string) (int64, time.Duration, error) {
	count, err := fw.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := fw.client.Expire(ctx, key, fw.config.Window).Err(); err != nil {
			return count, fw.config.Window, err
		}
		return count, fw.config.Window, nil
	}

	ttl, err := fw.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		// the window key lost its expiry; start a new window
		fw.client.Expire(ctx, key, fw.config.Window)
		ttl = fw.config.Window
	}
	return count, ttl, nil
}

// clientKey identifies the caller: the authenticated email when present,
// the remote address otherwise.
func clientKey(r *http.Request) string {
	if email, ok := GetUserEmail(r.Context()); ok {
		return email
	}
	return r.RemoteAddr
}

// RateLimitMiddleware rejects callers that exceed the configured number of
// requests per window with 429. Redis errors let the request through.
func RateLimitMiddleware(redisClient *redis.Client, config RateLimitConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	limiter := fixedWindow{client: redisClient, config: config}
	limit := int64(config.RequestsPerWindow)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)
			key := config.KeyPrefix + ":" + client

			count, ttl, err := limiter.hit(r.Context(), key)
			if err != nil && count == 0 {
				logger.Error("Rate limiter unavailable", zap.String("key", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := limit - count
			if remaining < 0 {
				remaining = 0
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

			if count > limit {
				logger.Warn("Rate limit exceeded",
					zap.String("client", client),
					zap.Int64("count", count),
					zap.Int64("limit", limit),
				)
				h.Set("Retry-After", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
				RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
