package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"duet-backend/pkg/logger"
	"duet-backend/pkg/response"
)

// RateLimiter implements a Redis fixed-window rate limit per user, or per
// client IP before authentication
type RateLimiter struct {
	redisClient redis.Cmdable
	prefix      string
	requests    int
	window      time.Duration
}

// NewRateLimiter creates a new rate limiter. prefix separates the counters of
// different route groups.
func NewRateLimiter(redisClient redis.Cmdable, prefix string, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		prefix:      prefix,
		requests:    requests,
		window:      window,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if user, ok := CurrentUser(c); ok {
			identifier = "user:" + user.UserID.String()
		}

		count, ttl, err := rl.hit(c.Request.Context(), identifier)
		if err != nil {
			// Fail open while Redis is unavailable
			logger.FromContext(c.Request.Context()).Warn("Rate limit check failed",
				zap.String("identifier", identifier),
				zap.Error(err))
			c.Next()
			return
		}

		remaining := rl.requests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

		if count > rl.requests {
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			c.Abort()
			return
		}

		c.Next()
	}
}

// hit counts one request and returns the count in the current window and
// the time left in it
func (rl *RateLimiter) hit(ctx context.Context, identifier string) (int, time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", rl.prefix, identifier)

	pipe := rl.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rl.window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	left := ttl.Val()
	if left < 0 {
		left = rl.window
	}
	return int(incr.Val()), left, nil
}
