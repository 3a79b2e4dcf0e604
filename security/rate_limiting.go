package security

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles scan-claim submissions per device. A handheld at
// a gate has a hard physical scan rate; sustained bursts above it are a
// misbehaving or replayed client, not a queue of attendees.
type RateLimiter struct {
	redis     *redis.Client
	perMinute int64
}

func NewRateLimiter(redisClient *redis.Client, perMinute int64) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	return &RateLimiter{redis: redisClient, perMinute: perMinute}
}

// ClaimRateLimit limits claim submissions keyed by device id, falling back
// to the caller IP when no device id is sent.
func (r *RateLimiter) ClaimRateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get("X-Device-ID")
			if key == "" {
				key = c.RealIP()
			}
			redisKey := fmt.Sprintf("ratelimit:claim:%s", key)

			count, err := r.redis.Incr(c.Request().Context(), redisKey).Result()
			if err == nil {
				if count == 1 {
					r.redis.Expire(c.Request().Context(), redisKey, time.Minute)
				}
				if count > r.perMinute {
					return c.JSON(429, map[string]string{
						"error": "scan rate limit exceeded",
					})
				}
			}

			return next(c)
		}
	}
}
