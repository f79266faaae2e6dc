package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitWindow = time.Minute

// RateLimit caps requests per authenticated user (or IP) per minute using a
// fixed Redis window. It is a no-op without Redis and fails open on cache errors.
func RateLimit(cache redis.UniversalClient, scope string, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 10
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		who := UserID(c)
		if who == "" {
			who = c.IP()
		}
		key := "rl:" + scope + ":" + who
		// EXPIRE NX sets the window only when the key has no TTL, which
		// also repairs a counter whose earlier EXPIRE was lost.
		var incr *redis.IntCmd
		_, err := cache.TxPipelined(c.UserContext(), func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(c.UserContext(), key)
			pipe.ExpireNX(c.UserContext(), key, rateLimitWindow)
			return nil
		})
		if err != nil {
			return c.Next()
		}
		if incr.Val() > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(fiber.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
