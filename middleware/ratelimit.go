package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ScanRateLimitMiddleware caps QR scan attempts per IP and badge so claim
// secrets cannot be guessed by brute force. The visitor id is left out of
// the key: clients choose it, and omitting it mints a new one per request. With a redis client the counters
// are shared across instances; without one they are kept in memory.
func ScanRateLimitMiddleware(client *redis.Client, limit int, window time.Duration) fiber.Handler {
	if client == nil {
		return limiter.New(limiter.Config{
			Max:          limit,
			Expiration:   window,
			KeyGenerator: scanKey,
			LimitReached: tooManyScans,
		})
	}

	return func(c *fiber.Ctx) error {
		key := "rate_limit:scan:" + scanKey(c)

		count, err := client.Incr(c.UserContext(), key).Result()
		if err != nil {
			// fail open; the secret check still applies
			log.Warnf("[RATE_LIMIT] redis unavailable: %v", err)
			return c.Next()
		}

		// first hit starts the window
		if count == 1 {
			client.Expire(c.UserContext(), key, window)
		}

		if count > int64(limit) {
			ttl, _ := client.TTL(c.UserContext(), key).Result()
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%.0f", ttl.Seconds()))
			return tooManyScans(c)
		}
		return c.Next()
	}
}

func scanKey(c *fiber.Ctx) string {
	return c.IP() + ":" + c.Params("id") + ":" + c.Params("badgeId")
}

func tooManyScans(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error": "Too many scan attempts, please wait a moment",
	})
}
