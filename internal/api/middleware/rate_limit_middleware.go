package middleware

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/service"
	"go.uber.org/zap"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*service.RateDecision, error)
}

// RateLimit caps requests per key inside a sliding window. Limiter errors
// let the request through so a Redis outage does not take the API down.
func RateLimit(limiter Limiter, limit int, window time.Duration, keyFunc func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		decision, err := limiter.Allow(c.Context(), keyFunc(c), limit, window)
		if err != nil {
			zap.L().Warn("rate limiter unavailable", zap.String("path", c.Path()), zap.Error(err))
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests",
			})
		}
		return c.Next()
	}
}

// UserKey scopes the limit to the signed-in user and the route. It must run
// after AuthMiddleware.
func UserKey(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return IPKey(c)
	}
	return fmt.Sprintf("user:%s:%s", userID, c.Route().Path)
}

func IPKey(c *fiber.Ctx) string {
	return fmt.Sprintf("ip:%s:%s", c.IP(), c.Route().Path)
}
