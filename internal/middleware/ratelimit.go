package middleware

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/busrace/internal/ratelimit"
)

// QuotaHeadersMiddleware reports the shared upstream quota on every
// response. It never rejects a request: an exhausted quota is handled by
// the cache, which may still answer from memory.
func QuotaHeadersMiddleware(w *ratelimit.Window) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		status := w.Status()
		c.Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
		if status.ResetIn > 0 {
			c.Set("X-RateLimit-Reset", strconv.Itoa(int(math.Ceil(status.ResetIn.Seconds()))))
		}

		c.Locals("rate_limit_status", status)

		return err
	}
}
