package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID propagates the caller's X-Request-ID or assigns a new one, and
// echoes it on the response.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)
		return c.Next()
	}
}

// RequestIDFrom returns the id assigned by RequestID.
func RequestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDHeader).(string)
	return id
}

// Audit emits one structured log line per request. Paths in skip are not logged.
func Audit(logger *slog.Logger, skip ...string) fiber.Handler {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *fiber.Ctx) error {
		if _, ok := skipped[c.Path()]; ok {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if uid := UserID(c); uid != "" {
			attrs = append(attrs, slog.String("user_id", uid))
		}
		if err != nil {
			// status is rendered later by the error handler
			attrs = append(attrs, slog.Any("error", err))
			logger.Warn("request failed", attrs...)
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}
