package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// IdempotencyKeyHeader carries the client's retry key.
	IdempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v2:"
	inProgressMarker     = "__in_progress__"
	cacheTimeout         = 2 * time.Second
)

type storedResponse struct {
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
}

// IdempotencyConfig tunes the Idempotency middleware.
type IdempotencyConfig struct {
	TTL time.Duration
	// Required rejects unsafe requests that carry no key.
	Required bool
}

// Idempotency replays the stored response of a previously completed request
// that carried the same Idempotency-Key. Keys are scoped to the authenticated
// user, so it must run after JWTAuth. Failed requests are not stored; the
// client may retry them with the same key.
func Idempotency(cache redis.UniversalClient, cfg IdempotencyConfig, logger *slog.Logger) fiber.Handler {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(IdempotencyKeyHeader))
		if key == "" {
			if cfg.Required {
				return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
			}
			return c.Next()
		}
		if cache == nil {
			return c.Next()
		}

		uid, _ := c.Locals(LocalUserID).(string)
		cacheKey := idempotencyPrefix + uid + ":" + key
		fingerprint := c.Method() + " " + c.Path()

		ctx, cancel := context.WithTimeout(c.UserContext(), cacheTimeout)
		defer cancel()

		cached, err := cache.Get(ctx, cacheKey).Result()
		if err == nil {
			if cached == inProgressMarker {
				return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
			}

			var stored storedResponse
			if err := json.Unmarshal([]byte(cached), &stored); err != nil {
				logger.Warn("failed to decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
				return fiber.NewError(fiber.StatusConflict, "duplicate request")
			}
			if stored.Fingerprint != fingerprint {
				return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key already used for a different request")
			}

			for header, value := range stored.Headers {
				if strings.EqualFold(header, fiber.HeaderContentLength) {
					continue
				}
				c.Set(header, value)
			}
			c.Set("Idempotent-Replayed", "true")
			return c.Status(stored.Status).SendString(stored.Body)
		}

		if !errors.Is(err, redis.Nil) {
			logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store failure")
		}

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, cfg.TTL).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency reservation failure")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		release := func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
			defer cancel()
			cache.Del(cleanupCtx, cacheKey) // best effort cleanup
		}

		if err := c.Next(); err != nil {
			release()
			return err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			release()
			return nil
		}

		stored := storedResponse{
			Fingerprint: fingerprint,
			Status:      status,
			Body:        string(c.Response().Body()),
			Headers:     map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Headers[string(k)] = string(v)
		})

		payload, err := json.Marshal(stored)
		if err != nil {
			logger.Error("failed to encode idempotent response", slog.String("key", key), slog.Any("error", err))
			release()
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), cacheTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, cfg.TTL).Err(); err != nil {
			// the response already went through; the order id is derived from
			// the key, so a retry still resolves to the same order
			logger.Error("failed to persist idempotent response", slog.String("key", key), slog.Any("error", err))
			release()
		}
		return nil
	}
}
