package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-market/escrow/internal/store"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps, breaker *store.Breaker) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		dbStatus := "ok"
		redisStatus := "disabled"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := d.Store.Ping(ctx); err != nil {
			dbStatus = err.Error()
		}
		if d.Cache != nil {
			redisStatus = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}
		status := http.StatusOK
		if dbStatus != "ok" || (redisStatus != "ok" && redisStatus != "disabled") {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"store": dbStatus, "redis": redisStatus, "breaker": breaker.State()},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
