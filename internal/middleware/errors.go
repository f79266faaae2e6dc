package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-market/escrow/internal/domainerr"
)

// ErrorHandler renders every error as
// {"success": false, "error": {"code": ..., "message": ...}}.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "INTERNAL"
		message := "internal server error"

		var (
			de *domainerr.Error
			fe *fiber.Error
		)
		switch {
		case errors.As(err, &de) && de.Kind != domainerr.KindUnknown:
			status = domainerr.HTTPStatus(de.Kind)
			code = de.Kind.String()
			message = de.Message
			if message == "" {
				message = strings.ToLower(strings.ReplaceAll(code, "_", " "))
			}
			if de.Kind == domainerr.KindTransient {
				message = "temporarily unavailable, retry with the same Idempotency-Key"
				c.Set(fiber.HeaderRetryAfter, "1")
			}
		case errors.As(err, &fe):
			status = fe.Code
			code = strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
			message = fe.Message
		}

		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("request_id", RequestIDFrom(c)),
				slog.Any("error", err))
		}

		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": code, "message": message},
		})
	}
}
