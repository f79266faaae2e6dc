package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-market/escrow/internal/auth"
)

// Locals keys set by JWTAuth.
const (
	LocalUserID = "user_id"
	LocalRole   = "role"
)

// JWTAuth validates the bearer access token and exposes its subject and role.
func JWTAuth(verifier *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		claims, err := verifier.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(LocalUserID, claims.Subject)
		c.Locals(LocalRole, claims.Role)
		return c.Next()
	}
}

// RequireAdmin only lets tokens with the admin role through.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if role, _ := c.Locals(LocalRole).(string); role != auth.RoleAdmin {
			return fiber.NewError(fiber.StatusForbidden, "admin role required")
		}
		return c.Next()
	}
}

// UserID returns the authenticated account id, or "" outside JWTAuth.
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(LocalUserID).(string)
	return uid
}
