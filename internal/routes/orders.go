package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-market/escrow/internal/escrow"
)

// RegisterOrderRoutes wires the buyer side of the order lifecycle.
func RegisterOrderRoutes(r fiber.Router, h *escrow.Handler, createLimiter fiber.Handler) {
	group := r.Group("/orders")
	if createLimiter != nil {
		group.Post("", createLimiter, h.Create)
	} else {
		group.Post("", h.Create)
	}
	group.Get("", h.List)
	group.Get("/:id", h.Get)
	group.Post("/:id/confirm", h.Confirm)
	group.Put("/:id/cancel", h.Cancel)
	group.Post("/:id/dispute", h.Dispute)
}
