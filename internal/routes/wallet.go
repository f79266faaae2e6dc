package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-market/escrow/internal/escrow"
	"github.com/bazaar-market/escrow/internal/funding"
)

// RegisterWalletRoutes wires the caller's wallet views.
func RegisterWalletRoutes(r fiber.Router, h *funding.Handler) {
	r.Get("/wallet/me", h.Me)
	r.Get("/wallet/transactions", h.Transactions)
}

// RegisterAdminRoutes wires operator endpoints. r must already enforce the admin role.
func RegisterAdminRoutes(r fiber.Router, orders *escrow.Handler, wallets *funding.Handler) {
	r.Post("/orders/:id/resolve", orders.Resolve)
	r.Post("/wallets/deposit", wallets.Deposit)
	r.Get("/wallets/:userId/audit", wallets.Audit)
}
