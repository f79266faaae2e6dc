package escrow

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-market/escrow/internal/middleware"
)

// Handler exposes order lifecycle endpoints.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler constructs an order handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// Create places an order for a listing and holds its price in escrow.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req CreateOrderRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	o, err := h.coordinator.CreateOrder(c.UserContext(), CreateOrderInput{
		BuyerID:        middleware.UserID(c),
		ListingID:      req.ListingID,
		IdempotencyKey: c.Get(middleware.IdempotencyKeyHeader),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toOrderResponse(o))
}

// List returns the caller's orders, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	orders, err := h.coordinator.ListOrders(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return err
	}
	resp := OrderListResponse{Orders: make([]OrderResponse, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	return c.JSON(resp)
}

// Get returns one of the caller's orders.
func (h *Handler) Get(c *fiber.Ctx) error {
	o, err := h.coordinator.GetOrder(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(toOrderResponse(o))
}

// Confirm releases escrow to the seller.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	o, err := h.coordinator.ConfirmDelivery(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(toOrderResponse(o))
}

// Cancel refunds escrow to the buyer.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	o, err := h.coordinator.CancelOrder(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(toOrderResponse(o))
}

// Dispute freezes a held order until an admin resolves it.
func (h *Handler) Dispute(c *fiber.Ctx) error {
	var req DisputeRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	o, err := h.coordinator.OpenDispute(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(toOrderResponse(o))
}

// Resolve settles a disputed order. Admin only.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	var req ResolveRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	outcome, err := ParseResolution(req.Outcome)
	if err != nil {
		return err
	}
	o, err := h.coordinator.ResolveDispute(c.UserContext(), c.Params("id"), outcome)
	if err != nil {
		return err
	}
	return c.JSON(toOrderResponse(o))
}
