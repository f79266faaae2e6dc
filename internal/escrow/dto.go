package escrow

import (
	"time"

	"github.com/bazaar-market/escrow/internal/money"
	"github.com/bazaar-market/escrow/internal/order"
)

// CreateOrderRequest is the buyer's purchase payload.
type CreateOrderRequest struct {
	ListingID string `json:"listing_id" validate:"required,max=128"`
}

// DisputeRequest carries the buyer's dispute reason.
type DisputeRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// ResolveRequest carries the admin's dispute outcome.
type ResolveRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=release refund"`
}

// OrderResponse is the API view of an order.
type OrderResponse struct {
	ID             string       `json:"id"`
	BuyerID        string       `json:"buyer_id"`
	SellerID       string       `json:"seller_id"`
	ListingID      string       `json:"listing_id"`
	Price          money.Amount `json:"price"`
	Status         string       `json:"status"`
	EscrowTxID     string       `json:"escrow_tx_id,omitempty"`
	SettlementTxID string       `json:"settlement_tx_id,omitempty"`
	DisputeReason  string       `json:"dispute_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// OrderListResponse wraps the buyer's orders.
type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
}

func toOrderResponse(o order.Order) OrderResponse {
	return OrderResponse{
		ID:             o.ID,
		BuyerID:        o.BuyerID,
		SellerID:       o.SellerID,
		ListingID:      o.ListingID,
		Price:          money.NewAmount(o.Price, o.Currency),
		Status:         o.Status.String(),
		EscrowTxID:     o.EscrowTxID,
		SettlementTxID: o.SettlementTxID,
		DisputeReason:  o.DisputeReason,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}
