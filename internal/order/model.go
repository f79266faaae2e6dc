package order

import (
	"fmt"
	"time"
)

// Status is the closed set of order lifecycle states.
type Status uint8

const (
	StatusCreated Status = iota + 1
	StatusHeld
	StatusCompleted
	StatusCancelled
	StatusDisputed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusHeld:
		return "held"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus maps a stored status back to the enum.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "created":
		return StatusCreated, nil
	case "held":
		return StatusHeld, nil
	case "completed":
		return StatusCompleted, nil
	case "cancelled":
		return StatusCancelled, nil
	case "disputed":
		return StatusDisputed, nil
	default:
		return 0, fmt.Errorf("unknown order status %q", s)
	}
}

// Terminal reports whether no transition leaves the state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order is a single purchase intent. Price is the listing price at creation
// and never changes. EscrowTxID and SettlementTxID are each set at most once.
type Order struct {
	ID             string
	BuyerID        string
	SellerID       string
	ListingID      string
	Price          int64
	Currency       string
	Status         Status
	EscrowTxID     string
	SettlementTxID string
	DisputeReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Apply returns the order moved along t. txID is the ledger entry produced by
// the transition's effect, empty when there is none.
func (o Order) Apply(t Transition, txID string, at time.Time) (Order, error) {
	if o.Status != t.From {
		return Order{}, fmt.Errorf("order %s is %s, transition expects %s", o.ID, o.Status, t.From)
	}
	switch t.Effect {
	case EffectHold:
		if o.EscrowTxID != "" {
			return Order{}, fmt.Errorf("order %s already references escrow transaction %s", o.ID, o.EscrowTxID)
		}
		o.EscrowTxID = txID
	case EffectRelease, EffectRefund:
		if o.SettlementTxID != "" {
			return Order{}, fmt.Errorf("order %s already settled by transaction %s", o.ID, o.SettlementTxID)
		}
		o.SettlementTxID = txID
	}
	o.Status = t.To
	o.UpdatedAt = at
	return o, nil
}
