package order

import (
	"context"

	"github.com/bazaar-market/escrow/internal/domainerr"
)

var (
	// ErrNotFound is returned when no order matches the id.
	ErrNotFound = domainerr.New(domainerr.KindNotFound, "order not found")

	// ErrStaleStatus is returned by Update when the stored status no longer
	// matches the one the caller read.
	ErrStaleStatus = domainerr.New(domainerr.KindConflict, "order was changed concurrently")
)

// Repository persists orders inside a unit of work.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)

	// LockForUpdate reads the order and holds off every other writer of it
	// until the surrounding unit of work ends.
	LockForUpdate(ctx context.Context, id string) (Order, error)

	// Update stores o only if the persisted status still equals expected.
	Update(ctx context.Context, o Order, expected Status) error

	// ListByBuyer returns the buyer's orders, newest first.
	ListByBuyer(ctx context.Context, buyerID string) ([]Order, error)
}
