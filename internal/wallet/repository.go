package wallet

import (
	"context"

	"github.com/bazaar-market/escrow/internal/domainerr"
)

var (
	// ErrNotFound is returned when no wallet matches the lookup.
	ErrNotFound = domainerr.New(domainerr.KindNotFound, "wallet not found")

	// ErrNegativeBalance is returned by ApplyDelta when the result would drop below zero.
	// The wallet is left untouched.
	ErrNegativeBalance = domainerr.New(domainerr.KindInsufficientFunds, "insufficient funds")
)

// Store persists wallets inside a unit of work. Balances are only changed through
// ApplyDelta, and only the ledger engine calls it.
type Store interface {
	Get(ctx context.Context, id string) (Wallet, error)
	GetByOwner(ctx context.Context, ownerID string) (Wallet, error)

	// Ensure returns the owner's wallet, creating an empty one on first reference.
	Ensure(ctx context.Context, ownerID, currency string) (Wallet, error)

	// LockForUpdate reads the wallet and serializes every other writer of it
	// until the surrounding unit of work ends.
	LockForUpdate(ctx context.Context, id string) (Wallet, error)

	// ApplyDelta adds delta to the balance unless the result would be negative.
	ApplyDelta(ctx context.Context, id string, delta int64) (Wallet, error)
}
