// Package store defines the unit-of-work boundary of the escrow core. All
// mutations of wallets, the transaction log and orders for one request happen
// through a Session inside UnitOfWork.Within, and commit or roll back as one.
package store

import (
	"context"

	"github.com/bazaar-market/escrow/internal/ledger"
	"github.com/bazaar-market/escrow/internal/listing"
	"github.com/bazaar-market/escrow/internal/order"
)

// Session exposes the records reachable inside one unit of work.
type Session interface {
	ledger.Books
	Orders() order.Repository
	Listings() listing.Reader
}

// Work is the body of a unit of work.
type Work func(ctx context.Context, s Session) error

// UnitOfWork runs fn atomically. If fn returns an error, or the commit fails,
// none of fn's writes are visible to anyone. Errors that made the commit
// impossible for reasons unrelated to fn (store down, serialization failure)
// are tagged domainerr.KindTransient.
type UnitOfWork interface {
	Within(ctx context.Context, fn Work) error
}
