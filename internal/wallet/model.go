package wallet

import "time"

// Wallet holds the single balance of an account, in minor currency units.
type Wallet struct {
	ID        string
	OwnerID   string
	Balance   int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
