package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/bazaar-market/escrow/internal/domainerr"
	"github.com/bazaar-market/escrow/internal/wallet"
)

var (
	// ErrInsufficientFunds occurs when a hold would exceed the wallet balance.
	ErrInsufficientFunds = domainerr.New(domainerr.KindInsufficientFunds, "insufficient funds")

	// ErrInvalidAmount rejects zero and negative posting amounts.
	ErrInvalidAmount = domainerr.New(domainerr.KindInvalidOperation, "amount must be positive")

	// ErrMissingReference rejects postings without an idempotency reference.
	ErrMissingReference = domainerr.New(domainerr.KindInvalidOperation, "reference is required")

	// ErrReferenceReused indicates a reference already recorded for a different posting.
	ErrReferenceReused = domainerr.New(domainerr.KindInvalidOperation, "reference already used for a different posting")

	// ErrTransactionNotFound is returned by Log.Get.
	ErrTransactionNotFound = domainerr.New(domainerr.KindNotFound, "transaction not found")
)

// Kind is the closed set of balance-affecting events.
type Kind uint8

const (
	KindDeposit Kind = iota + 1
	KindEscrowHold
	KindRelease
	KindRefund
)

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindEscrowHold:
		return "escrow_hold"
	case KindRelease:
		return "release"
	case KindRefund:
		return "refund"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a stored kind back to the enum.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "deposit":
		return KindDeposit, nil
	case "escrow_hold":
		return KindEscrowHold, nil
	case "release":
		return KindRelease, nil
	case "refund":
		return KindRefund, nil
	default:
		return 0, fmt.Errorf("unknown transaction kind %q", s)
	}
}

// Debit reports whether the kind removes funds from the wallet.
func (k Kind) Debit() bool { return k == KindEscrowHold }

// Status of a ledger entry. Entries are written once, already settled.
type Status uint8

const (
	StatusCompleted Status = iota + 1
)

func (s Status) String() string {
	if s == StatusCompleted {
		return "completed"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// ParseStatus maps a stored status back to the enum.
func ParseStatus(s string) (Status, error) {
	if s == "completed" {
		return StatusCompleted, nil
	}
	return 0, fmt.Errorf("unknown transaction status %q", s)
}

// Transaction is an immutable ledger entry. Amount is signed: holds are
// negative, deposits, releases and refunds are positive.
type Transaction struct {
	ID        string
	WalletID  string
	Kind      Kind
	Amount    int64
	Currency  string
	Reference string
	Status    Status
	Metadata  map[string]string
	CreatedAt time.Time
}

// Page is a slice of a wallet's history plus the total number of entries.
type Page struct {
	Transactions []Transaction
	Total        int
}

// Log is the append-only transaction store. There is no update or delete.
type Log interface {
	Append(ctx context.Context, tx Transaction) error
	Get(ctx context.Context, id string) (Transaction, error)
	FindByReference(ctx context.Context, reference string) (Transaction, bool, error)
	ListByWallet(ctx context.Context, walletID string, limit, offset int) (Page, error)
	SumByWallet(ctx context.Context, walletID string) (int64, error)
}

// Books is the slice of a unit of work the engine needs.
type Books interface {
	Wallets() wallet.Store
	Transactions() Log
}
