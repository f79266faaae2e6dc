package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result captures the outcome of a ledger posting.
type Result struct {
	Transaction Transaction
	Balance     int64
	// Replayed is set when the reference had already been posted and the
	// existing entry was returned without touching the balance.
	Replayed bool
}

// Engine applies balance-affecting operations. It holds no state of its own:
// every call runs against the Books of the caller's unit of work, so the
// balance update and the log insert commit or roll back together.
type Engine struct {
	currency string
	now      func() time.Time
}

// NewEngine builds an engine posting in the given currency.
func NewEngine(currency string) *Engine {
	if currency == "" {
		currency = "USD"
	}
	return &Engine{currency: strings.ToUpper(currency), now: func() time.Time { return time.Now().UTC() }}
}

// Currency returns the single currency the engine posts in.
func (e *Engine) Currency() string { return e.currency }

// Hold captures amount from the wallet into escrow.
func (e *Engine) Hold(ctx context.Context, b Books, walletID string, amount int64, reference string, meta map[string]string) (Result, error) {
	return e.post(ctx, b, KindEscrowHold, walletID, amount, reference, meta)
}

// Release pays escrowed funds out to the wallet.
func (e *Engine) Release(ctx context.Context, b Books, walletID string, amount int64, reference string, meta map[string]string) (Result, error) {
	return e.post(ctx, b, KindRelease, walletID, amount, reference, meta)
}

// Refund returns escrowed funds to the wallet.
func (e *Engine) Refund(ctx context.Context, b Books, walletID string, amount int64, reference string, meta map[string]string) (Result, error) {
	return e.post(ctx, b, KindRefund, walletID, amount, reference, meta)
}

// Deposit records externally settled funding.
func (e *Engine) Deposit(ctx context.Context, b Books, walletID string, amount int64, reference string, meta map[string]string) (Result, error) {
	return e.post(ctx, b, KindDeposit, walletID, amount, reference, meta)
}

func (e *Engine) post(ctx context.Context, b Books, kind Kind, walletID string, amount int64, reference string, meta map[string]string) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	if strings.TrimSpace(reference) == "" {
		return Result{}, ErrMissingReference
	}

	signed := amount
	if kind.Debit() {
		signed = -amount
	}

	w, err := b.Wallets().LockForUpdate(ctx, walletID)
	if err != nil {
		return Result{}, err
	}

	// The wallet row lock serializes writers of this wallet, so a concurrent
	// retry with the same reference sees the first one's entry here.
	existing, found, err := b.Transactions().FindByReference(ctx, reference)
	if err != nil {
		return Result{}, err
	}
	if found {
		if existing.WalletID != walletID || existing.Kind != kind || existing.Amount != signed {
			return Result{}, ErrReferenceReused
		}
		return Result{Transaction: existing, Balance: w.Balance, Replayed: true}, nil
	}

	if w.Balance+signed < 0 {
		return Result{}, fmt.Errorf("%s of %d from wallet %s with balance %d: %w", kind, amount, walletID, w.Balance, ErrInsufficientFunds)
	}

	updated, err := b.Wallets().ApplyDelta(ctx, walletID, signed)
	if err != nil {
		return Result{}, err
	}

	tx := Transaction{
		ID:        uuid.NewString(),
		WalletID:  walletID,
		Kind:      kind,
		Amount:    signed,
		Currency:  e.currency,
		Reference: reference,
		Status:    StatusCompleted,
		Metadata:  copyMeta(meta),
		CreatedAt: e.now(),
	}
	if err := b.Transactions().Append(ctx, tx); err != nil {
		return Result{}, err
	}

	return Result{Transaction: tx, Balance: updated.Balance}, nil
}

func copyMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
