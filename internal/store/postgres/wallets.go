package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bazaar-market/escrow/internal/wallet"
)

const walletColumns = `id, owner_id, balance, currency, created_at, updated_at`

type walletStore struct {
	tx  pgx.Tx
	now func() time.Time
}

func scanWallet(row pgx.Row) (wallet.Wallet, error) {
	var w wallet.Wallet
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Wallet{}, wallet.ErrNotFound
		}
		return wallet.Wallet{}, classify(err, "scan wallet")
	}
	return w, nil
}

func (s *walletStore) Get(ctx context.Context, id string) (wallet.Wallet, error) {
	return scanWallet(s.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

func (s *walletStore) GetByOwner(ctx context.Context, ownerID string) (wallet.Wallet, error) {
	return scanWallet(s.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID))
}

func (s *walletStore) Ensure(ctx context.Context, ownerID, currency string) (wallet.Wallet, error) {
	now := s.now()
	_, err := s.tx.Exec(ctx, `INSERT INTO wallets (id, owner_id, balance, currency, created_at, updated_at)
        VALUES ($1, $2, 0, $3, $4, $4)
        ON CONFLICT (owner_id) DO NOTHING`, uuid.NewString(), ownerID, currency, now)
	if err != nil {
		return wallet.Wallet{}, classify(err, "ensure wallet")
	}
	return s.GetByOwner(ctx, ownerID)
}

func (s *walletStore) LockForUpdate(ctx context.Context, id string) (wallet.Wallet, error) {
	return scanWallet(s.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
}

func (s *walletStore) ApplyDelta(ctx context.Context, id string, delta int64) (wallet.Wallet, error) {
	w, err := scanWallet(s.tx.QueryRow(ctx, `UPDATE wallets
        SET balance = balance + $2, updated_at = $3
        WHERE id = $1 AND balance + $2 >= 0
        RETURNING `+walletColumns, id, delta, s.now()))
	if errors.Is(err, wallet.ErrNotFound) {
		// either the wallet is missing or the guard rejected the delta
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return wallet.Wallet{}, getErr
		}
		return wallet.Wallet{}, wallet.ErrNegativeBalance
	}
	return w, err
}
