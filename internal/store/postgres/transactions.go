package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bazaar-market/escrow/internal/ledger"
)

const txColumns = `id, wallet_id, kind, amount, currency, reference, status, metadata, created_at`

type txLog struct {
	tx pgx.Tx
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		t            ledger.Transaction
		kind, status string
	)
	if err := row.Scan(&t.ID, &t.WalletID, &kind, &t.Amount, &t.Currency, &t.Reference, &status, &t.Metadata, &t.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	var err error
	if t.Kind, err = ledger.ParseKind(kind); err != nil {
		return ledger.Transaction{}, err
	}
	if t.Status, err = ledger.ParseStatus(status); err != nil {
		return ledger.Transaction{}, err
	}
	return t, nil
}

func (l *txLog) Append(ctx context.Context, t ledger.Transaction) error {
	meta := t.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := l.tx.Exec(ctx, `INSERT INTO wallet_transactions (`+txColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.WalletID, t.Kind.String(), t.Amount, t.Currency, t.Reference, t.Status.String(), meta, t.CreatedAt)
	return classify(err, "append transaction")
}

func (l *txLog) Get(ctx context.Context, id string) (ledger.Transaction, error) {
	t, err := scanTransaction(l.tx.QueryRow(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	if err != nil {
		return ledger.Transaction{}, classify(err, "get transaction")
	}
	return t, nil
}

func (l *txLog) FindByReference(ctx context.Context, reference string) (ledger.Transaction, bool, error) {
	t, err := scanTransaction(l.tx.QueryRow(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE reference = $1`, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, classify(err, "find transaction by reference")
	}
	return t, true, nil
}

func (l *txLog) ListByWallet(ctx context.Context, walletID string, limit, offset int) (ledger.Page, error) {
	page := ledger.Page{Transactions: []ledger.Transaction{}}
	if err := l.tx.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1`, walletID).Scan(&page.Total); err != nil {
		return ledger.Page{}, classify(err, "count transactions")
	}

	rows, err := l.tx.Query(ctx, `SELECT `+txColumns+` FROM wallet_transactions
        WHERE wallet_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`, walletID, limit, offset)
	if err != nil {
		return ledger.Page{}, classify(err, "list transactions")
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return ledger.Page{}, classify(err, "scan transaction")
		}
		page.Transactions = append(page.Transactions, t)
	}
	if err := rows.Err(); err != nil {
		return ledger.Page{}, classify(err, "list transactions")
	}
	return page, nil
}

func (l *txLog) SumByWallet(ctx context.Context, walletID string) (int64, error) {
	var sum int64
	err := l.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE wallet_id = $1`, walletID).Scan(&sum)
	if err != nil {
		return 0, classify(err, "sum transactions")
	}
	return sum, nil
}
