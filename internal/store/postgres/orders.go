package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bazaar-market/escrow/internal/order"
)

const orderColumns = `id, buyer_id, seller_id, listing_id, price, currency, status,
        COALESCE(escrow_tx_id, ''), COALESCE(settlement_tx_id, ''), COALESCE(dispute_reason, ''),
        created_at, updated_at`

type orderRepo struct {
	tx pgx.Tx
}

func scanOrder(row pgx.Row) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.ListingID, &o.Price, &o.Currency, &status,
		&o.EscrowTxID, &o.SettlementTxID, &o.DisputeReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, order.ErrNotFound
		}
		return order.Order{}, classify(err, "scan order")
	}
	if o.Status, err = order.ParseStatus(status); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (r *orderRepo) Create(ctx context.Context, o order.Order) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO orders
        (id, buyer_id, seller_id, listing_id, price, currency, status, escrow_tx_id, settlement_tx_id, dispute_reason, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)`,
		o.ID, o.BuyerID, o.SellerID, o.ListingID, o.Price, o.Currency, o.Status.String(),
		o.EscrowTxID, o.SettlementTxID, o.DisputeReason, o.CreatedAt, o.UpdatedAt)
	return classify(err, "create order")
}

func (r *orderRepo) Get(ctx context.Context, id string) (order.Order, error) {
	return scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *orderRepo) LockForUpdate(ctx context.Context, id string) (order.Order, error) {
	return scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (r *orderRepo) Update(ctx context.Context, o order.Order, expected order.Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE orders
        SET status = $2, escrow_tx_id = NULLIF($3, ''), settlement_tx_id = NULLIF($4, ''),
            dispute_reason = NULLIF($5, ''), updated_at = $6
        WHERE id = $1 AND status = $7`,
		o.ID, o.Status.String(), o.EscrowTxID, o.SettlementTxID, o.DisputeReason, o.UpdatedAt, expected.String())
	if err != nil {
		return classify(err, "update order")
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, o.ID); err != nil {
			return err
		}
		return order.ErrStaleStatus
	}
	return nil
}

func (r *orderRepo) ListByBuyer(ctx context.Context, buyerID string) ([]order.Order, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+orderColumns+` FROM orders
        WHERE buyer_id = $1
        ORDER BY created_at DESC, id DESC`, buyerID)
	if err != nil {
		return nil, classify(err, "list orders")
	}
	defer rows.Close()

	out := make([]order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list orders")
	}
	return out, nil
}
