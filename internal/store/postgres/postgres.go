// Package postgres implements store.UnitOfWork on PostgreSQL through pgx.
// Each unit of work is one READ COMMITTED transaction; rows are serialized
// with SELECT ... FOR UPDATE and every balance or status change is a
// conditional UPDATE, so a lost lock can never produce a negative balance or
// a skipped state.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bazaar-market/escrow/internal/domainerr"
	"github.com/bazaar-market/escrow/internal/ledger"
	"github.com/bazaar-market/escrow/internal/listing"
	"github.com/bazaar-market/escrow/internal/order"
	"github.com/bazaar-market/escrow/internal/store"
	"github.com/bazaar-market/escrow/internal/wallet"
)

// Store runs units of work against a pgx pool.
type Store struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// New constructs a Postgres-backed store.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ store.UnitOfWork = (*Store)(nil)

// Within runs fn inside a database transaction.
func (s *Store) Within(ctx context.Context, fn store.Work) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err, "begin transaction")
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) // nolint:errcheck

	if err := fn(ctx, &session{tx: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// classify tags driver errors with the domain kind callers branch on.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var de *domainerr.Error
	if errors.As(err, &de) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01":
			return domainerr.Wrap(domainerr.KindTransient, err, op)
		case "23505":
			return domainerr.Wrap(domainerr.KindConflict, err, op)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) ||
		errors.Is(err, context.DeadlineExceeded) {
		return domainerr.Wrap(domainerr.KindTransient, err, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type session struct {
	tx  pgx.Tx
	now func() time.Time
}

func (s *session) Wallets() wallet.Store    { return &walletStore{tx: s.tx, now: s.now} }
func (s *session) Transactions() ledger.Log { return &txLog{tx: s.tx} }
func (s *session) Orders() order.Repository { return &orderRepo{tx: s.tx} }
func (s *session) Listings() listing.Reader { return &listingReader{tx: s.tx} }
