// Package funding serves wallet views and administrative funding on top of
// the ledger. Deposits model externally settled money; card and bank rails
// live in another system.
package funding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bazaar-market/escrow/internal/domainerr"
	"github.com/bazaar-market/escrow/internal/ledger"
	"github.com/bazaar-market/escrow/internal/metrics"
	"github.com/bazaar-market/escrow/internal/store"
	"github.com/bazaar-market/escrow/internal/wallet"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Service exposes wallet reads and deposits.
type Service struct {
	uow     store.UnitOfWork
	ledger  *ledger.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService constructs a funding service.
func NewService(uow store.UnitOfWork, engine *ledger.Engine, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{uow: uow, ledger: engine, metrics: m, logger: logger}
}

// History is one page of a wallet's ledger, newest first.
type History struct {
	Wallet       wallet.Wallet
	Transactions []ledger.Transaction
	Total        int
	Limit        int
	Offset       int
}

// DepositInput is an externally settled credit recorded by an administrator.
type DepositInput struct {
	OwnerID   string
	Amount    int64
	Reference string
	AddedBy   string
}

// AuditReport compares a wallet's stored balance with its ledger.
type AuditReport struct {
	Wallet    wallet.Wallet
	LedgerSum int64
	Drift     int64
	Entries   int
}

// Consistent reports whether the balance equals the sum of its ledger.
func (r AuditReport) Consistent() bool { return r.Drift == 0 }

// Wallet returns the owner's wallet, creating an empty one on first access.
func (s *Service) Wallet(ctx context.Context, ownerID string) (wallet.Wallet, error) {
	if strings.TrimSpace(ownerID) == "" {
		return wallet.Wallet{}, domainerr.New(domainerr.KindInvalidOperation, "owner id is required")
	}
	var w wallet.Wallet
	err := s.uow.Within(ctx, func(ctx context.Context, sess store.Session) error {
		var err error
		w, err = sess.Wallets().Ensure(ctx, ownerID, s.ledger.Currency())
		return err
	})
	return w, err
}

// History pages through the owner's transactions. A non-positive limit
// selects the default page size.
func (s *Service) History(ctx context.Context, ownerID string, limit, offset int) (History, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	h := History{Limit: limit, Offset: offset}
	err := s.uow.Within(ctx, func(ctx context.Context, sess store.Session) error {
		w, err := sess.Wallets().Ensure(ctx, ownerID, s.ledger.Currency())
		if err != nil {
			return err
		}
		page, err := sess.Transactions().ListByWallet(ctx, w.ID, limit, offset)
		if err != nil {
			return err
		}
		h.Wallet, h.Transactions, h.Total = w, page.Transactions, page.Total
		return nil
	})
	return h, err
}

// Deposit credits the owner's wallet. Re-submitting the same reference
// returns the original entry instead of crediting twice.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (ledger.Result, error) {
	switch {
	case strings.TrimSpace(in.OwnerID) == "":
		return ledger.Result{}, domainerr.New(domainerr.KindInvalidOperation, "user_id is required")
	case in.Amount <= 0:
		return ledger.Result{}, ledger.ErrInvalidAmount
	}
	reference := strings.TrimSpace(in.Reference)
	if reference == "" {
		reference = "deposit:" + uuid.NewString()
	}

	var res ledger.Result
	err := s.uow.Within(ctx, func(ctx context.Context, sess store.Session) error {
		w, err := sess.Wallets().Ensure(ctx, in.OwnerID, s.ledger.Currency())
		if err != nil {
			return err
		}
		res, err = s.ledger.Deposit(ctx, sess, w.ID, in.Amount, reference, map[string]string{"added_by": in.AddedBy})
		return err
	})
	if err != nil {
		return ledger.Result{}, err
	}

	if !res.Replayed {
		if s.metrics != nil {
			s.metrics.Postings.WithLabelValues(ledger.KindDeposit.String()).Inc()
		}
		s.logger.Info("deposit recorded",
			slog.String("owner_id", in.OwnerID),
			slog.String("tx_id", res.Transaction.ID),
			slog.Int64("amount", in.Amount),
			slog.String("added_by", in.AddedBy))
	}
	return res, nil
}

// Audit recomputes the owner's balance from the transaction log.
func (s *Service) Audit(ctx context.Context, ownerID string) (AuditReport, error) {
	var report AuditReport
	err := s.uow.Within(ctx, func(ctx context.Context, sess store.Session) error {
		w, err := sess.Wallets().GetByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		sum, err := sess.Transactions().SumByWallet(ctx, w.ID)
		if err != nil {
			return err
		}
		page, err := sess.Transactions().ListByWallet(ctx, w.ID, 1, 0)
		if err != nil {
			return err
		}
		report = AuditReport{Wallet: w, LedgerSum: sum, Drift: w.Balance - sum, Entries: page.Total}
		return nil
	})
	if err != nil {
		return AuditReport{}, err
	}
	if !report.Consistent() {
		s.logger.Error("wallet balance drift detected",
			slog.String("wallet_id", report.Wallet.ID),
			slog.Int64("balance", report.Wallet.Balance),
			slog.Int64("ledger_sum", report.LedgerSum))
	}
	return report, nil
}

func (r AuditReport) String() string {
	return fmt.Sprintf("wallet %s balance=%d ledger=%d drift=%d", r.Wallet.ID, r.Wallet.Balance, r.LedgerSum, r.Drift)
}
