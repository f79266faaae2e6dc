package funding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-market/escrow/internal/domainerr"
	"github.com/bazaar-market/escrow/internal/ledger"
	"github.com/bazaar-market/escrow/internal/logging"
	"github.com/bazaar-market/escrow/internal/metrics"
	"github.com/bazaar-market/escrow/internal/middleware"
	"github.com/bazaar-market/escrow/internal/store/memory"
)

func newTestService() *Service {
	return NewService(memory.New(), ledger.NewEngine("USD"), metrics.New(), logging.Discard())
}

func TestServiceWalletCreatedLazily(t *testing.T) {
	ctx := context.Background()
	service := newTestService()

	first, err := service.Wallet(ctx, "user-1")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if first.Balance != 0 || first.Currency != "USD" {
		t.Fatalf("unexpected new wallet: %+v", first)
	}
	second, err := service.Wallet(ctx, "user-1")
	if err != nil {
		t.Fatalf("wallet again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same wallet, got %s and %s", first.ID, second.ID)
	}

	if _, err := service.Wallet(ctx, " "); domainerr.KindOf(err) != domainerr.KindInvalidOperation {
		t.Fatalf("expected invalid operation for blank owner, got %v", err)
	}
}

func TestServiceDeposit(t *testing.T) {
	ctx := context.Background()
	service := newTestService()

	res, err := service.Deposit(ctx, DepositInput{OwnerID: "buyer", Amount: 5_000, Reference: "wire-1", AddedBy: "admin-1"})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.Balance != 5_000 {
		t.Fatalf("expected balance 5000, got %d", res.Balance)
	}
	if res.Transaction.Metadata["added_by"] != "admin-1" {
		t.Fatalf("expected added_by metadata, got %v", res.Transaction.Metadata)
	}

	replay, err := service.Deposit(ctx, DepositInput{OwnerID: "buyer", Amount: 5_000, Reference: "wire-1", AddedBy: "admin-1"})
	if err != nil {
		t.Fatalf("replay deposit: %v", err)
	}
	if !replay.Replayed || replay.Transaction.ID != res.Transaction.ID {
		t.Fatalf("expected replay of %s, got %+v", res.Transaction.ID, replay)
	}

	w, _ := service.Wallet(ctx, "buyer")
	if w.Balance != 5_000 {
		t.Fatalf("replayed deposit must not credit twice, balance %d", w.Balance)
	}

	generated, err := service.Deposit(ctx, DepositInput{OwnerID: "buyer", Amount: 100})
	if err != nil {
		t.Fatalf("deposit without reference: %v", err)
	}
	if len(generated.Transaction.Reference) <= len("deposit:") {
		t.Fatalf("expected generated reference, got %q", generated.Transaction.Reference)
	}
}

func TestServiceDepositValidation(t *testing.T) {
	ctx := context.Background()
	service := newTestService()

	if _, err := service.Deposit(ctx, DepositInput{OwnerID: "buyer", Amount: 0}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := service.Deposit(ctx, DepositInput{Amount: 10}); domainerr.KindOf(err) != domainerr.KindInvalidOperation {
		t.Fatalf("expected invalid operation, got %v", err)
	}
}

func TestServiceHistoryPaging(t *testing.T) {
	ctx := context.Background()
	service := newTestService()

	for i, ref := range []string{"a", "b", "c"} {
		if _, err := service.Deposit(ctx, DepositInput{OwnerID: "buyer", Amount: int64(i + 1), Reference: ref}); err != nil {
			t.Fatalf("deposit %s: %v", ref, err)
		}
	}

	hist, err := service.History(ctx, "buyer", 2, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if hist.Total != 3 || len(hist.Transactions) != 2 {
		t.Fatalf("expected 2 of 3 entries, got %d of %d", len(hist.Transactions), hist.Total)
	}
	if hist.Transactions[0].Reference != "c" {
		t.Fatalf("expected newest first, got %q", hist.Transactions[0].Reference)
	}

	hist, err = service.History(ctx, "buyer", 0, -1)
	if err != nil {
		t.Fatalf("history defaults: %v", err)
	}
	if hist.Limit != defaultHistoryLimit || hist.Offset != 0 {
		t.Fatalf("expected default paging, got limit=%d offset=%d", hist.Limit, hist.Offset)
	}

	hist, _ = service.History(ctx, "buyer", 10_000, 0)
	if hist.Limit != maxHistoryLimit {
		t.Fatalf("expected limit capped at %d, got %d", maxHistoryLimit, hist.Limit)
	}
}

func TestServiceAudit(t *testing.T) {
	ctx := context.Background()
	service := newTestService()

	if _, err := service.Audit(ctx, "nobody"); domainerr.KindOf(err) != domainerr.KindNotFound {
		t.Fatalf("expected not found for unknown owner, got %v", err)
	}

	if _, err := service.Deposit(ctx, DepositInput{OwnerID: "buyer", Amount: 700, Reference: "w"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	report, err := service.Audit(ctx, "buyer")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.Consistent() || report.LedgerSum != 700 || report.Entries != 1 {
		t.Fatalf("unexpected audit: %s", report)
	}
}

func newTestApp(service *Service, user string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalUserID, user)
		return c.Next()
	})
	h := NewHandler(service)
	app.Get("/wallet/me", h.Me)
	app.Get("/wallet/transactions", h.Transactions)
	app.Post("/admin/wallets/deposit", h.Deposit)
	app.Get("/admin/wallets/:userId/audit", h.Audit)
	return app
}

func TestHandlerDepositAndViews(t *testing.T) {
	service := newTestService()
	admin := newTestApp(service, "admin-1")

	body, _ := json.Marshal(DepositRequest{UserID: "buyer", Amount: 2_050, Reference: "wire-9"})
	req := httptest.NewRequest(fiber.MethodPost, "/admin/wallets/deposit", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := admin.Test(req)
	if err != nil {
		t.Fatalf("deposit request: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var dep DepositResponse
	if err := json.NewDecoder(resp.Body).Decode(&dep); err != nil {
		t.Fatalf("decode deposit: %v", err)
	}
	if dep.Balance.Display != "20.50" || dep.Transaction.Kind != "deposit" {
		t.Fatalf("unexpected deposit response: %+v", dep)
	}

	buyer := newTestApp(service, "buyer")
	resp, err = buyer.Test(httptest.NewRequest(fiber.MethodGet, "/wallet/me", nil))
	if err != nil {
		t.Fatalf("wallet request: %v", err)
	}
	var w WalletResponse
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	if w.OwnerID != "buyer" || w.Balance.Minor != 2_050 {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	resp, err = buyer.Test(httptest.NewRequest(fiber.MethodGet, "/wallet/transactions?limit=10", nil))
	if err != nil {
		t.Fatalf("history request: %v", err)
	}
	var hist HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if hist.Total != 1 || hist.Limit != 10 || hist.Transactions[0].Metadata["added_by"] != "admin-1" {
		t.Fatalf("unexpected history: %+v", hist)
	}

	resp, err = admin.Test(httptest.NewRequest(fiber.MethodGet, "/admin/wallets/buyer/audit", nil))
	if err != nil {
		t.Fatalf("audit request: %v", err)
	}
	var audit AuditResponse
	if err := json.NewDecoder(resp.Body).Decode(&audit); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if !audit.Consistent || audit.Drift != 0 {
		t.Fatalf("unexpected audit: %+v", audit)
	}
}

func TestHandlerDepositRejectsBadInput(t *testing.T) {
	app := newTestApp(newTestService(), "admin-1")

	req := httptest.NewRequest(fiber.MethodPost, "/admin/wallets/deposit", bytes.NewReader([]byte(`{"user_id":"buyer","amount":-5}`)))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 422, got %d: %s", resp.StatusCode, raw)
	}
}
