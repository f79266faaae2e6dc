package funding

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-market/escrow/internal/middleware"
	"github.com/bazaar-market/escrow/internal/money"
)

// Handler exposes wallet and admin funding endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Me returns the caller's wallet.
func (h *Handler) Me(c *fiber.Ctx) error {
	w, err := h.service.Wallet(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(toWalletResponse(w))
}

// Transactions pages through the caller's ledger (?limit=&offset=).
func (h *Handler) Transactions(c *fiber.Ctx) error {
	hist, err := h.service.History(c.UserContext(), middleware.UserID(c), c.QueryInt("limit", defaultHistoryLimit), c.QueryInt("offset", 0))
	if err != nil {
		return err
	}
	resp := HistoryResponse{
		Transactions: make([]TransactionResponse, 0, len(hist.Transactions)),
		Total:        hist.Total,
		Limit:        hist.Limit,
		Offset:       hist.Offset,
	}
	for _, tx := range hist.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(tx))
	}
	return c.JSON(resp)
}

// Deposit credits a user's wallet. Admin only.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	res, err := h.service.Deposit(c.UserContext(), DepositInput{
		OwnerID:   req.UserID,
		Amount:    req.Amount,
		Reference: req.Reference,
		AddedBy:   middleware.UserID(c),
	})
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(DepositResponse{
		Transaction: toTransactionResponse(res.Transaction),
		Balance:     money.NewAmount(res.Balance, res.Transaction.Currency),
		Replayed:    res.Replayed,
	})
}

// Audit recomputes a user's balance from the ledger. Admin only.
func (h *Handler) Audit(c *fiber.Ctx) error {
	report, err := h.service.Audit(c.UserContext(), c.Params("userId"))
	if err != nil {
		return err
	}
	cur := report.Wallet.Currency
	return c.JSON(AuditResponse{
		WalletID:   report.Wallet.ID,
		Balance:    money.NewAmount(report.Wallet.Balance, cur),
		LedgerSum:  money.NewAmount(report.LedgerSum, cur),
		Drift:      report.Drift,
		Entries:    report.Entries,
		Consistent: report.Consistent(),
	})
}
