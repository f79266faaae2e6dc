package funding

import (
	"time"

	"github.com/bazaar-market/escrow/internal/ledger"
	"github.com/bazaar-market/escrow/internal/money"
	"github.com/bazaar-market/escrow/internal/wallet"
)

// DepositRequest is the admin payload crediting a user's wallet.
type DepositRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference" validate:"max=128"`
}

// WalletResponse is the API view of a wallet.
type WalletResponse struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Balance   money.Amount `json:"balance"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TransactionResponse is the API view of a ledger entry.
type TransactionResponse struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Amount    money.Amount      `json:"amount"`
	Reference string            `json:"reference"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// HistoryResponse is one page of wallet transactions.
type HistoryResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// DepositResponse reports a recorded deposit.
type DepositResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	Balance     money.Amount        `json:"balance"`
	Replayed    bool                `json:"replayed"`
}

// AuditResponse reports the ledger recomputation of a wallet.
type AuditResponse struct {
	WalletID   string       `json:"wallet_id"`
	Balance    money.Amount `json:"balance"`
	LedgerSum  money.Amount `json:"ledger_sum"`
	Drift      int64        `json:"drift"`
	Entries    int          `json:"entries"`
	Consistent bool         `json:"consistent"`
}

func toWalletResponse(w wallet.Wallet) WalletResponse {
	return WalletResponse{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Balance:   money.NewAmount(w.Balance, w.Currency),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func toTransactionResponse(tx ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:        tx.ID,
		Kind:      tx.Kind.String(),
		Amount:    money.NewAmount(tx.Amount, tx.Currency),
		Reference: tx.Reference,
		Status:    tx.Status.String(),
		Metadata:  tx.Metadata,
		CreatedAt: tx.CreatedAt,
	}
}
