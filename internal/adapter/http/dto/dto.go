package dto

import (
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ports"
)

// EscrowRequest is the request body for locking or releasing bid tokens.
// Amount signs are left to the ledger so that they map to InvalidAmount.
type EscrowRequest struct {
	ReferenceID string `json:"reference_id" binding:"required,max=128,safe_id"`
	Amount      int64  `json:"amount"`
}

// SettleRequest is the request body for settling a won bid.
type SettleRequest struct {
	WinnerUserID string `json:"winner_user_id" binding:"required,max=128,safe_id"`
	SellerUserID string `json:"seller_user_id" binding:"required,max=128,safe_id"`
	ReferenceID  string `json:"reference_id" binding:"required,max=128,safe_id"`
	Amount       int64  `json:"amount"`
}

// WithdrawRequest is the request body for a cash-out.
type WithdrawRequest struct {
	ReferenceID string `json:"reference_id" binding:"required,max=128,safe_id"`
	Amount      int64  `json:"amount"`
}

// ExportRequest is the request body for an admin CSV export.
type ExportRequest struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// WalletResponse is the response body for a wallet.
type WalletResponse struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Balance      int64            `json:"balance"`
	LockedTokens int64            `json:"locked_tokens"`
	Version      int64            `json:"version"`
	AgeVerified  *bool            `json:"age_verified,omitempty"`
	OpenEscrows  []EscrowResponse `json:"open_escrows,omitempty"`
	UpdatedAt    string           `json:"updated_at"`
}

// EscrowResponse describes an open bid escrow.
type EscrowResponse struct {
	ReferenceID  string `json:"reference_id"`
	LockedAmount int64  `json:"locked_amount"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

// EntryResponse is the response body for a ledger entry.
type EntryResponse struct {
	Seq          int64  `json:"seq"`
	ID           string `json:"id"`
	WalletID     string `json:"wallet_id"`
	Kind         string `json:"kind"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	LockedAfter  int64  `json:"locked_after"`
	ReferenceID  string `json:"reference_id"`
	CreatedAt    string `json:"created_at"`
}

// MutationResponse is the response for lock, release, withdraw and credit.
type MutationResponse struct {
	Wallet WalletResponse `json:"wallet"`
	Entry  EntryResponse  `json:"entry"`
}

// SettleResponse is the response for a settlement.
type SettleResponse struct {
	Winner WalletResponse `json:"winner"`
	Seller WalletResponse `json:"seller"`
	Debit  EntryResponse  `json:"debit"`
	Credit EntryResponse  `json:"credit"`
}

// WebhookAck acknowledges a provider callback.
type WebhookAck struct {
	Received  bool   `json:"received"`
	Handled   bool   `json:"handled"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventID   string `json:"event_id,omitempty"`
}

// NewWalletResponse converts a wallet.
func NewWalletResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		ID:           w.ID.String(),
		UserID:       w.UserID,
		Balance:      w.Balance,
		LockedTokens: w.LockedTokens,
		Version:      w.Version,
		UpdatedAt:    w.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// NewWalletViewResponse converts a wallet with its open escrows.
func NewWalletViewResponse(v *ports.WalletView) WalletResponse {
	resp := NewWalletResponse(v.Wallet)
	verified := v.AgeVerified
	resp.AgeVerified = &verified
	resp.OpenEscrows = make([]EscrowResponse, 0, len(v.OpenEscrows))
	for _, e := range v.OpenEscrows {
		resp.OpenEscrows = append(resp.OpenEscrows, EscrowResponse{
			ReferenceID:  e.ReferenceID,
			LockedAmount: e.LockedAmount,
			Status:       string(e.Status),
			CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp
}

// NewEntryResponse converts a ledger entry.
func NewEntryResponse(e domain.LedgerEntry) EntryResponse {
	return EntryResponse{
		Seq:          e.Seq,
		ID:           e.ID.String(),
		WalletID:     e.WalletID.String(),
		Kind:         string(e.Kind),
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		LockedAfter:  e.LockedAfter,
		ReferenceID:  e.ReferenceID,
		CreatedAt:    e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// NewEntryResponses converts a page of entries.
func NewEntryResponses(entries []domain.LedgerEntry) []EntryResponse {
	items := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, NewEntryResponse(e))
	}
	return items
}

// NewMutationResponse converts a single-wallet mutation.
func NewMutationResponse(r *ports.MutationResult) MutationResponse {
	return MutationResponse{Wallet: NewWalletResponse(r.Wallet), Entry: NewEntryResponse(r.Entry)}
}

// NewSettleResponse converts a settlement.
func NewSettleResponse(o *ports.SettleOutcome) SettleResponse {
	return SettleResponse{
		Winner: NewWalletResponse(o.Winner),
		Seller: NewWalletResponse(o.Seller),
		Debit:  NewEntryResponse(o.Debit),
		Credit: NewEntryResponse(o.Credit),
	}
}
