package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wallet is a user's token holdings. Balance is spendable, LockedTokens is
// escrowed against open bids, SafeBalance is a protected sub-balance that
// lock/release/settle never touch.
type Wallet struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	Balance      int64     `json:"balance"`
	LockedTokens int64     `json:"locked_tokens"`
	SafeBalance  int64     `json:"safe_balance"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewWallet returns the zero wallet created on first registration.
func NewWallet(userID string, now time.Time) *Wallet {
	return &Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CheckInvariant returns an error describing the first negative field, if any.
func (w Wallet) CheckInvariant() error {
	switch {
	case w.Balance < 0:
		return fmt.Errorf("wallet %s: balance %d is negative", w.ID, w.Balance)
	case w.LockedTokens < 0:
		return fmt.Errorf("wallet %s: locked tokens %d is negative", w.ID, w.LockedTokens)
	case w.SafeBalance < 0:
		return fmt.Errorf("wallet %s: safe balance %d is negative", w.ID, w.SafeBalance)
	}
	return nil
}

// Held returns balance plus locked tokens, the value the wallet owns.
func (w Wallet) Held() int64 {
	return w.Balance + w.LockedTokens
}
