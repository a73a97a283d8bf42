package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage is a ledger event written in the same transaction as the
// ledger entry it describes, and relayed to the message bus afterwards.
type OutboxMessage struct {
	ID         int64     `json:"id"`
	MessageKey string    `json:"message_key"` // wallet id, keeps per-wallet ordering on one partition
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BalanceEvent is published after a committed mutation so that read-side
// consumers (websocket clients, exports) can follow a wallet.
type BalanceEvent struct {
	WalletID     uuid.UUID `json:"wallet_id"`
	UserID       string    `json:"user_id"`
	Kind         EntryKind `json:"kind"`
	Amount       int64     `json:"amount"`
	Balance      int64     `json:"balance"`
	LockedTokens int64     `json:"locked_tokens"`
	ReferenceID  string    `json:"reference_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewBalanceEvent builds the event for entry applied to w.
func NewBalanceEvent(w *Wallet, entry LedgerEntry) BalanceEvent {
	return BalanceEvent{
		WalletID:     w.ID,
		UserID:       w.UserID,
		Kind:         entry.Kind,
		Amount:       entry.Amount,
		Balance:      entry.BalanceAfter,
		LockedTokens: entry.LockedAfter,
		ReferenceID:  entry.ReferenceID,
		OccurredAt:   entry.Timestamp,
	}
}
