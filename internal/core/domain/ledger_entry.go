package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind is the type of balance-affecting event.
type EntryKind string

const (
	EntryKindDeposit      EntryKind = "deposit"
	EntryKindPurchase     EntryKind = "purchase"
	EntryKindLock         EntryKind = "lock"
	EntryKindRelease      EntryKind = "release"
	EntryKindSettleDebit  EntryKind = "settle_debit"
	EntryKindSettleCredit EntryKind = "settle_credit"
	EntryKindWithdrawal   EntryKind = "withdrawal"
)

// AllEntryKinds lists every kind in a stable order.
var AllEntryKinds = []EntryKind{
	EntryKindDeposit,
	EntryKindPurchase,
	EntryKindLock,
	EntryKindRelease,
	EntryKindSettleDebit,
	EntryKindSettleCredit,
	EntryKindWithdrawal,
}

// Valid reports whether k is a known kind.
func (k EntryKind) Valid() bool {
	for _, known := range AllEntryKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsCredit reports whether k brings new tokens in from outside the ledger.
func (k EntryKind) IsCredit() bool {
	return k == EntryKindDeposit || k == EntryKindPurchase
}

// IsEscrow reports whether k moves tokens in or out of a bid escrow.
func (k EntryKind) IsEscrow() bool {
	return k == EntryKindLock || k == EntryKindRelease || k == EntryKindSettleDebit
}

// Sign is the sign carried by Amount for this kind: +1 when the event grows
// the spendable balance or the locked pool, -1 when it shrinks them.
func (k EntryKind) Sign() int64 {
	switch k {
	case EntryKindSettleDebit, EntryKindWithdrawal:
		return -1
	default:
		return 1
	}
}

// LedgerEntry is an immutable audit record of a single balance-affecting event.
type LedgerEntry struct {
	ID           uuid.UUID `json:"id"`
	Seq          int64     `json:"seq"` // assigned by storage, insertion order
	WalletID     uuid.UUID `json:"wallet_id"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         EntryKind `json:"kind"`
	Amount       int64     `json:"amount"` // signed, see EntryKind.Sign
	BalanceAfter int64     `json:"balance_after"`
	LockedAfter  int64     `json:"locked_after"`
	ReferenceID  string    `json:"reference_id"`
}

// Magnitude returns |Amount|.
func (e LedgerEntry) Magnitude() int64 {
	if e.Amount < 0 {
		return -e.Amount
	}
	return e.Amount
}
