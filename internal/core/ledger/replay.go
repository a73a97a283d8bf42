package ledger

import (
	"fmt"
	"math"
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// Snapshot is a wallet state reconstructed from its ledger entries.
type Snapshot struct {
	Balance      int64     `json:"balance"`
	LockedTokens int64     `json:"locked_tokens"`
	Entries      int       `json:"entries"`
	LastEntryAt  time.Time `json:"last_entry_at,omitempty"`
}

// Matches reports whether s agrees with the live wallet fields.
func (s Snapshot) Matches(w domain.Wallet) bool {
	return s.Balance == w.Balance && s.LockedTokens == w.LockedTokens
}

// Replay folds entries, which must be in insertion order, starting from a zero
// wallet. Every entry is checked against its kind's sign and its recorded
// post-state; the first mismatch is returned as an invariant violation.
func Replay(walletID uuid.UUID, entries []domain.LedgerEntry) (Snapshot, error) {
	var s Snapshot
	for i, entry := range entries {
		if entry.WalletID != walletID {
			return s, violation(i, entry, "belongs to wallet %s", entry.WalletID)
		}
		if !entry.Kind.Valid() {
			return s, violation(i, entry, "unknown kind")
		}
		if entry.Amount == 0 || (entry.Amount < 0) != (entry.Kind.Sign() < 0) {
			return s, violation(i, entry, "amount %d has the wrong sign", entry.Amount)
		}

		var dBalance, dLocked int64
		switch entry.Kind {
		case domain.EntryKindDeposit, domain.EntryKindPurchase, domain.EntryKindSettleCredit, domain.EntryKindWithdrawal:
			dBalance = entry.Amount
		case domain.EntryKindLock:
			dBalance, dLocked = -entry.Amount, entry.Amount
		case domain.EntryKindRelease:
			dBalance, dLocked = entry.Amount, -entry.Amount
		case domain.EntryKindSettleDebit:
			dLocked = entry.Amount
		}
		balance, okBalance := addSigned(s.Balance, dBalance)
		locked, okLocked := addSigned(s.LockedTokens, dLocked)
		if !okBalance || !okLocked {
			return s, violation(i, entry, "amount %d overflows the replayed wallet", entry.Amount)
		}
		s.Balance, s.LockedTokens = balance, locked

		if s.Balance < 0 || s.LockedTokens < 0 {
			return s, violation(i, entry, "replay went negative (balance %d, locked %d)", s.Balance, s.LockedTokens)
		}
		if s.Balance != entry.BalanceAfter || s.LockedTokens != entry.LockedAfter {
			return s, violation(i, entry, "recorded post-state (%d, %d) differs from replay (%d, %d)",
				entry.BalanceAfter, entry.LockedAfter, s.Balance, s.LockedTokens)
		}

		s.Entries++
		s.LastEntryAt = entry.Timestamp
	}
	return s, nil
}

// CheckEscrowTrail verifies that no bid reference on a wallet receives escrow
// activity after it was settled or fully released, that a settlement takes
// everything still locked under its reference, and that no reference draws
// more than was locked under it.
func CheckEscrowTrail(entries []domain.LedgerEntry) error {
	type escrowKey struct {
		wallet uuid.UUID
		ref    string
	}
	outstanding := make(map[escrowKey]int64)
	closed := make(map[escrowKey]bool)

	for i, entry := range entries {
		if !entry.Kind.IsEscrow() {
			continue
		}
		key := escrowKey{entry.WalletID, entry.ReferenceID}
		if closed[key] {
			return violation(i, entry, "escrow %q already closed", entry.ReferenceID)
		}

		switch entry.Kind {
		case domain.EntryKindLock:
			outstanding[key] += entry.Magnitude()
		default:
			left := outstanding[key] - entry.Magnitude()
			if left < 0 {
				return violation(i, entry, "escrow %q draws more than was locked", entry.ReferenceID)
			}
			if entry.Kind == domain.EntryKindSettleDebit && left != 0 {
				return violation(i, entry, "escrow %q settled with %d still locked", entry.ReferenceID, left)
			}
			outstanding[key] = left
			if left == 0 {
				closed[key] = true
			}
		}
	}
	return nil
}

func addSigned(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func violation(i int, entry domain.LedgerEntry, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)
	return apperror.ErrInvariantViolation(fmt.Sprintf("entry %d (%s %s): %s", i, entry.ID, entry.Kind, detail))
}
