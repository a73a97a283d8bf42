// Package ledger holds the pure wallet arithmetic: each operation takes wallet
// snapshots and returns new snapshots plus the ledger entries describing the
// change. Nothing here touches storage; the caller persists the results
// atomically.
package ledger

import (
	"math"
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// Result is a single-wallet mutation.
type Result struct {
	Wallet domain.Wallet
	Entry  domain.LedgerEntry
}

// SettleResult is the two-wallet outcome of a won bid.
type SettleResult struct {
	Winner domain.Wallet
	Seller domain.Wallet
	Debit  domain.LedgerEntry
	Credit domain.LedgerEntry
}

// Engine applies wallet operations. It is stateless apart from its clock and
// id source and is safe for concurrent use.
type Engine struct {
	now   func() time.Time
	newID func() uuid.UUID
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the entry id source.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine creates an Engine using UTC wall time and random UUIDs.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreditDeposit adds amount to the spendable balance. kind must be deposit or
// purchase.
func (e *Engine) CreditDeposit(w domain.Wallet, amount int64, referenceID string, kind domain.EntryKind) (Result, error) {
	if !kind.IsCredit() {
		return Result{}, apperror.Validation("credit kind must be deposit or purchase")
	}
	if amount <= 0 {
		return Result{}, apperror.ErrInvalidAmount()
	}
	if err := checkInvariant(w); err != nil {
		return Result{}, err
	}

	balance, err := addChecked(w.Balance, amount)
	if err != nil {
		return Result{}, err
	}

	next := w
	next.Balance = balance
	return e.finish(w, next, kind, amount, referenceID)
}

// LockTokens moves amount from the spendable balance into the locked pool.
func (e *Engine) LockTokens(w domain.Wallet, amount int64, referenceID string) (Result, error) {
	if amount <= 0 {
		return Result{}, apperror.ErrInvalidAmount()
	}
	if err := checkInvariant(w); err != nil {
		return Result{}, err
	}
	if w.Balance < amount {
		return Result{}, apperror.ErrInsufficientBalance()
	}

	locked, err := addChecked(w.LockedTokens, amount)
	if err != nil {
		return Result{}, err
	}

	next := w
	next.Balance = w.Balance - amount
	next.LockedTokens = locked
	return e.finish(w, next, domain.EntryKindLock, amount, referenceID)
}

// ReleaseLockedTokens moves amount from the locked pool back to the spendable
// balance.
func (e *Engine) ReleaseLockedTokens(w domain.Wallet, amount int64, referenceID string) (Result, error) {
	if amount <= 0 {
		return Result{}, apperror.ErrInvalidAmount()
	}
	if err := checkInvariant(w); err != nil {
		return Result{}, err
	}
	if w.LockedTokens < amount {
		return Result{}, apperror.ErrInsufficientLockedTokens()
	}

	balance, err := addChecked(w.Balance, amount)
	if err != nil {
		return Result{}, err
	}

	next := w
	next.LockedTokens = w.LockedTokens - amount
	next.Balance = balance
	return e.finish(w, next, domain.EntryKindRelease, amount, referenceID)
}

// SettleBid removes amount from the winner's locked pool and adds it to the
// seller's spendable balance. Either both snapshots change or neither does.
func (e *Engine) SettleBid(winner, seller domain.Wallet, amount int64, referenceID string) (SettleResult, error) {
	if amount <= 0 {
		return SettleResult{}, apperror.ErrInvalidAmount()
	}
	if winner.ID == seller.ID {
		return SettleResult{}, apperror.Validation("winner and seller must be different wallets")
	}
	if err := checkInvariant(winner); err != nil {
		return SettleResult{}, err
	}
	if err := checkInvariant(seller); err != nil {
		return SettleResult{}, err
	}
	if winner.LockedTokens < amount {
		return SettleResult{}, apperror.ErrInsufficientLockedTokens()
	}

	sellerBalance, err := addChecked(seller.Balance, amount)
	if err != nil {
		return SettleResult{}, err
	}

	nextWinner := winner
	nextWinner.LockedTokens = winner.LockedTokens - amount
	nextSeller := seller
	nextSeller.Balance = sellerBalance

	debit, err := e.finish(winner, nextWinner, domain.EntryKindSettleDebit, -amount, referenceID)
	if err != nil {
		return SettleResult{}, err
	}
	credit, err := e.finish(seller, nextSeller, domain.EntryKindSettleCredit, amount, referenceID)
	if err != nil {
		return SettleResult{}, err
	}

	return SettleResult{
		Winner: debit.Wallet,
		Seller: credit.Wallet,
		Debit:  debit.Entry,
		Credit: credit.Entry,
	}, nil
}

// Withdraw removes amount from the spendable balance (cash-out).
func (e *Engine) Withdraw(w domain.Wallet, amount int64, referenceID string) (Result, error) {
	if amount <= 0 {
		return Result{}, apperror.ErrInvalidAmount()
	}
	if err := checkInvariant(w); err != nil {
		return Result{}, err
	}
	if w.Balance < amount {
		return Result{}, apperror.ErrInsufficientBalance()
	}

	next := w
	next.Balance = w.Balance - amount
	return e.finish(w, next, domain.EntryKindWithdrawal, -amount, referenceID)
}

// finish re-checks the invariant on the new snapshot and builds the matching
// entry. Version and UpdatedAt are left to the storage layer.
func (e *Engine) finish(prev, next domain.Wallet, kind domain.EntryKind, amount int64, referenceID string) (Result, error) {
	if err := checkInvariant(next); err != nil {
		return Result{}, err
	}

	return Result{
		Wallet: next,
		Entry: domain.LedgerEntry{
			ID:           e.newID(),
			WalletID:     prev.ID,
			Timestamp:    e.now(),
			Kind:         kind,
			Amount:       amount,
			BalanceAfter: next.Balance,
			LockedAfter:  next.LockedTokens,
			ReferenceID:  referenceID,
		},
	}, nil
}

func checkInvariant(w domain.Wallet) error {
	if err := w.CheckInvariant(); err != nil {
		return apperror.ErrInvariantViolation(err.Error())
	}
	return nil
}

// addChecked returns a+b for non-negative a and positive b, or AmountOverflow
// when the sum does not fit in int64.
func addChecked(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, apperror.ErrAmountOverflow()
	}
	return a + b, nil
}
