package ledger

import (
	"math"
	"testing"
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(WithClock(func() time.Time { return fixedNow }))
}

func wallet(balance, locked int64) domain.Wallet {
	return domain.Wallet{ID: uuid.New(), UserID: "user", Balance: balance, LockedTokens: locked}
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

// ==================== Scenarios ====================

func TestLockTokens_MovesBalanceToLocked(t *testing.T) {
	e := newTestEngine()
	w := wallet(100, 0)

	res, err := e.LockTokens(w, 30, "bid-1")
	require.NoError(t, err)

	assert.Equal(t, int64(70), res.Wallet.Balance)
	assert.Equal(t, int64(30), res.Wallet.LockedTokens)
	assert.Equal(t, domain.EntryKindLock, res.Entry.Kind)
	assert.Equal(t, int64(30), res.Entry.Amount)
	assert.Equal(t, int64(70), res.Entry.BalanceAfter)
	assert.Equal(t, int64(30), res.Entry.LockedAfter)
	assert.Equal(t, "bid-1", res.Entry.ReferenceID)
	assert.Equal(t, w.ID, res.Entry.WalletID)
	assert.Equal(t, fixedNow, res.Entry.Timestamp)
	assert.Equal(t, int64(100), w.Balance, "input snapshot must not change")
}

func TestLockTokens_InsufficientBalance(t *testing.T) {
	e := newTestEngine()
	w := wallet(10, 0)

	res, err := e.LockTokens(w, 20, "bid-1")

	assertAppError(t, err, apperror.CodeInsufficientBalance)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, int64(10), w.Balance)
	assert.Equal(t, int64(0), w.LockedTokens)
}

func TestReleaseLockedTokens_RestoresBalance(t *testing.T) {
	e := newTestEngine()

	res, err := e.ReleaseLockedTokens(wallet(70, 30), 30, "bid-1")
	require.NoError(t, err)

	assert.Equal(t, int64(100), res.Wallet.Balance)
	assert.Equal(t, int64(0), res.Wallet.LockedTokens)
	assert.Equal(t, domain.EntryKindRelease, res.Entry.Kind)
	assert.Equal(t, int64(30), res.Entry.Amount)
}

func TestReleaseLockedTokens_InsufficientLocked(t *testing.T) {
	e := newTestEngine()
	w := wallet(70, 10)

	_, err := e.ReleaseLockedTokens(w, 30, "bid-1")

	assertAppError(t, err, apperror.CodeInsufficientLockedTokens)
	assert.Equal(t, int64(70), w.Balance)
	assert.Equal(t, int64(10), w.LockedTokens)
}

func TestSettleBid_TransfersLockedToSeller(t *testing.T) {
	e := newTestEngine()
	winner := wallet(70, 30)
	seller := wallet(0, 0)

	res, err := e.SettleBid(winner, seller, 30, "auction-9")
	require.NoError(t, err)

	assert.Equal(t, int64(70), res.Winner.Balance)
	assert.Equal(t, int64(0), res.Winner.LockedTokens)
	assert.Equal(t, int64(30), res.Seller.Balance)
	assert.Equal(t, int64(0), res.Seller.LockedTokens)

	assert.Equal(t, domain.EntryKindSettleDebit, res.Debit.Kind)
	assert.Equal(t, int64(-30), res.Debit.Amount)
	assert.Equal(t, winner.ID, res.Debit.WalletID)
	assert.Equal(t, domain.EntryKindSettleCredit, res.Credit.Kind)
	assert.Equal(t, int64(30), res.Credit.Amount)
	assert.Equal(t, seller.ID, res.Credit.WalletID)
	assert.Equal(t, res.Debit.ReferenceID, res.Credit.ReferenceID)
	assert.NotEqual(t, res.Debit.ID, res.Credit.ID)
}

func TestSettleBid_InsufficientLocked_NeitherWalletChanges(t *testing.T) {
	e := newTestEngine()
	winner := wallet(100, 10)
	seller := wallet(0, 0)
	winnerBefore, sellerBefore := winner, seller

	res, err := e.SettleBid(winner, seller, 30, "auction-9")

	assertAppError(t, err, apperror.CodeInsufficientLockedTokens)
	assert.Equal(t, SettleResult{}, res)
	assert.Equal(t, winnerBefore, winner)
	assert.Equal(t, sellerBefore, seller)
}

func TestSettleBid_SameWalletRejected(t *testing.T) {
	e := newTestEngine()
	w := wallet(0, 30)

	_, err := e.SettleBid(w, w, 10, "auction-9")

	assertAppError(t, err, apperror.CodeValidation)
}

// ==================== Amount validation ====================

func TestOperations_RejectNonPositiveAmounts(t *testing.T) {
	e := newTestEngine()
	w := wallet(100, 100)
	seller := wallet(0, 0)

	for _, amount := range []int64{0, -1, math.MinInt64} {
		_, err := e.CreditDeposit(w, amount, "dep", domain.EntryKindDeposit)
		assertAppError(t, err, apperror.CodeInvalidAmount)

		_, err = e.LockTokens(w, amount, "bid")
		assertAppError(t, err, apperror.CodeInvalidAmount)

		_, err = e.ReleaseLockedTokens(w, amount, "bid")
		assertAppError(t, err, apperror.CodeInvalidAmount)

		_, err = e.SettleBid(w, seller, amount, "bid")
		assertAppError(t, err, apperror.CodeInvalidAmount)

		_, err = e.Withdraw(w, amount, "wd")
		assertAppError(t, err, apperror.CodeInvalidAmount)
	}
}

func TestCreditDeposit(t *testing.T) {
	tests := []struct {
		name string
		kind domain.EntryKind
	}{
		{"deposit", domain.EntryKindDeposit},
		{"purchase", domain.EntryKindPurchase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			res, err := e.CreditDeposit(wallet(5, 7), 100, "pi_1", tt.kind)
			require.NoError(t, err)

			assert.Equal(t, int64(105), res.Wallet.Balance)
			assert.Equal(t, int64(7), res.Wallet.LockedTokens)
			assert.Equal(t, tt.kind, res.Entry.Kind)
			assert.Equal(t, int64(100), res.Entry.Amount)
		})
	}
}

func TestCreditDeposit_RejectsNonCreditKind(t *testing.T) {
	e := newTestEngine()

	_, err := e.CreditDeposit(wallet(0, 0), 10, "ref", domain.EntryKindLock)

	assertAppError(t, err, apperror.CodeValidation)
}

func TestWithdraw(t *testing.T) {
	e := newTestEngine()

	res, err := e.Withdraw(wallet(50, 20), 50, "wd-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Wallet.Balance)
	assert.Equal(t, int64(20), res.Wallet.LockedTokens)
	assert.Equal(t, int64(-50), res.Entry.Amount)

	_, err = e.Withdraw(wallet(50, 20), 51, "wd-2")
	assertAppError(t, err, apperror.CodeInsufficientBalance)
}

// ==================== Overflow ====================

func TestOverflow(t *testing.T) {
	e := newTestEngine()

	t.Run("credit", func(t *testing.T) {
		_, err := e.CreditDeposit(wallet(math.MaxInt64-5, 0), 6, "dep", domain.EntryKindDeposit)
		assertAppError(t, err, apperror.CodeAmountOverflow)

		res, err := e.CreditDeposit(wallet(math.MaxInt64-5, 0), 5, "dep", domain.EntryKindDeposit)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), res.Wallet.Balance)
	})

	t.Run("lock", func(t *testing.T) {
		_, err := e.LockTokens(wallet(10, math.MaxInt64-5), 10, "bid")
		assertAppError(t, err, apperror.CodeAmountOverflow)
	})

	t.Run("release", func(t *testing.T) {
		_, err := e.ReleaseLockedTokens(wallet(math.MaxInt64, 10), 10, "bid")
		assertAppError(t, err, apperror.CodeAmountOverflow)
	})

	t.Run("settle", func(t *testing.T) {
		winner := wallet(0, 10)
		seller := wallet(math.MaxInt64-1, 0)
		_, err := e.SettleBid(winner, seller, 10, "bid")
		assertAppError(t, err, apperror.CodeAmountOverflow)
	})
}

func TestCorruptSnapshotRejected(t *testing.T) {
	e := newTestEngine()

	_, err := e.LockTokens(wallet(-1, 0), 1, "bid")
	assertAppError(t, err, apperror.CodeInvariantViolation)

	_, err = e.SettleBid(wallet(0, 10), wallet(0, -3), 5, "bid")
	assertAppError(t, err, apperror.CodeInvariantViolation)
}

// ==================== Algebraic properties ====================

func TestLockRelease_RoundTrip(t *testing.T) {
	e := newTestEngine()
	w := wallet(100, 25)
	w.SafeBalance = 9

	for _, n := range []int64{1, 50, 100} {
		locked, err := e.LockTokens(w, n, "bid")
		require.NoError(t, err)
		released, err := e.ReleaseLockedTokens(locked.Wallet, n, "bid")
		require.NoError(t, err)
		assert.Equal(t, w, released.Wallet)
	}
}

func TestRejection_IsIdempotent(t *testing.T) {
	e := newTestEngine()
	w := wallet(10, 0)
	before := w

	_, err1 := e.LockTokens(w, 11, "bid")
	_, err2 := e.LockTokens(w, 11, "bid")

	assertAppError(t, err1, apperror.CodeInsufficientBalance)
	assertAppError(t, err2, apperror.CodeInsufficientBalance)
	assert.Equal(t, before, w)
}

func TestSafeBalance_NeverTouched(t *testing.T) {
	e := newTestEngine()
	w := wallet(100, 0)
	w.SafeBalance = 42
	seller := wallet(0, 0)
	seller.SafeBalance = 7

	locked, err := e.LockTokens(w, 40, "bid")
	require.NoError(t, err)
	released, err := e.ReleaseLockedTokens(locked.Wallet, 10, "bid")
	require.NoError(t, err)
	settled, err := e.SettleBid(released.Wallet, seller, 30, "bid")
	require.NoError(t, err)

	assert.Equal(t, int64(42), locked.Wallet.SafeBalance)
	assert.Equal(t, int64(42), released.Wallet.SafeBalance)
	assert.Equal(t, int64(42), settled.Winner.SafeBalance)
	assert.Equal(t, int64(7), settled.Seller.SafeBalance)
}
