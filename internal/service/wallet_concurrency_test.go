package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ledger"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore keeps committed rows in memory and hands out row locks the way
// SELECT ... FOR UPDATE does: a lock is held until its transaction ends.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]*sync.Mutex
	wallets map[string]domain.Wallet
	escrows map[string]domain.BidEscrow
	entries []domain.LedgerEntry
	seq     int64
}

func newMemStore() *memStore {
	return &memStore{
		rows:    make(map[string]*sync.Mutex),
		wallets: make(map[string]domain.Wallet),
		escrows: make(map[string]domain.BidEscrow),
	}
}

func (s *memStore) rowLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[key]
	if !ok {
		m = &sync.Mutex{}
		s.rows[key] = m
	}
	return m
}

func (s *memStore) Begin(context.Context) (pgx.Tx, error) {
	return &memTx{store: s, held: make(map[string]*sync.Mutex)}, nil
}

type memTx struct {
	pgx.Tx
	store  *memStore
	held   map[string]*sync.Mutex
	staged []func()
	done   bool
}

func (tx *memTx) lock(key string) {
	if _, ok := tx.held[key]; ok {
		return
	}
	m := tx.store.rowLock(key)
	m.Lock()
	tx.held[key] = m
}

func (tx *memTx) stage(fn func()) { tx.staged = append(tx.staged, fn) }

func (tx *memTx) Commit(context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.store.mu.Lock()
	for _, fn := range tx.staged {
		fn()
	}
	tx.store.mu.Unlock()
	tx.end()
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	if tx.done {
		return nil
	}
	tx.end()
	return nil
}

func (tx *memTx) end() {
	tx.done = true
	for _, m := range tx.held {
		m.Unlock()
	}
}

type memWalletRepo struct{ s *memStore }

func (r memWalletRepo) GetOrCreate(_ context.Context, w *domain.Wallet) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.wallets[w.UserID]; ok {
		return &existing, nil
	}
	r.s.wallets[w.UserID] = *w
	created := *w
	return &created, nil
}

func (r memWalletRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.wallets {
		if w.ID == id {
			return &w, nil
		}
	}
	return nil, nil
}

func (r memWalletRepo) GetByUserID(_ context.Context, userID string) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[userID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r memWalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*domain.Wallet, error) {
	tx.(*memTx).lock("wallet:" + userID)
	return r.GetByUserID(ctx, userID)
}

func (r memWalletRepo) Update(_ context.Context, tx pgx.Tx, w *domain.Wallet) error {
	w.Version++
	snapshot := *w
	tx.(*memTx).stage(func() { r.s.wallets[snapshot.UserID] = snapshot })
	return nil
}

type memLedgerRepo struct{ s *memStore }

func (r memLedgerRepo) Append(_ context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	mtx := tx.(*memTx)
	// Unique indexes make the second inserter wait for the first.
	switch {
	case entry.Kind.IsCredit():
		mtx.lock("credit:" + entry.ReferenceID)
		exists, _ := r.CreditExists(context.Background(), entry.ReferenceID)
		if exists {
			return apperror.ErrDuplicateReference()
		}
	case entry.Kind == domain.EntryKindSettleDebit, entry.Kind == domain.EntryKindSettleCredit:
		mtx.lock("settle:" + string(entry.Kind) + ":" + entry.ReferenceID)
		if r.exists(entry.Kind, entry.ReferenceID) {
			return apperror.ErrDuplicateReference()
		}
	}
	staged := *entry
	mtx.stage(func() {
		r.s.seq++
		staged.Seq = r.s.seq
		r.s.entries = append(r.s.entries, staged)
	})
	return nil
}

func (r memLedgerRepo) CreditExists(_ context.Context, referenceID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entries {
		if e.Kind.IsCredit() && e.ReferenceID == referenceID {
			return true, nil
		}
	}
	return false, nil
}

func (r memLedgerRepo) exists(kind domain.EntryKind, referenceID string) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entries {
		if e.Kind == kind && e.ReferenceID == referenceID {
			return true
		}
	}
	return false
}

func (r memLedgerRepo) ListByWallet(_ context.Context, walletID uuid.UUID) ([]domain.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range r.s.entries {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memLedgerRepo) ListAfter(context.Context, int64, *time.Time, *time.Time, int) ([]domain.LedgerEntry, error) {
	return nil, nil
}

func (r memLedgerRepo) List(context.Context, ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	return nil, 0, nil
}

func (r memLedgerRepo) GetStats(context.Context, *uuid.UUID, *time.Time) (*ports.LedgerStats, error) {
	return &ports.LedgerStats{}, nil
}

type memEscrowRepo struct{ s *memStore }

func (r memEscrowRepo) GetForUpdate(_ context.Context, tx pgx.Tx, referenceID string) (*domain.BidEscrow, error) {
	tx.(*memTx).lock("escrow:" + referenceID)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.escrows[referenceID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r memEscrowRepo) Create(_ context.Context, tx pgx.Tx, e *domain.BidEscrow) error {
	snapshot := *e
	tx.(*memTx).stage(func() { r.s.escrows[snapshot.ReferenceID] = snapshot })
	return nil
}

func (r memEscrowRepo) Update(ctx context.Context, tx pgx.Tx, e *domain.BidEscrow) error {
	return r.Create(ctx, tx, e)
}

func (r memEscrowRepo) ListOpenByWallet(_ context.Context, walletID uuid.UUID) ([]domain.BidEscrow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.BidEscrow
	for _, e := range r.s.escrows {
		if e.WalletID == walletID && e.IsOpen() {
			out = append(out, e)
		}
	}
	return out, nil
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, error) {
	return nil, nil
}

func (nopCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func newMemWalletService(t *testing.T) (*WalletServiceImpl, *memStore) {
	t.Helper()
	store := newMemStore()
	svc := NewWalletService(
		memWalletRepo{store}, memLedgerRepo{store}, memEscrowRepo{store},
		nil, nil, nopCache{}, nil, store, ledger.NewEngine(), "", zerolog.Nop(),
	)
	return svc, store
}

func fund(t *testing.T, svc *WalletServiceImpl, userID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.OpenWallet(ctx, userID)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, ports.CreditRequest{
		UserID: userID, Amount: amount, ReferenceID: "fund-" + userID, Kind: domain.EntryKindDeposit,
	})
	require.NoError(t, err)
}

// assertReplayMatches checks the committed wallet against a replay of its
// committed entries and its open escrows.
func assertReplayMatches(t *testing.T, store *memStore, userID string) domain.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := memWalletRepo{store}.GetByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, w)

	entries, err := memLedgerRepo{store}.ListByWallet(ctx, w.ID)
	require.NoError(t, err)
	snap, err := ledger.Replay(w.ID, entries)
	require.NoError(t, err)
	assert.True(t, snap.Matches(*w), "replay %+v vs wallet %+v", snap, *w)
	require.NoError(t, ledger.CheckEscrowTrail(entries))

	escrows, err := memEscrowRepo{store}.ListOpenByWallet(ctx, w.ID)
	require.NoError(t, err)
	var open int64
	for _, e := range escrows {
		open += e.LockedAmount
	}
	assert.Equal(t, w.LockedTokens, open)
	return *w
}

func waitAll(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("workers did not finish, likely deadlocked")
	}
}

func TestWalletService_Concurrent_LocksNeverOverdraw(t *testing.T) {
	svc, store := newMemWalletService(t)
	fund(t, svc, "bidder", 1000)

	const workers = 50
	var ok, insufficient atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Lock(context.Background(), ports.EscrowRequest{
				UserID: "bidder", Amount: 30, ReferenceID: fmt.Sprintf("bid-%d", i),
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperror.ErrInsufficientBalance()):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	waitAll(t, &wg)

	assert.Equal(t, int64(33), ok.Load())
	assert.Equal(t, int64(workers-33), insufficient.Load())

	w := assertReplayMatches(t, store, "bidder")
	assert.Equal(t, int64(10), w.Balance)
	assert.Equal(t, int64(990), w.LockedTokens)
}

func TestWalletService_Concurrent_OppositeSettlesDoNotDeadlock(t *testing.T) {
	svc, store := newMemWalletService(t)
	ctx := context.Background()
	fund(t, svc, "amy", 1000)
	fund(t, svc, "zed", 1000)

	const bids = 20
	for i := 0; i < bids; i++ {
		_, err := svc.Lock(ctx, ports.EscrowRequest{UserID: "amy", Amount: 10, ReferenceID: fmt.Sprintf("amy-bid-%d", i)})
		require.NoError(t, err)
		_, err = svc.Lock(ctx, ports.EscrowRequest{UserID: "zed", Amount: 10, ReferenceID: fmt.Sprintf("zed-bid-%d", i)})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < bids; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Settle(ctx, ports.SettleRequest{
				WinnerUserID: "amy", SellerUserID: "zed", Amount: 10, ReferenceID: fmt.Sprintf("amy-bid-%d", i),
			})
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Settle(ctx, ports.SettleRequest{
				WinnerUserID: "zed", SellerUserID: "amy", Amount: 10, ReferenceID: fmt.Sprintf("zed-bid-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	waitAll(t, &wg)

	for _, user := range []string{"amy", "zed"} {
		w := assertReplayMatches(t, store, user)
		assert.Equal(t, int64(1000), w.Balance, user)
		assert.Equal(t, int64(0), w.LockedTokens, user)
	}
}

func TestWalletService_Concurrent_ReleaseAndSettleRace(t *testing.T) {
	svc, store := newMemWalletService(t)
	ctx := context.Background()
	fund(t, svc, "amy", 500)
	fund(t, svc, "zed", 1)

	for round := 0; round < 10; round++ {
		ref := fmt.Sprintf("race-%d", round)
		_, err := svc.Lock(ctx, ports.EscrowRequest{UserID: "amy", Amount: 20, ReferenceID: ref})
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = svc.Release(ctx, ports.EscrowRequest{UserID: "amy", Amount: 20, ReferenceID: ref})
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = svc.Settle(ctx, ports.SettleRequest{WinnerUserID: "amy", SellerUserID: "zed", Amount: 20, ReferenceID: ref})
		}()
		waitAll(t, &wg)

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, apperror.ErrDuplicateReference())
		}
		assert.Equal(t, 1, succeeded, "exactly one of release and settle wins %s", ref)
	}

	amy := assertReplayMatches(t, store, "amy")
	zed := assertReplayMatches(t, store, "zed")
	assert.Equal(t, int64(0), amy.LockedTokens)
	assert.Equal(t, int64(501), amy.Balance+zed.Balance, "tokens are conserved")
}

func TestWalletService_Concurrent_CreditAppliesOnce(t *testing.T) {
	svc, store := newMemWalletService(t)
	_, err := svc.OpenWallet(context.Background(), "buyer")
	require.NoError(t, err)

	const workers = 20
	var ok, dup atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(context.Background(), ports.CreditRequest{
				UserID: "buyer", Amount: 250, ReferenceID: "pi_same", Kind: domain.EntryKindPurchase,
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperror.ErrDuplicateReference()):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	waitAll(t, &wg)

	assert.Equal(t, int64(1), ok.Load())
	assert.Equal(t, int64(workers-1), dup.Load())

	w := assertReplayMatches(t, store, "buyer")
	assert.Equal(t, int64(250), w.Balance)
}

func TestMemLedgerRepo_SettleReferenceIsUnique(t *testing.T) {
	store := newMemStore()
	repo := memLedgerRepo{store}
	ctx := context.Background()

	appendSettle := func(kind domain.EntryKind) error {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx) //nolint:errcheck
		if err := repo.Append(ctx, tx, &domain.LedgerEntry{ID: uuid.New(), Kind: kind, ReferenceID: "auction-1"}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	require.NoError(t, appendSettle(domain.EntryKindSettleDebit))
	require.NoError(t, appendSettle(domain.EntryKindSettleCredit), "the pair shares its reference")
	assert.ErrorIs(t, appendSettle(domain.EntryKindSettleDebit), apperror.ErrDuplicateReference())
	assert.ErrorIs(t, appendSettle(domain.EntryKindSettleCredit), apperror.ErrDuplicateReference())
}

func TestWalletService_SettleClosesReference(t *testing.T) {
	svc, store := newMemWalletService(t)
	ctx := context.Background()
	fund(t, svc, "amy", 100)
	fund(t, svc, "zed", 1)

	_, err := svc.Lock(ctx, ports.EscrowRequest{UserID: "amy", Amount: 30, ReferenceID: "bid-1"})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, ports.SettleRequest{WinnerUserID: "amy", SellerUserID: "zed", Amount: 10, ReferenceID: "bid-1"})
	assert.ErrorIs(t, err, apperror.Validation(""), "a partial settlement would leave the reference open")

	_, err = svc.Settle(ctx, ports.SettleRequest{WinnerUserID: "amy", SellerUserID: "zed", Amount: 30, ReferenceID: "bid-1"})
	require.NoError(t, err)

	_, err = svc.Release(ctx, ports.EscrowRequest{UserID: "amy", Amount: 20, ReferenceID: "bid-1"})
	assert.ErrorIs(t, err, apperror.ErrDuplicateReference())
	_, err = svc.Settle(ctx, ports.SettleRequest{WinnerUserID: "amy", SellerUserID: "zed", Amount: 30, ReferenceID: "bid-1"})
	assert.ErrorIs(t, err, apperror.ErrDuplicateReference())

	amy := assertReplayMatches(t, store, "amy")
	zed := assertReplayMatches(t, store, "zed")
	assert.Equal(t, int64(70), amy.Balance)
	assert.Equal(t, int64(0), amy.LockedTokens)
	assert.Equal(t, int64(31), zed.Balance)

	var kinds []domain.EntryKind
	for _, e := range store.entries {
		if e.ReferenceID == "bid-1" {
			kinds = append(kinds, e.Kind)
		}
	}
	assert.Equal(t, []domain.EntryKind{domain.EntryKindLock, domain.EntryKindSettleDebit, domain.EntryKindSettleCredit}, kinds)
}

func TestWalletService_PartialReleaseThenSettleRest(t *testing.T) {
	svc, store := newMemWalletService(t)
	ctx := context.Background()
	fund(t, svc, "amy", 100)
	fund(t, svc, "zed", 1)

	_, err := svc.Lock(ctx, ports.EscrowRequest{UserID: "amy", Amount: 30, ReferenceID: "bid-2"})
	require.NoError(t, err)
	_, err = svc.Release(ctx, ports.EscrowRequest{UserID: "amy", Amount: 10, ReferenceID: "bid-2"})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, ports.SettleRequest{WinnerUserID: "amy", SellerUserID: "zed", Amount: 30, ReferenceID: "bid-2"})
	assert.ErrorIs(t, err, apperror.ErrInsufficientLockedTokens())
	_, err = svc.Settle(ctx, ports.SettleRequest{WinnerUserID: "amy", SellerUserID: "zed", Amount: 20, ReferenceID: "bid-2"})
	require.NoError(t, err)

	amy := assertReplayMatches(t, store, "amy")
	assert.Equal(t, int64(80), amy.Balance)
	assert.Equal(t, int64(0), amy.LockedTokens)
}
