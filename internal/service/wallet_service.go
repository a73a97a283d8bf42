package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ledger"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const creditCacheTTL = 24 * time.Hour

// WalletServiceImpl implements ports.WalletService. It is the only writer of
// wallet rows: every mutation locks the rows it touches, runs the engine on
// the locked snapshot and persists wallet, entries, escrow and outbox rows in
// one transaction.
type WalletServiceImpl struct {
	walletRepo   ports.WalletRepository
	ledgerRepo   ports.LedgerRepository
	escrowRepo   ports.EscrowRepository
	outboxRepo   ports.OutboxRepository
	identityRepo ports.IdentityRepository
	idempCache   ports.IdempotencyCache
	publisher    ports.EventPublisher
	transactor   ports.DBTransactor
	engine       *ledger.Engine
	outboxTopic  string
	log          zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl. publisher may be nil, and
// an empty outboxTopic disables outbox rows.
func NewWalletService(
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	escrowRepo ports.EscrowRepository,
	outboxRepo ports.OutboxRepository,
	identityRepo ports.IdentityRepository,
	idempCache ports.IdempotencyCache,
	publisher ports.EventPublisher,
	transactor ports.DBTransactor,
	engine *ledger.Engine,
	outboxTopic string,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo:   walletRepo,
		ledgerRepo:   ledgerRepo,
		escrowRepo:   escrowRepo,
		outboxRepo:   outboxRepo,
		identityRepo: identityRepo,
		idempCache:   idempCache,
		publisher:    publisher,
		transactor:   transactor,
		engine:       engine,
		outboxTopic:  outboxTopic,
		log:          log,
	}
}

// OpenWallet returns the user's wallet, creating an empty one on first call.
func (s *WalletServiceImpl) OpenWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	if userID == "" {
		return nil, apperror.Validation("user_id is required")
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, domain.NewWallet(userID, time.Now().UTC()))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("open wallet: %w", err))
	}
	return wallet, nil
}

// GetWallet returns the wallet with its open escrows and age-gate status.
func (s *WalletServiceImpl) GetWallet(ctx context.Context, userID string) (*ports.WalletView, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	escrows, err := s.escrowRepo.ListOpenByWallet(ctx, wallet.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list open escrows: %w", err))
	}

	identity, err := s.identityRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get identity: %w", err))
	}

	return &ports.WalletView{
		Wallet:      wallet,
		OpenEscrows: escrows,
		AgeVerified: identity != nil && identity.AgeVerified,
	}, nil
}

// Credit applies a deposit or purchase. A reference already credited fails
// with DuplicateReference at whichever layer sees it first: the Redis cache,
// the ledger lookup or the unique index.
func (s *WalletServiceImpl) Credit(ctx context.Context, req ports.CreditRequest) (*ports.MutationResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.ReferenceID == "" {
		return nil, apperror.Validation("reference_id is required")
	}
	if !req.Kind.IsCredit() {
		return nil, apperror.Validation("credit kind must be deposit or purchase")
	}

	key := domain.BuildCreditKey(req.ReferenceID)

	// Layer 1: Redis
	cached, err := s.idempCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return nil, apperror.ErrDuplicateReference()
	}

	// Layer 2: ledger
	exists, err := s.ledgerRepo.CreditExists(ctx, req.ReferenceID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check credit reference: %w", err))
	}
	if exists {
		return nil, apperror.ErrDuplicateReference()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.lockWallet(ctx, dbTx, req.UserID)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.CreditDeposit(*wallet, req.Amount, req.ReferenceID, req.Kind)
	if err != nil {
		return nil, err
	}

	// Layer 3: the unique index on credit references, hit by Append.
	if err := s.persist(ctx, dbTx, &res.Wallet, &res.Entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if entryJSON, err := json.Marshal(res.Entry); err == nil {
		if err := s.idempCache.Set(ctx, key, entryJSON, creditCacheTTL); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to cache credit reference in redis")
		}
	}
	s.publish(ctx, &res.Wallet, res.Entry)

	s.log.Info().
		Str("user_id", req.UserID).
		Str("kind", string(req.Kind)).
		Str("reference_id", req.ReferenceID).
		Int64("amount", req.Amount).
		Int64("balance", res.Wallet.Balance).
		Msg("wallet credited")

	return &ports.MutationResult{Wallet: &res.Wallet, Entry: res.Entry}, nil
}

// Lock escrows tokens for a bid. A new reference opens an escrow; an open
// escrow of the same wallet is raised.
func (s *WalletServiceImpl) Lock(ctx context.Context, req ports.EscrowRequest) (*ports.MutationResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.ReferenceID == "" {
		return nil, apperror.Validation("reference_id is required")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.lockWallet(ctx, dbTx, req.UserID)
	if err != nil {
		return nil, err
	}

	escrow, err := s.escrowRepo.GetForUpdate(ctx, dbTx, req.ReferenceID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock escrow: %w", err))
	}
	if escrow != nil && (!escrow.IsOpen() || escrow.WalletID != wallet.ID) {
		return nil, apperror.ErrDuplicateReference()
	}

	res, err := s.engine.LockTokens(*wallet, req.Amount, req.ReferenceID)
	if err != nil {
		return nil, err
	}

	if escrow == nil {
		escrow = &domain.BidEscrow{
			ReferenceID:  req.ReferenceID,
			WalletID:     wallet.ID,
			LockedAmount: req.Amount,
			Status:       domain.EscrowStatusOpen,
			CreatedAt:    res.Entry.Timestamp,
			UpdatedAt:    res.Entry.Timestamp,
		}
		if err := s.escrowRepo.Create(ctx, dbTx, escrow); err != nil {
			return nil, storageError("create escrow", err)
		}
	} else {
		// Open escrows never exceed the wallet's locked pool, which the
		// engine has already checked for overflow.
		escrow.LockedAmount += req.Amount
		escrow.UpdatedAt = res.Entry.Timestamp
		if err := s.escrowRepo.Update(ctx, dbTx, escrow); err != nil {
			return nil, storageError("update escrow", err)
		}
	}

	if err := s.persist(ctx, dbTx, &res.Wallet, &res.Entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.publish(ctx, &res.Wallet, res.Entry)

	s.log.Info().
		Str("user_id", req.UserID).
		Str("reference_id", req.ReferenceID).
		Int64("amount", req.Amount).
		Int64("escrowed", escrow.LockedAmount).
		Msg("tokens locked")

	return &ports.MutationResult{Wallet: &res.Wallet, Entry: res.Entry}, nil
}

// Release returns escrowed tokens to the spendable balance.
func (s *WalletServiceImpl) Release(ctx context.Context, req ports.EscrowRequest) (*ports.MutationResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.ReferenceID == "" {
		return nil, apperror.Validation("reference_id is required")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.lockWallet(ctx, dbTx, req.UserID)
	if err != nil {
		return nil, err
	}

	escrow, err := s.drawEscrow(ctx, dbTx, wallet, req.ReferenceID, req.Amount)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.ReleaseLockedTokens(*wallet, req.Amount, req.ReferenceID)
	if err != nil {
		return nil, err
	}

	if err := s.closeDraw(ctx, dbTx, escrow, req.Amount, domain.EscrowStatusReleased, res.Entry.Timestamp); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, dbTx, &res.Wallet, &res.Entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.publish(ctx, &res.Wallet, res.Entry)

	s.log.Info().
		Str("user_id", req.UserID).
		Str("reference_id", req.ReferenceID).
		Int64("amount", req.Amount).
		Str("escrow_status", string(escrow.Status)).
		Msg("tokens released")

	return &ports.MutationResult{Wallet: &res.Wallet, Entry: res.Entry}, nil
}

// Settle moves escrowed tokens from the winner to the seller. Both wallet
// rows are locked in user id order so two opposite settlements cannot
// deadlock; both updates and both entries commit together or not at all.
func (s *WalletServiceImpl) Settle(ctx context.Context, req ports.SettleRequest) (*ports.SettleOutcome, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.ReferenceID == "" {
		return nil, apperror.Validation("reference_id is required")
	}
	if req.WinnerUserID == req.SellerUserID {
		return nil, apperror.Validation("winner and seller must be different wallets")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	first, second := req.WinnerUserID, req.SellerUserID
	if second < first {
		first, second = second, first
	}
	locked := make(map[string]*domain.Wallet, 2)
	for _, userID := range []string{first, second} {
		w, err := s.lockWallet(ctx, dbTx, userID)
		if err != nil {
			return nil, err
		}
		locked[userID] = w
	}
	winner, seller := locked[req.WinnerUserID], locked[req.SellerUserID]

	escrow, err := s.drawEscrow(ctx, dbTx, winner, req.ReferenceID, req.Amount)
	if err != nil {
		return nil, err
	}
	// Settlement is terminal for the reference, so it takes the whole escrow.
	if req.Amount != escrow.LockedAmount {
		return nil, apperror.Validation(fmt.Sprintf("settlement must draw the full escrow of %d", escrow.LockedAmount))
	}

	res, err := s.engine.SettleBid(*winner, *seller, req.Amount, req.ReferenceID)
	if err != nil {
		return nil, err
	}

	if err := s.closeDraw(ctx, dbTx, escrow, req.Amount, domain.EscrowStatusSettled, res.Debit.Timestamp); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, dbTx, &res.Winner, &res.Debit); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, dbTx, &res.Seller, &res.Credit); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.publish(ctx, &res.Winner, res.Debit)
	s.publish(ctx, &res.Seller, res.Credit)

	s.log.Info().
		Str("winner_id", req.WinnerUserID).
		Str("seller_id", req.SellerUserID).
		Str("reference_id", req.ReferenceID).
		Int64("amount", req.Amount).
		Msg("bid settled")

	return &ports.SettleOutcome{
		Winner: &res.Winner,
		Seller: &res.Seller,
		Debit:  res.Debit,
		Credit: res.Credit,
	}, nil
}

// Withdraw debits the spendable balance for a cash-out.
func (s *WalletServiceImpl) Withdraw(ctx context.Context, req ports.WithdrawRequest) (*ports.MutationResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.ReferenceID == "" {
		return nil, apperror.Validation("reference_id is required")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.lockWallet(ctx, dbTx, req.UserID)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Withdraw(*wallet, req.Amount, req.ReferenceID)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, dbTx, &res.Wallet, &res.Entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.publish(ctx, &res.Wallet, res.Entry)

	s.log.Info().
		Str("user_id", req.UserID).
		Str("reference_id", req.ReferenceID).
		Int64("amount", req.Amount).
		Msg("tokens withdrawn")

	return &ports.MutationResult{Wallet: &res.Wallet, Entry: res.Entry}, nil
}

func (s *WalletServiceImpl) lockWallet(ctx context.Context, tx pgx.Tx, userID string) (*domain.Wallet, error) {
	if userID == "" {
		return nil, apperror.Validation("user_id is required")
	}
	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

// drawEscrow locks the escrow that release or settle will draw amount from.
// A missing or foreign escrow counts as nothing locked for this wallet.
func (s *WalletServiceImpl) drawEscrow(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet, referenceID string, amount int64) (*domain.BidEscrow, error) {
	escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, referenceID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock escrow: %w", err))
	}
	if escrow == nil || escrow.WalletID != wallet.ID {
		return nil, apperror.ErrInsufficientLockedTokens()
	}
	if !escrow.IsOpen() {
		return nil, apperror.ErrDuplicateReference()
	}
	if escrow.LockedAmount < amount {
		return nil, apperror.ErrInsufficientLockedTokens()
	}
	return escrow, nil
}

// closeDraw takes amount off the escrow and closes it with terminal once
// nothing is left outstanding.
func (s *WalletServiceImpl) closeDraw(ctx context.Context, tx pgx.Tx, escrow *domain.BidEscrow, amount int64, terminal domain.EscrowStatus, at time.Time) error {
	escrow.LockedAmount -= amount
	if escrow.LockedAmount == 0 {
		escrow.Status = terminal
	}
	escrow.UpdatedAt = at
	if err := s.escrowRepo.Update(ctx, tx, escrow); err != nil {
		return storageError("update escrow", err)
	}
	return nil
}

// persist writes the new wallet snapshot, its entry and, when enabled, the
// outbox row describing it.
func (s *WalletServiceImpl) persist(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet, entry *domain.LedgerEntry) error {
	if err := s.walletRepo.Update(ctx, tx, wallet); err != nil {
		return storageError("update wallet", err)
	}
	if err := s.ledgerRepo.Append(ctx, tx, entry); err != nil {
		return storageError("append entry", err)
	}

	if s.outboxTopic == "" {
		return nil
	}
	payload, err := json.Marshal(domain.NewBalanceEvent(wallet, *entry))
	if err != nil {
		return apperror.InternalError(fmt.Errorf("marshal outbox payload: %w", err))
	}
	msg := &domain.OutboxMessage{
		MessageKey: wallet.ID.String(),
		Topic:      s.outboxTopic,
		Payload:    payload,
		CreatedAt:  entry.Timestamp,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return storageError("create outbox message", err)
	}
	return nil
}

func (s *WalletServiceImpl) publish(ctx context.Context, wallet *domain.Wallet, entry domain.LedgerEntry) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, domain.NewBalanceEvent(wallet, entry)); err != nil {
		s.log.Warn().Err(err).Str("wallet_id", wallet.ID.String()).Msg("failed to publish balance event")
	}
}

// storageError keeps typed repository failures (duplicate reference,
// concurrent modification) and wraps everything else as internal.
func storageError(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.InternalError(fmt.Errorf("%s: %w", op, err))
}
