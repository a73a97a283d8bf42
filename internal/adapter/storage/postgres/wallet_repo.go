package postgres

import (
	"context"
	"errors"
	"fmt"

	"token-ledger/internal/core/domain"
	"token-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumnList = `id, user_id, balance, locked_tokens, safe_balance, version, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// GetOrCreate inserts w unless the user already owns a wallet, and returns the
// stored row. The no-op DO UPDATE makes RETURNING yield the existing row.
func (r *WalletRepo) GetOrCreate(ctx context.Context, w *domain.Wallet) (*domain.Wallet, error) {
	query := `INSERT INTO wallets (id, user_id, balance, locked_tokens, safe_balance, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 0, 0, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + walletColumnList

	stored, err := scanWallet(r.pool.QueryRow(ctx, query, w.ID, w.UserID, w.CreatedAt, w.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert wallet: %w", err)
	}
	return stored, nil
}

// GetByID fetches a wallet by its UUID (without locking).
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumnList + ` FROM wallets WHERE id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// GetByUserID fetches a user's wallet (non-locking read).
func (r *WalletRepo) GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumnList + ` FROM wallets WHERE user_id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by user id: %w", err)
	}
	return w, nil
}

// GetByUserIDForUpdate fetches a user's wallet with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumnList + ` FROM wallets WHERE user_id = $1 FOR UPDATE`

	w, err := scanWallet(tx.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet for update by user: %w", err)
	}
	return w, nil
}

// Update writes balance, locked and safe balance if the row still carries
// w.Version. On success w.Version and w.UpdatedAt reflect the stored row.
func (r *WalletRepo) Update(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	query := `UPDATE wallets
		SET balance = $1, locked_tokens = $2, safe_balance = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5
		RETURNING version, updated_at`

	err := tx.QueryRow(ctx, query, w.Balance, w.LockedTokens, w.SafeBalance, w.ID, w.Version).
		Scan(&w.Version, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.ErrConcurrentModification()
		}
		return fmt.Errorf("update wallet: %w", err)
	}
	return nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.ID, &w.UserID, &w.Balance, &w.LockedTokens, &w.SafeBalance,
		&w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}
