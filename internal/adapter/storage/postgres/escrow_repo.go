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

// EscrowRepo implements ports.EscrowRepository.
type EscrowRepo struct {
	pool Pool
}

// NewEscrowRepo creates a new EscrowRepo.
func NewEscrowRepo(pool Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

// GetForUpdate locks the escrow row for referenceID. Returns nil when no bid
// has been placed under that reference.
func (r *EscrowRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, referenceID string) (*domain.BidEscrow, error) {
	query := `SELECT reference_id, wallet_id, locked_amount, status, created_at, updated_at
		FROM bid_escrows WHERE reference_id = $1 FOR UPDATE`

	e := &domain.BidEscrow{}
	err := tx.QueryRow(ctx, query, referenceID).Scan(
		&e.ReferenceID, &e.WalletID, &e.LockedAmount, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get escrow for update: %w", err)
	}
	return e, nil
}

// Create opens a new escrow. Two concurrent first locks on one reference
// collide on the primary key; the loser gets DuplicateReference.
func (r *EscrowRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.BidEscrow) error {
	query := `INSERT INTO bid_escrows (reference_id, wallet_id, locked_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query, e.ReferenceID, e.WalletID, e.LockedAmount, e.Status, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "bid_escrows_pkey") {
			return apperror.ErrDuplicateReference()
		}
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

// Update stores the outstanding amount and status of an escrow.
func (r *EscrowRepo) Update(ctx context.Context, tx pgx.Tx, e *domain.BidEscrow) error {
	query := `UPDATE bid_escrows SET locked_amount = $1, status = $2, updated_at = $3 WHERE reference_id = $4`

	tag, err := tx.Exec(ctx, query, e.LockedAmount, e.Status, e.UpdatedAt, e.ReferenceID)
	if err != nil {
		return fmt.Errorf("update escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow not found: %s", e.ReferenceID)
	}
	return nil
}

// ListOpenByWallet returns the wallet's escrows that still hold tokens.
func (r *EscrowRepo) ListOpenByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.BidEscrow, error) {
	query := `SELECT reference_id, wallet_id, locked_amount, status, created_at, updated_at
		FROM bid_escrows WHERE wallet_id = $1 AND status = 'open' ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("list open escrows: %w", err)
	}
	defer rows.Close()

	var escrows []domain.BidEscrow
	for rows.Next() {
		e := domain.BidEscrow{}
		if err := rows.Scan(&e.ReferenceID, &e.WalletID, &e.LockedAmount, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan escrow row: %w", err)
		}
		escrows = append(escrows, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrow rows: %w", err)
	}
	return escrows, nil
}
