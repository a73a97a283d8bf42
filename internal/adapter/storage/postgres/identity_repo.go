package postgres

import (
	"context"
	"errors"
	"fmt"

	"token-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// IdentityRepo implements ports.IdentityRepository.
type IdentityRepo struct {
	pool Pool
}

// NewIdentityRepo creates a new IdentityRepo.
func NewIdentityRepo(pool Pool) *IdentityRepo {
	return &IdentityRepo{pool: pool}
}

// Upsert records a verification outcome for a user. An outcome older than
// the stored one is ignored so out-of-order deliveries cannot undo a newer
// decision.
func (r *IdentityRepo) Upsert(ctx context.Context, v *domain.IdentityVerification) error {
	query := `INSERT INTO identity_verifications (user_id, age_verified, provider, external_ref, verified_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			age_verified = EXCLUDED.age_verified,
			provider = EXCLUDED.provider,
			external_ref = EXCLUDED.external_ref,
			verified_at = EXCLUDED.verified_at,
			updated_at = EXCLUDED.updated_at
		WHERE identity_verifications.updated_at <= EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query, v.UserID, v.AgeVerified, v.Provider, v.ExternalRef, v.VerifiedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert identity verification: %w", err)
	}
	return nil
}

// GetByUserID fetches a user's verification record, nil if none was received.
func (r *IdentityRepo) GetByUserID(ctx context.Context, userID string) (*domain.IdentityVerification, error) {
	query := `SELECT user_id, age_verified, provider, external_ref, verified_at, updated_at
		FROM identity_verifications WHERE user_id = $1`

	v := &domain.IdentityVerification{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&v.UserID, &v.AgeVerified, &v.Provider, &v.ExternalRef, &v.VerifiedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity verification: %w", err)
	}
	return v, nil
}
