package postgres

import (
	"context"
	"testing"
	"time"

	"token-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityRepo_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdentityRepo(mock)
	now := time.Now().UTC().Truncate(time.Microsecond)
	v := &domain.IdentityVerification{
		UserID:      "user-1",
		AgeVerified: true,
		Provider:    "veriff",
		ExternalRef: "sess_1",
		VerifiedAt:  &now,
		UpdatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO identity_verifications .+ ON CONFLICT \\(user_id\\) DO UPDATE").
		WithArgs("user-1", true, "veriff", "sess_1", &now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Upsert(context.Background(), v))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepo_GetByUserID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdentityRepo(mock)
	now := time.Now().UTC().Truncate(time.Microsecond)
	cols := []string{"user_id", "age_verified", "provider", "external_ref", "verified_at", "updated_at"}

	mock.ExpectQuery("SELECT .+ FROM identity_verifications WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("user-1", true, "veriff", "sess_1", &now, now))
	mock.ExpectQuery("SELECT .+ FROM identity_verifications WHERE user_id").
		WithArgs("user-2").
		WillReturnError(pgx.ErrNoRows)

	v, err := repo.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, v.AgeVerified)
	require.NotNil(t, v.VerifiedAt)
	assert.Equal(t, now, *v.VerifiedAt)

	missing, err := repo.GetByUserID(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}
