package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("LEDGER_002", "Insufficient balance", http.StatusPaymentRequired),
			expected: "[LEDGER_002] Insufficient balance",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_IsNilUnwrap(t *testing.T) {
	appErr := New("LEDGER_001", "test", http.StatusBadRequest)
	assert.Nil(t, appErr.Unwrap())
}

func TestAppError_IsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("lock wallet: %w", ErrInsufficientBalance())

	assert.True(t, errors.Is(wrapped, ErrInsufficientBalance()))
	assert.False(t, errors.Is(wrapped, ErrInsufficientLockedTokens()))
	assert.False(t, errors.Is(wrapped, fmt.Errorf("plain")))
}

func TestLedgerErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidAmount", ErrInvalidAmount(), CodeInvalidAmount, 400},
		{"InsufficientBalance", ErrInsufficientBalance(), CodeInsufficientBalance, 402},
		{"InsufficientLockedTokens", ErrInsufficientLockedTokens(), CodeInsufficientLockedTokens, 409},
		{"AmountOverflow", ErrAmountOverflow(), CodeAmountOverflow, 422},
		{"DuplicateReference", ErrDuplicateReference(), CodeDuplicateReference, 409},
		{"InvariantViolation", ErrInvariantViolation("balance"), CodeInvariantViolation, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestWalletAndAuthErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"NotFound", ErrNotFound("Wallet"), "WLT_001", 404},
		{"ConcurrentModification", ErrConcurrentModification(), "WLT_002", 409},
		{"AgeVerificationRequired", ErrAgeVerificationRequired(), "WLT_003", 403},
		{"InvalidSignature", ErrInvalidSignature(), "SEC_001", 401},
		{"TimestampExpired", ErrTimestampExpired(), "SEC_002", 403},
		{"InvalidToken", ErrInvalidToken(), "AUTH_001", 401},
		{"Forbidden", ErrForbidden(), "AUTH_002", 403},
		{"RateLimit", ErrRateLimitExceeded(), "RATE_001", 429},
		{"Validation", Validation("bad"), "REQ_001", 400},
		{"PayloadTooLarge", ErrPayloadTooLarge(1024), "REQ_002", 413},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestSystemErrors(t *testing.T) {
	inner := fmt.Errorf("pg: connection closed")
	dbErr := ErrDatabaseError(inner)
	assert.Equal(t, "SYS_001", dbErr.Code)
	assert.Equal(t, 500, dbErr.HTTPStatus)
	assert.True(t, errors.Is(dbErr, inner))

	exportErr := ErrExportUnavailable(inner)
	assert.Equal(t, "SYS_002", exportErr.Code)
	assert.Equal(t, 503, exportErr.HTTPStatus)
}

func TestNotFoundEntity(t *testing.T) {
	err := ErrNotFound("Escrow")
	assert.Contains(t, err.Message, "Escrow")
	assert.Equal(t, CodeNotFound, err.Code)
}
