package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AppError carrying the same code, so
// errors.Is(err, apperror.ErrInsufficientBalance()) works on any wrapped copy.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Error codes.
const (
	CodeInvalidAmount            = "LEDGER_001"
	CodeInsufficientBalance      = "LEDGER_002"
	CodeInsufficientLockedTokens = "LEDGER_003"
	CodeAmountOverflow           = "LEDGER_004"
	CodeDuplicateReference       = "LEDGER_005"
	CodeInvariantViolation       = "LEDGER_006"

	CodeNotFound               = "WLT_001"
	CodeConcurrentModification = "WLT_002"
	CodeAgeVerificationNeeded  = "WLT_003"

	CodeInvalidSignature = "SEC_001"
	CodeTimestampExpired = "SEC_002"

	CodeInvalidToken = "AUTH_001"
	CodeForbidden    = "AUTH_002"

	CodeRateLimitExceeded = "RATE_001"

	CodeValidation      = "REQ_001"
	CodePayloadTooLarge = "REQ_002"

	CodeInternal    = "SYS_001"
	CodeUnavailable = "SYS_002"
)

// ---- Ledger engine (LEDGER) ----

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
}

func ErrInsufficientBalance() *AppError {
	return New(CodeInsufficientBalance, "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInsufficientLockedTokens() *AppError {
	return New(CodeInsufficientLockedTokens, "Insufficient locked tokens", http.StatusConflict)
}

func ErrAmountOverflow() *AppError {
	return New(CodeAmountOverflow, "Amount exceeds representable range", http.StatusUnprocessableEntity)
}

func ErrDuplicateReference() *AppError {
	return New(CodeDuplicateReference, "Reference has already been processed", http.StatusConflict)
}

func ErrInvariantViolation(detail string) *AppError {
	return New(CodeInvariantViolation, "Ledger invariant violated: "+detail, http.StatusInternalServerError)
}

// ---- Wallet service (WLT) ----

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrConcurrentModification() *AppError {
	return New(CodeConcurrentModification, "Wallet was modified concurrently", http.StatusConflict)
}

func ErrAgeVerificationRequired() *AppError {
	return New(CodeAgeVerificationNeeded, "Age verification required", http.StatusForbidden)
}

// ---- Webhook security (SEC) ----

func ErrInvalidSignature() *AppError {
	return New(CodeInvalidSignature, "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New(CodeTimestampExpired, "Request timestamp expired", http.StatusForbidden)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Insufficient role for this operation", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap(CodeInternal, "Internal database error", http.StatusInternalServerError, err)
}

func ErrExportUnavailable(err error) *AppError {
	return Wrap(CodeUnavailable, "Export storage unavailable", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// ErrPayloadTooLarge reports a request body above limit bytes.
func ErrPayloadTooLarge(limit int64) *AppError {
	return New(CodePayloadTooLarge, fmt.Sprintf("Request body exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
}

// Validation returns a request validation error with a custom message.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}
