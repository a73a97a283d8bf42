package ports

import (
	"context"
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ledger"
)

// SignatureService verifies provider webhook signatures of the form
// "t=<unix>,v1=<hex hmac-sha256 of t.body>".
type SignatureService interface {
	Sign(secret string, timestamp int64, payload []byte) string
	Verify(secret string, header string, payload []byte) error
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID string, role domain.Role) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID string
	Role   domain.Role
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached entry JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ReplayGuard remembers event ids for ttl so a redelivered callback is
// recognised before it reaches the database.
type ReplayGuard interface {
	// FirstSeen records id under scope and reports whether it was new.
	FirstSeen(ctx context.Context, scope, id string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, scope, id string) error
}

// EventPublisher fans committed balance changes out to live subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.BalanceEvent) error
}

// EventSubscriber streams balance changes for one user until ctx is done.
type EventSubscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan domain.BalanceEvent, error)
}

// ExportStore persists rendered exports and returns their location.
type ExportStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// MessageProducer delivers a keyed message to the message bus.
type MessageProducer interface {
	Send(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

// --- Service Ports (Business Logic) ---

// WalletService applies ledger operations to stored wallets with per-wallet
// serializability.
type WalletService interface {
	OpenWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	GetWallet(ctx context.Context, userID string) (*WalletView, error)
	Credit(ctx context.Context, req CreditRequest) (*MutationResult, error)
	Lock(ctx context.Context, req EscrowRequest) (*MutationResult, error)
	Release(ctx context.Context, req EscrowRequest) (*MutationResult, error)
	Settle(ctx context.Context, req SettleRequest) (*SettleOutcome, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (*MutationResult, error)
}

// CreditRequest holds validated input for a deposit or purchase credit.
type CreditRequest struct {
	UserID      string
	Amount      int64
	ReferenceID string
	Kind        domain.EntryKind
}

// EscrowRequest holds validated input for a lock or release.
type EscrowRequest struct {
	UserID      string
	Amount      int64
	ReferenceID string
}

// SettleRequest holds validated input for settling a won bid.
type SettleRequest struct {
	WinnerUserID string
	SellerUserID string
	Amount       int64
	ReferenceID  string
}

// WithdrawRequest holds validated input for a cash-out.
type WithdrawRequest struct {
	UserID      string
	Amount      int64
	ReferenceID string
}

// MutationResult is a committed single-wallet change.
type MutationResult struct {
	Wallet *domain.Wallet
	Entry  domain.LedgerEntry
}

// SettleOutcome is a committed settlement.
type SettleOutcome struct {
	Winner *domain.Wallet
	Seller *domain.Wallet
	Debit  domain.LedgerEntry
	Credit domain.LedgerEntry
}

// WalletView is a wallet plus the escrows still holding its tokens.
type WalletView struct {
	Wallet      *domain.Wallet
	OpenEscrows []domain.BidEscrow
	AgeVerified bool
}

// PurchaseService turns payment provider callbacks into purchase credits.
type PurchaseService interface {
	HandlePaymentEvent(ctx context.Context, payload []byte, signatureHeader string) (*PurchaseOutcome, error)
}

// PurchaseOutcome reports what a payment callback did.
type PurchaseOutcome struct {
	EventID       string              `json:"event_id"`
	EventType     string              `json:"event_type"`
	Handled       bool                `json:"handled"`
	Duplicate     bool                `json:"duplicate"`
	TransactionID string              `json:"provider_transaction_id,omitempty"`
	Entry         *domain.LedgerEntry `json:"entry,omitempty"`
}

// IdentityService records identity provider outcomes and answers the age gate.
type IdentityService interface {
	HandleIdentityEvent(ctx context.Context, payload []byte, signatureHeader string) error
	IsAgeVerified(ctx context.Context, userID string) (bool, error)
}

// ReportingService defines the admin and self-service read views.
type ReportingService interface {
	ListEntries(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
	GetStats(ctx context.Context, userID string, period string) (*LedgerStats, error)
	AuditWallet(ctx context.Context, userID string) (*WalletAudit, error)
	ExportEntries(ctx context.Context, req ExportRequest) (*ExportResult, error)
}

// WalletAudit compares a wallet's live fields with a replay of its entries
// and its locked pool with the escrows still open.
type WalletAudit struct {
	Wallet          *domain.Wallet  `json:"wallet"`
	Replayed        ledger.Snapshot `json:"replayed"`
	OpenEscrowTotal int64           `json:"open_escrow_total"`
	Consistent      bool            `json:"consistent"`
	EscrowTrailOK   bool            `json:"escrow_trail_ok"`
	Problems        []string        `json:"problems,omitempty"`
}

// ExportRequest selects the entries to export.
type ExportRequest struct {
	From *time.Time
	To   *time.Time
}

// ExportResult describes a finished export.
type ExportResult struct {
	Key      string `json:"key"`
	Location string `json:"location"`
	Rows     int    `json:"rows"`
}
