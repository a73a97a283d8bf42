package ports

import (
	"context"
	"time"

	"token-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	// GetOrCreate inserts wallet unless one already exists for its user and
	// returns the stored row either way.
	GetOrCreate(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*domain.Wallet, error)
	// Update writes the numeric fields guarded by wallet.Version and advances
	// wallet.Version and wallet.UpdatedAt on success.
	Update(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
}

// LedgerRepository defines persistence for the append-only ledger.
type LedgerRepository interface {
	// Append inserts entry and sets entry.Seq.
	Append(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	CreditExists(ctx context.Context, referenceID string) (bool, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.LedgerEntry, error)
	// ListAfter returns up to limit entries with seq > afterSeq in seq order.
	ListAfter(ctx context.Context, afterSeq int64, from, to *time.Time, limit int) ([]domain.LedgerEntry, error)
	// Reporting queries
	List(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
	GetStats(ctx context.Context, walletID *uuid.UUID, since *time.Time) (*LedgerStats, error)
}

// LedgerListParams holds filter + pagination for listing ledger entries.
type LedgerListParams struct {
	UserID      string     // resolved to WalletID by the service
	WalletID    *uuid.UUID // nil = all wallets
	Kind        *domain.EntryKind
	ReferenceID string
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// LedgerStats holds aggregated ledger volumes per kind.
type LedgerStats struct {
	TotalEntries  int64 `json:"total_entries"`
	ActiveWallets int64 `json:"active_wallets"`
	Deposited     int64 `json:"deposited"`
	Purchased     int64 `json:"purchased"`
	Locked        int64 `json:"locked"`
	Released      int64 `json:"released"`
	Settled       int64 `json:"settled"` // sum of settle_credit amounts
	Withdrawn     int64 `json:"withdrawn"`
}

// EscrowRepository defines persistence for bid escrows.
type EscrowRepository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, referenceID string) (*domain.BidEscrow, error)
	Create(ctx context.Context, tx pgx.Tx, escrow *domain.BidEscrow) error
	Update(ctx context.Context, tx pgx.Tx, escrow *domain.BidEscrow) error
	ListOpenByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.BidEscrow, error)
}

// IdentityRepository defines persistence for age-verification outcomes.
type IdentityRepository interface {
	Upsert(ctx context.Context, v *domain.IdentityVerification) error
	GetByUserID(ctx context.Context, userID string) (*domain.IdentityVerification, error)
}

// OutboxRepository defines persistence for the transactional outbox.
type OutboxRepository interface {
	Create(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error
	GetPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	// MarkRetry bumps retry_count and flips the row to FAILED once it reaches maxRetries.
	MarkRetry(ctx context.Context, id int64, maxRetries int) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
