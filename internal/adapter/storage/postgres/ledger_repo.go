package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const entryColumnList = `seq, id, wallet_id, kind, amount, balance_after, locked_after, reference_id, created_at`

// LedgerRepo implements ports.LedgerRepository.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append inserts an entry within a database transaction. A second credit or
// settlement for the same reference trips a partial unique index and is
// reported as DuplicateReference.
func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (id, wallet_id, kind, amount, balance_after, locked_after, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`

	err := tx.QueryRow(ctx, query,
		e.ID, e.WalletID, e.Kind, e.Amount,
		e.BalanceAfter, e.LockedAfter, e.ReferenceID, e.Timestamp,
	).Scan(&e.Seq)
	if err != nil {
		if isUniqueViolation(err, "") {
			return apperror.ErrDuplicateReference()
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// CreditExists reports whether a deposit or purchase already carries referenceID.
func (r *LedgerRepo) CreditExists(ctx context.Context, referenceID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE reference_id = $1 AND kind IN ('deposit', 'purchase'))`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, referenceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check credit exists: %w", err)
	}
	return exists, nil
}

// ListByWallet returns every entry of a wallet in insertion order.
func (r *LedgerRepo) ListByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumnList + ` FROM ledger_entries WHERE wallet_id = $1 ORDER BY seq ASC`

	rows, err := r.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("list wallet entries: %w", err)
	}
	return collectEntries(rows)
}

// ListAfter pages through the whole ledger by sequence number.
func (r *LedgerRepo) ListAfter(ctx context.Context, afterSeq int64, from, to *time.Time, limit int) ([]domain.LedgerEntry, error) {
	conditions := []string{"seq > $1"}
	args := []any{afterSeq}
	argIdx := 2

	if from != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *to)
		argIdx++
	}

	query := fmt.Sprintf(`SELECT %s FROM ledger_entries WHERE %s ORDER BY seq ASC LIMIT $%d`,
		entryColumnList, strings.Join(conditions, " AND "), argIdx)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries after %d: %w", afterSeq, err)
	}
	return collectEntries(rows)
}

// List fetches entries with filtering and pagination, newest first.
func (r *LedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.WalletID != nil {
		conditions = append(conditions, fmt.Sprintf("wallet_id = $%d", argIdx))
		args = append(args, *params.WalletID)
		argIdx++
	}
	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *params.Kind)
		argIdx++
	}
	if params.ReferenceID != "" {
		conditions = append(conditions, fmt.Sprintf("reference_id = $%d", argIdx))
		args = append(args, params.ReferenceID)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM ledger_entries %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM ledger_entries %s ORDER BY seq DESC LIMIT $%d OFFSET $%d`,
		entryColumnList, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GetStats aggregates entry volumes per kind, optionally for one wallet and
// from a start time.
func (r *LedgerRepo) GetStats(ctx context.Context, walletID *uuid.UUID, since *time.Time) (*ports.LedgerStats, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if walletID != nil {
		conditions = append(conditions, fmt.Sprintf("wallet_id = $%d", argIdx))
		args = append(args, *walletID)
		argIdx++
	}
	if since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *since)
	}

	query := fmt.Sprintf(`SELECT
		COUNT(*) AS total,
		COUNT(DISTINCT wallet_id) AS wallets,
		COALESCE(SUM(amount) FILTER (WHERE kind = 'deposit'), 0) AS deposited,
		COALESCE(SUM(amount) FILTER (WHERE kind = 'purchase'), 0) AS purchased,
		COALESCE(SUM(amount) FILTER (WHERE kind = 'lock'), 0) AS locked,
		COALESCE(SUM(amount) FILTER (WHERE kind = 'release'), 0) AS released,
		COALESCE(SUM(amount) FILTER (WHERE kind = 'settle_credit'), 0) AS settled,
		COALESCE(-SUM(amount) FILTER (WHERE kind = 'withdrawal'), 0) AS withdrawn
		FROM ledger_entries WHERE %s`, strings.Join(conditions, " AND "))

	stats := &ports.LedgerStats{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalEntries, &stats.ActiveWallets,
		&stats.Deposited, &stats.Purchased, &stats.Locked,
		&stats.Released, &stats.Settled, &stats.Withdrawn,
	)
	if err != nil {
		return nil, fmt.Errorf("get ledger stats: %w", err)
	}
	return stats, nil
}

func collectEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e := domain.LedgerEntry{}
		err := rows.Scan(
			&e.Seq, &e.ID, &e.WalletID, &e.Kind, &e.Amount,
			&e.BalanceAfter, &e.LockedAfter, &e.ReferenceID, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entry rows: %w", err)
	}
	return entries, nil
}
