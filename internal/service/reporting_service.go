package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ledger"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	exportBatchSize = 1000
)

var exportHeader = []string{
	"seq", "id", "wallet_id", "kind", "amount", "balance_after", "locked_after", "reference_id", "created_at",
}

// reportingService implements ports.ReportingService.
type reportingService struct {
	walletRepo ports.WalletRepository
	ledgerRepo ports.LedgerRepository
	escrowRepo ports.EscrowRepository
	store      ports.ExportStore
	now        func() time.Time
}

// NewReportingService creates a new reporting service. store may be nil, in
// which case exports report unavailable.
func NewReportingService(
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	escrowRepo ports.EscrowRepository,
	store ports.ExportStore,
) ports.ReportingService {
	return &reportingService{
		walletRepo: walletRepo,
		ledgerRepo: ledgerRepo,
		escrowRepo: escrowRepo,
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ListEntries returns a page of ledger entries, newest first.
func (s *reportingService) ListEntries(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	if params.Kind != nil && !params.Kind.Valid() {
		return nil, 0, apperror.Validation("invalid kind")
	}
	if params.From != nil && params.To != nil && params.From.After(*params.To) {
		return nil, 0, apperror.Validation("from must not be after to")
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	if params.UserID != "" && params.WalletID == nil {
		walletID, err := s.walletIDFor(ctx, params.UserID)
		if err != nil {
			return nil, 0, err
		}
		params.WalletID = &walletID
	}

	entries, total, err := s.ledgerRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return entries, total, nil
}

// GetStats sums ledger volumes over period, for one user or for everyone
// when userID is empty.
func (s *reportingService) GetStats(ctx context.Context, userID string, period string) (*ports.LedgerStats, error) {
	var since *time.Time
	now := s.now()

	switch period {
	case "day":
		t := now.AddDate(0, 0, -1)
		since = &t
	case "week":
		t := now.AddDate(0, 0, -7)
		since = &t
	case "month":
		t := now.AddDate(0, -1, 0)
		since = &t
	case "all", "":
		// No time filter
	default:
		return nil, apperror.Validation("invalid period: must be day, week, month, or all")
	}

	var walletID *uuid.UUID
	if userID != "" {
		id, err := s.walletIDFor(ctx, userID)
		if err != nil {
			return nil, err
		}
		walletID = &id
	}

	stats, err := s.ledgerRepo.GetStats(ctx, walletID, since)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return stats, nil
}

// AuditWallet replays the wallet's entries and checks the result, the
// escrow trail and the open escrows against the live row.
func (s *reportingService) AuditWallet(ctx context.Context, userID string) (*ports.WalletAudit, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	entries, err := s.ledgerRepo.ListByWallet(ctx, wallet.ID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	escrows, err := s.escrowRepo.ListOpenByWallet(ctx, wallet.ID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	audit := &ports.WalletAudit{Wallet: wallet, Consistent: true, EscrowTrailOK: true}

	snap, err := ledger.Replay(wallet.ID, entries)
	audit.Replayed = snap
	if err != nil {
		audit.Consistent = false
		audit.Problems = append(audit.Problems, problemText(err))
	} else if !snap.Matches(*wallet) {
		audit.Consistent = false
		audit.Problems = append(audit.Problems, fmt.Sprintf(
			"replayed balance %d locked %d, live balance %d locked %d",
			snap.Balance, snap.LockedTokens, wallet.Balance, wallet.LockedTokens))
	}

	if err := ledger.CheckEscrowTrail(entries); err != nil {
		audit.EscrowTrailOK = false
		audit.Problems = append(audit.Problems, problemText(err))
	}

	for _, e := range escrows {
		audit.OpenEscrowTotal += e.LockedAmount
	}
	if audit.OpenEscrowTotal != wallet.LockedTokens {
		audit.EscrowTrailOK = false
		audit.Problems = append(audit.Problems, fmt.Sprintf(
			"open escrows hold %d, wallet locked %d", audit.OpenEscrowTotal, wallet.LockedTokens))
	}

	return audit, nil
}

// ExportEntries renders every entry in [From, To] as CSV, in insertion
// order, and uploads it to the export store.
func (s *reportingService) ExportEntries(ctx context.Context, req ports.ExportRequest) (*ports.ExportResult, error) {
	if s.store == nil {
		return nil, apperror.ErrExportUnavailable(errors.New("export storage not configured"))
	}
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return nil, apperror.Validation("from must not be after to")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("write csv header: %w", err))
	}

	rows := 0
	var after int64
	for {
		batch, err := s.ledgerRepo.ListAfter(ctx, after, req.From, req.To, exportBatchSize)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("read entries: %w", err))
		}
		for _, e := range batch {
			if err := w.Write(entryRecord(e)); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("write csv row: %w", err))
			}
			after = e.Seq
		}
		rows += len(batch)
		if len(batch) < exportBatchSize {
			break
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("flush csv: %w", err))
	}

	key := fmt.Sprintf("ledger-entries-%s.csv", s.now().Format("20060102T150405Z"))
	location, err := s.store.Put(ctx, key, buf.Bytes(), "text/csv")
	if err != nil {
		return nil, apperror.ErrExportUnavailable(err)
	}

	return &ports.ExportResult{Key: key, Location: location, Rows: rows}, nil
}

func (s *reportingService) walletIDFor(ctx context.Context, userID string) (uuid.UUID, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return uuid.Nil, apperror.InternalError(err)
	}
	if wallet == nil {
		return uuid.Nil, apperror.ErrNotFound("wallet")
	}
	return wallet.ID, nil
}

func entryRecord(e domain.LedgerEntry) []string {
	return []string{
		strconv.FormatInt(e.Seq, 10),
		e.ID.String(),
		e.WalletID.String(),
		string(e.Kind),
		strconv.FormatInt(e.Amount, 10),
		strconv.FormatInt(e.BalanceAfter, 10),
		strconv.FormatInt(e.LockedAfter, 10),
		e.ReferenceID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func problemText(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
