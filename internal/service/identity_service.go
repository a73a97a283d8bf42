package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// Identity provider event types.
const (
	EventUserRegistered   = "user.registered"
	EventIdentityVerified = "identity.verified"
	EventIdentityRejected = "identity.rejected"
)

const (
	identityReplayScope = "identity"
	identityReplayTTL   = 24 * time.Hour
)

// IdentityEvent is the identity provider's callback envelope.
type IdentityEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"` // unix seconds
	Data    struct {
		UserID    string `json:"user_id"`
		Provider  string `json:"provider"`
		Reference string `json:"reference"`
	} `json:"data"`
}

// identityService implements ports.IdentityService.
type identityService struct {
	repo    ports.IdentityRepository
	wallets ports.WalletService
	guard   ports.ReplayGuard
	sigSvc  ports.SignatureService
	secret  string
	log     zerolog.Logger
	now     func() time.Time
}

// NewIdentityService creates a new identity service. guard may be nil.
func NewIdentityService(
	repo ports.IdentityRepository,
	wallets ports.WalletService,
	guard ports.ReplayGuard,
	sigSvc ports.SignatureService,
	secret string,
	log zerolog.Logger,
) ports.IdentityService {
	return &identityService{
		repo:    repo,
		wallets: wallets,
		guard:   guard,
		sigSvc:  sigSvc,
		secret:  secret,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HandleIdentityEvent verifies and applies one identity provider callback.
func (s *identityService) HandleIdentityEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := s.sigSvc.Verify(s.secret, signatureHeader, payload); err != nil {
		return err
	}

	var event IdentityEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return apperror.Validation("malformed event payload")
	}
	if event.ID == "" || event.Type == "" {
		return apperror.Validation("event id and type are required")
	}
	if event.Data.UserID == "" {
		return apperror.Validation("data.user_id is required")
	}

	if s.guard != nil {
		first, err := s.guard.FirstSeen(ctx, identityReplayScope, event.ID, identityReplayTTL)
		if err != nil {
			s.log.Warn().Err(err).Str("event_id", event.ID).Msg("identity: replay check failed, processing anyway")
		} else if !first {
			s.log.Debug().Str("event_id", event.ID).Msg("identity: replayed event skipped")
			return nil
		}
	}

	if err := s.apply(ctx, event); err != nil {
		if s.guard != nil {
			if ferr := s.guard.Forget(ctx, identityReplayScope, event.ID); ferr != nil {
				s.log.Warn().Err(ferr).Str("event_id", event.ID).Msg("identity: failed to clear replay marker")
			}
		}
		return err
	}
	return nil
}

func (s *identityService) apply(ctx context.Context, event IdentityEvent) error {
	occurred := s.now()
	if event.Created > 0 {
		occurred = time.Unix(event.Created, 0).UTC()
	}

	switch event.Type {
	case EventUserRegistered:
		wallet, err := s.wallets.OpenWallet(ctx, event.Data.UserID)
		if err != nil {
			return err
		}
		s.log.Info().Str("user_id", event.Data.UserID).Str("wallet_id", wallet.ID.String()).Msg("identity: wallet opened on registration")

	case EventIdentityVerified, EventIdentityRejected:
		verified := event.Type == EventIdentityVerified
		v := &domain.IdentityVerification{
			UserID:      event.Data.UserID,
			AgeVerified: verified,
			Provider:    event.Data.Provider,
			ExternalRef: event.Data.Reference,
			UpdatedAt:   occurred,
		}
		if verified {
			v.VerifiedAt = &occurred
		}
		if err := s.repo.Upsert(ctx, v); err != nil {
			return apperror.InternalError(fmt.Errorf("record identity outcome: %w", err))
		}
		s.log.Info().Str("user_id", v.UserID).Bool("age_verified", verified).Msg("identity: verification recorded")

	default:
		s.log.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("identity: ignoring event type")
	}
	return nil
}

// IsAgeVerified reports whether the user passed age verification.
func (s *identityService) IsAgeVerified(ctx context.Context, userID string) (bool, error) {
	v, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("get identity: %w", err))
	}
	return v != nil && v.AgeVerified, nil
}
