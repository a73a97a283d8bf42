package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// Payment provider event types that credit tokens.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentSucceeded  = "payment_intent.succeeded"
)

// PaymentEvent is the provider's callback envelope.
type PaymentEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object PaymentObject `json:"object"`
	} `json:"data"`
}

// PaymentObject covers the fields used from both checkout sessions and
// payment intents.
type PaymentObject struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	PaymentStatus  string            `json:"payment_status"`
	AmountTotal    int64             `json:"amount_total"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

// transactionID is the provider id the credit is keyed on. A checkout
// session and its payment intent resolve to the same id, so receiving both
// events credits once.
func (o PaymentObject) transactionID() string {
	if o.PaymentIntent != "" {
		return o.PaymentIntent
	}
	return o.ID
}

func (o PaymentObject) amountMinor() int64 {
	if o.AmountTotal > 0 {
		return o.AmountTotal
	}
	return o.AmountReceived
}

// purchaseService implements ports.PurchaseService.
type purchaseService struct {
	wallets ports.WalletService
	sigSvc  ports.SignatureService
	pricing *Pricing
	secret  string
	log     zerolog.Logger
}

// NewPurchaseService creates a new purchase service.
func NewPurchaseService(
	wallets ports.WalletService,
	sigSvc ports.SignatureService,
	pricing *Pricing,
	secret string,
	log zerolog.Logger,
) ports.PurchaseService {
	return &purchaseService{
		wallets: wallets,
		sigSvc:  sigSvc,
		pricing: pricing,
		secret:  secret,
		log:     log,
	}
}

// HandlePaymentEvent verifies and applies one provider callback. A repeated
// delivery is reported as Duplicate rather than as an error so the provider
// stops retrying.
func (s *purchaseService) HandlePaymentEvent(ctx context.Context, payload []byte, signatureHeader string) (*ports.PurchaseOutcome, error) {
	if err := s.sigSvc.Verify(s.secret, signatureHeader, payload); err != nil {
		return nil, err
	}

	var event PaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperror.Validation("malformed event payload")
	}
	if event.ID == "" || event.Type == "" {
		return nil, apperror.Validation("event id and type are required")
	}

	outcome := &ports.PurchaseOutcome{EventID: event.ID, EventType: event.Type}
	obj := event.Data.Object

	switch event.Type {
	case EventCheckoutCompleted:
		// Delayed payment methods complete the session before the money
		// arrives; those are credited on payment_intent.succeeded.
		if obj.PaymentStatus != "" && obj.PaymentStatus != "paid" {
			s.log.Debug().Str("event_id", event.ID).Str("payment_status", obj.PaymentStatus).Msg("purchase: checkout not paid yet, skipping")
			return outcome, nil
		}
	case EventPaymentSucceeded:
	default:
		s.log.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("purchase: ignoring event type")
		return outcome, nil
	}

	txID := obj.transactionID()
	if txID == "" {
		return nil, apperror.Validation("provider transaction id is missing")
	}
	userID := obj.Metadata["user_id"]
	if userID == "" {
		return nil, apperror.Validation("metadata.user_id is required")
	}

	tokens, err := s.tokensFor(obj)
	if err != nil {
		return nil, err
	}

	if _, err := s.wallets.OpenWallet(ctx, userID); err != nil {
		return nil, err
	}

	outcome.Handled = true
	outcome.TransactionID = txID

	res, err := s.wallets.Credit(ctx, ports.CreditRequest{
		UserID:      userID,
		Amount:      tokens,
		ReferenceID: txID,
		Kind:        domain.EntryKindPurchase,
	})
	if err != nil {
		if errors.Is(err, apperror.ErrDuplicateReference()) {
			outcome.Duplicate = true
			s.log.Info().Str("event_id", event.ID).Str("transaction_id", txID).Msg("purchase: duplicate delivery acknowledged")
			return outcome, nil
		}
		return nil, err
	}

	outcome.Entry = &res.Entry
	s.log.Info().
		Str("event_id", event.ID).
		Str("transaction_id", txID).
		Str("user_id", userID).
		Int64("tokens", tokens).
		Msg("purchase credited")

	return outcome, nil
}

// tokensFor prefers an explicit metadata.token_amount and otherwise prices
// the paid amount.
func (s *purchaseService) tokensFor(obj PaymentObject) (int64, error) {
	if raw := obj.Metadata["token_amount"]; raw != "" {
		tokens, err := strconv.ParseInt(raw, 10, 64)
		if errors.Is(err, strconv.ErrRange) && raw[0] != '-' {
			return 0, apperror.ErrAmountOverflow()
		}
		if err != nil || tokens <= 0 {
			return 0, apperror.ErrInvalidAmount()
		}
		return tokens, nil
	}
	return s.pricing.TokensFor(obj.amountMinor(), obj.Currency)
}
