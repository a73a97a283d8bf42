package handler

import (
	"errors"
	"io"
	"net/http"

	"token-ledger/internal/adapter/http/dto"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"
	"token-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HeaderSignature carries "t=<unix>,v1=<hex>" on provider callbacks.
const HeaderSignature = "X-Signature"

// WebhookHandler receives payment and identity provider callbacks.
type WebhookHandler struct {
	purchases  ports.PurchaseService
	identities ports.IdentityService
	log        zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(purchases ports.PurchaseService, identities ports.IdentityService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{purchases: purchases, identities: identities, log: log}
}

// Payments handles POST /api/v1/webhooks/payments. Redeliveries of an
// already credited transaction are acknowledged with duplicate=true so the
// provider stops retrying.
func (h *WebhookHandler) Payments(c *gin.Context) {
	payload, ok := readBody(c)
	if !ok {
		return
	}

	outcome, err := h.purchases.HandlePaymentEvent(c.Request.Context(), payload, c.GetHeader(HeaderSignature))
	if err != nil {
		h.log.Warn().Err(err).Msg("payment webhook rejected")
		response.Error(c, err)
		return
	}

	response.OK(c, dto.WebhookAck{
		Received:  true,
		Handled:   outcome.Handled,
		Duplicate: outcome.Duplicate,
		EventID:   outcome.EventID,
	})
}

// Identity handles POST /api/v1/webhooks/identity.
func (h *WebhookHandler) Identity(c *gin.Context) {
	payload, ok := readBody(c)
	if !ok {
		return
	}

	if err := h.identities.HandleIdentityEvent(c.Request.Context(), payload, c.GetHeader(HeaderSignature)); err != nil {
		h.log.Warn().Err(err).Msg("identity webhook rejected")
		response.Error(c, err)
		return
	}

	response.OK(c, dto.WebhookAck{Received: true, Handled: true})
}

// readBody returns the raw body; signatures cover the exact bytes sent.
func readBody(c *gin.Context) ([]byte, bool) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, apperror.ErrPayloadTooLarge(tooLarge.Limit))
		} else {
			response.Error(c, apperror.Validation("cannot read request body"))
		}
		return nil, false
	}
	if len(payload) == 0 {
		response.Error(c, apperror.Validation("empty request body"))
		return nil, false
	}
	return payload, true
}
