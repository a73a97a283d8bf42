package handler

import (
	"context"

	"token-ledger/internal/adapter/http/dto"
	"token-ledger/internal/adapter/http/middleware"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"
	"token-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// BidHandler handles escrow endpoints used while bidding.
type BidHandler struct {
	wallets ports.WalletService
}

// NewBidHandler creates a new BidHandler.
func NewBidHandler(wallets ports.WalletService) *BidHandler {
	return &BidHandler{wallets: wallets}
}

// Lock handles POST /api/v1/bids/lock.
func (h *BidHandler) Lock(c *gin.Context) {
	h.escrow(c, h.wallets.Lock)
}

// Release handles POST /api/v1/bids/release.
func (h *BidHandler) Release(c *gin.Context) {
	h.escrow(c, h.wallets.Release)
}

func (h *BidHandler) escrow(c *gin.Context, apply func(context.Context, ports.EscrowRequest) (*ports.MutationResult, error)) {
	userID := middleware.UserID(c)
	if userID == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.EscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := apply(c.Request.Context(), ports.EscrowRequest{
		UserID:      userID,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewMutationResponse(result))
}

// Settle handles POST /api/v1/bids/settle. It is called by the auction
// engine, so winner and seller come from the body rather than the token.
func (h *BidHandler) Settle(c *gin.Context) {
	var req dto.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	outcome, err := h.wallets.Settle(c.Request.Context(), ports.SettleRequest{
		WinnerUserID: req.WinnerUserID,
		SellerUserID: req.SellerUserID,
		Amount:       req.Amount,
		ReferenceID:  req.ReferenceID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewSettleResponse(outcome))
}
