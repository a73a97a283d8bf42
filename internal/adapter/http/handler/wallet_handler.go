package handler

import (
	"token-ledger/internal/adapter/http/dto"
	"token-ledger/internal/adapter/http/middleware"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"
	"token-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles the caller's own wallet.
type WalletHandler struct {
	wallets   ports.WalletService
	reporting ports.ReportingService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(wallets ports.WalletService, reporting ports.ReportingService) *WalletHandler {
	return &WalletHandler{wallets: wallets, reporting: reporting}
}

// GetMe handles GET /api/v1/wallets/me.
func (h *WalletHandler) GetMe(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	view, err := h.wallets.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWalletViewResponse(view))
}

// Withdraw handles POST /api/v1/wallets/withdraw.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.wallets.Withdraw(c.Request.Context(), ports.WithdrawRequest{
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

// ListMyEntries handles GET /api/v1/wallets/me/entries.
func (h *WalletHandler) ListMyEntries(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	params, err := parseListParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	params.UserID = userID
	params.WalletID = nil

	listEntries(c, h.reporting, params)
}
