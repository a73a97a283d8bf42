package handler

import (
	"errors"
	"io"

	"token-ledger/internal/adapter/http/dto"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"
	"token-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves the operator read views.
type AdminHandler struct {
	reporting ports.ReportingService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(reporting ports.ReportingService) *AdminHandler {
	return &AdminHandler{reporting: reporting}
}

// ListEntries handles GET /api/v1/admin/entries.
func (h *AdminHandler) ListEntries(c *gin.Context) {
	params, err := parseListParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	listEntries(c, h.reporting, params)
}

// GetStats handles GET /api/v1/admin/stats.
func (h *AdminHandler) GetStats(c *gin.Context) {
	period := c.DefaultQuery("period", "all")
	stats, err := h.reporting.GetStats(c.Request.Context(), c.Query("user_id"), period)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// AuditWallet handles GET /api/v1/admin/wallets/:user_id/audit.
func (h *AdminHandler) AuditWallet(c *gin.Context) {
	audit, err := h.reporting.AuditWallet(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, audit)
}

// Export handles POST /api/v1/admin/exports. An empty body exports everything.
func (h *AdminHandler) Export(c *gin.Context) {
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.reporting.ExportEntries(c.Request.Context(), ports.ExportRequest{From: req.From, To: req.To})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}
