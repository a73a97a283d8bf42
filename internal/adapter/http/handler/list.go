package handler

import (
	"strconv"
	"time"

	"token-ledger/internal/adapter/http/dto"
	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ports"
	"token-ledger/pkg/apperror"
	"token-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// parseListParams reads page, page_size, kind, reference_id, from and to.
// Times are RFC 3339 or unix seconds.
func parseListParams(c *gin.Context) (ports.LedgerListParams, error) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	params := ports.LedgerListParams{
		UserID:      c.Query("user_id"),
		ReferenceID: c.Query("reference_id"),
		Page:        page,
		PageSize:    pageSize,
	}

	if k := c.Query("kind"); k != "" {
		kind := domain.EntryKind(k)
		params.Kind = &kind
	}
	var err error
	if params.From, err = parseTimeQuery(c, "from"); err != nil {
		return params, err
	}
	if params.To, err = parseTimeQuery(c, "to"); err != nil {
		return params, err
	}
	return params, nil
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperror.Validation(name + " must be RFC 3339 or unix seconds")
	}
	return &t, nil
}

func listEntries(c *gin.Context, reporting ports.ReportingService, params ports.LedgerListParams) {
	entries, total, err := reporting.ListEntries(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, response.NewPage(dto.NewEntryResponses(entries), total, params.Page, params.PageSize))
}
