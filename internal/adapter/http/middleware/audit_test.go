package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"token-ledger/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditRouter(buf *bytes.Buffer, status int) *gin.Engine {
	r := gin.New()
	r.Use(AuditLog(zerolog.New(buf)))
	handler := func(c *gin.Context) {
		c.Set(CtxUserID, "user-1")
		c.Set(CtxRole, domain.RoleAdmin)
		c.JSON(status, gin.H{"ok": status < 300})
	}
	r.POST("/api/v1/bids/lock", handler)
	r.GET("/api/v1/wallets/me", handler)
	r.GET("/api/v1/admin/wallets/:user_id/audit", handler)
	return r
}

func TestAuditLog_RecordsTokenMovement(t *testing.T) {
	var buf bytes.Buffer
	r := auditRouter(&buf, http.StatusOK)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/bids/lock", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit", entry["component"])
	assert.Equal(t, "bid.lock", entry["action"])
	assert.Equal(t, "user-1", entry["user_id"])
	assert.Equal(t, "admin", entry["role"])
}

func TestAuditLog_RecordsTargetUser(t *testing.T) {
	var buf bytes.Buffer
	r := auditRouter(&buf, http.StatusOK)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/admin/wallets/bob/audit", nil))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "admin.audit", entry["action"])
	assert.Equal(t, "bob", entry["target_user_id"])
}

func TestAuditLog_SkipsUnauditedRoutes(t *testing.T) {
	var buf bytes.Buffer
	r := auditRouter(&buf, http.StatusOK)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/wallets/me", nil))
	assert.Empty(t, buf.String())
}

func TestAuditLog_SkipsFailures(t *testing.T) {
	var buf bytes.Buffer
	r := auditRouter(&buf, http.StatusPaymentRequired)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/bids/lock", nil))
	assert.Empty(t, buf.String())
}
