package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// auditedRoutes maps route patterns that move tokens or expose ledger data
// to the action recorded for them.
var auditedRoutes = map[string]string{
	http.MethodPost + " /api/v1/bids/lock":                   "bid.lock",
	http.MethodPost + " /api/v1/bids/release":                "bid.release",
	http.MethodPost + " /api/v1/bids/settle":                 "bid.settle",
	http.MethodPost + " /api/v1/wallets/withdraw":            "wallet.withdraw",
	http.MethodPost + " /api/v1/webhooks/payments":           "webhook.payment",
	http.MethodPost + " /api/v1/webhooks/identity":           "webhook.identity",
	http.MethodPost + " /api/v1/admin/exports":               "admin.export",
	http.MethodGet + " /api/v1/admin/wallets/:user_id/audit": "admin.audit",
}

// AuditLog writes one audit line per successful call to an audited route.
// The lines go to the "audit" logger component so they can be shipped apart
// from request logs.
func AuditLog(log zerolog.Logger) gin.HandlerFunc {
	audit := log.With().Str("component", "audit").Logger()
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		action, ok := auditedRoutes[c.Request.Method+" "+c.FullPath()]
		if !ok {
			return
		}

		event := audit.Info().
			Str("action", action).
			Str("user_id", UserID(c)).
			Str("ip", c.ClientIP()).
			Int("status", status).
			Str("request_id", c.GetString(CtxRequestID))
		if role, exists := c.Get(CtxRole); exists {
			event = event.Interface("role", role)
		}
		if target := c.Param("user_id"); target != "" {
			event = event.Str("target_user_id", target)
		}
		event.Msg("audit")
	}
}
