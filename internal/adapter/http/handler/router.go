package handler

import (
	"token-ledger/internal/adapter/http/middleware"
	redisStore "token-ledger/internal/adapter/storage/redis"
	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	PurchaseSvc    ports.PurchaseService
	IdentitySvc    ports.IdentityService
	ReportingSvc   ports.ReportingService
	TokenSvc       ports.TokenService
	Subscriber     ports.EventSubscriber      // nil = balance stream disabled
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	r.Use(middleware.AuditLog(deps.Logger))

	// Health check (deep: pings every registered dependency)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	ageGate := middleware.RequireAgeVerified(deps.IdentitySvc, deps.Logger)

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Provider callbacks (signature-verified in the services) ---
	webhookHandler := NewWebhookHandler(deps.PurchaseSvc, deps.IdentitySvc, deps.Logger)
	webhooks := v1.Group("/webhooks", rl("webhooks"))
	{
		webhooks.POST("/payments", webhookHandler.Payments)
		webhooks.POST("/identity", webhookHandler.Identity)
	}

	// --- Bidding (JWT, age-gated; settlement by the auction engine) ---
	bidHandler := NewBidHandler(deps.WalletSvc)
	bids := v1.Group("/bids", jwtAuth)
	{
		bids.POST("/lock", rl("bids"), ageGate, bidHandler.Lock)
		bids.POST("/release", rl("bids"), bidHandler.Release)
		bids.POST("/settle", middleware.RequireRole(domain.RoleService, domain.RoleAdmin), rl("settle"), bidHandler.Settle)
	}

	// --- Own wallet (JWT) ---
	walletHandler := NewWalletHandler(deps.WalletSvc, deps.ReportingSvc)
	wallets := v1.Group("/wallets")
	{
		wallets.GET("/me", jwtAuth, rl("wallet"), walletHandler.GetMe)
		wallets.GET("/me/entries", jwtAuth, rl("wallet"), walletHandler.ListMyEntries)
		wallets.POST("/withdraw", jwtAuth, rl("withdraw"), ageGate, walletHandler.Withdraw)

		if deps.Subscriber != nil {
			streamHandler := NewStreamHandler(deps.Subscriber, deps.AllowedOrigins, deps.Logger)
			wallets.GET("/stream", middleware.QueryToken("access_token"), jwtAuth, streamHandler.Stream)
		}
	}

	// --- Admin (JWT role admin) ---
	adminHandler := NewAdminHandler(deps.ReportingSvc)
	admin := v1.Group("/admin", jwtAuth, middleware.RequireRole(domain.RoleAdmin), rl("admin"))
	{
		admin.GET("/entries", adminHandler.ListEntries)
		admin.GET("/stats", adminHandler.GetStats)
		admin.GET("/wallets/:user_id/audit", adminHandler.AuditWallet)
		admin.POST("/exports", rl("exports"), adminHandler.Export)
	}

	return r
}
