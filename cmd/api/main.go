package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"token-ledger/config"
	httpHandler "token-ledger/internal/adapter/http/handler"
	"token-ledger/internal/adapter/messaging/kafka"
	pgStorage "token-ledger/internal/adapter/storage/postgres"
	redisStorage "token-ledger/internal/adapter/storage/redis"
	s3Storage "token-ledger/internal/adapter/storage/s3"
	"token-ledger/internal/core/ledger"
	"token-ledger/internal/core/ports"
	"token-ledger/internal/service"
	"token-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting token ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("TKL_JWT_SECRET must be set")
	}

	// Schema
	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(cfg.Database.MigrateURL(), log); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	ledgerRepo := pgStorage.NewLedgerRepo(pool)
	escrowRepo := pgStorage.NewEscrowRepo(pool)
	identityRepo := pgStorage.NewIdentityRepo(pool)
	outboxRepo := pgStorage.NewOutboxRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	replayGuard := redisStorage.NewReplayGuard(rdb)
	balanceEvents := redisStorage.NewBalanceEvents(rdb, log)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	healthCheckers := []ports.HealthChecker{
		pgStorage.NewHealthCheck(pool),
		redisStorage.NewHealthCheck(rdb),
	}

	// Outbox rows are only written when a relay will drain them.
	outboxTopic := ""
	var relay *service.OutboxRelay
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Fatal().Err(err).Strs("brokers", cfg.Kafka.Brokers).Msg("Failed to connect to Kafka")
		}
		defer producer.Close()
		outboxTopic = cfg.Kafka.Topic
		relay = service.NewOutboxRelay(outboxRepo, producer, cfg.Kafka.OutboxInterval, cfg.Kafka.OutboxBatch, cfg.Kafka.MaxRetries, log)
		log.Info().Str("topic", outboxTopic).Msg("Kafka outbox enabled")
	}

	var exportStore ports.ExportStore
	if cfg.Export.Enabled {
		store, err := s3Storage.NewExportStore(cfg.Export)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize export store")
		}
		exportStore = store
		healthCheckers = append(healthCheckers, store)
		log.Info().Str("bucket", cfg.Export.Bucket).Msg("Ledger exports enabled")
	}

	// Initialize core services
	sigSvc := service.NewHMACSignatureService(cfg.Webhooks.Tolerance)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	pricing, err := service.NewPricing(cfg.Purchase.TokensPerUnit, cfg.Purchase.Currency, cfg.Purchase.MinorUnits)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid purchase pricing")
	}

	// Initialize business services
	walletSvc := service.NewWalletService(
		walletRepo,
		ledgerRepo,
		escrowRepo,
		outboxRepo,
		identityRepo,
		idempotencyCache,
		balanceEvents,
		transactor,
		ledger.NewEngine(),
		outboxTopic,
		log,
	)
	purchaseSvc := service.NewPurchaseService(walletSvc, sigSvc, pricing, cfg.Webhooks.PaymentSecret, log)
	identitySvc := service.NewIdentityService(identityRepo, walletSvc, replayGuard, sigSvc, cfg.Webhooks.IdentitySecret, log)
	reportingSvc := service.NewReportingService(walletRepo, ledgerRepo, escrowRepo, exportStore)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		PurchaseSvc:    purchaseSvc,
		IdentitySvc:    identitySvc,
		ReportingSvc:   reportingSvc,
		TokenSvc:       tokenSvc,
		Subscriber:     balanceEvents,
		RateLimitStore: rateLimitStore,
		HealthCheckers: healthCheckers,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	var workers sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	if relay != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			relay.Run(workerCtx)
		}()
	}

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop the relay after in-flight requests so their outbox rows get a
	// chance to go out; anything left is picked up on the next start.
	cancelWorkers()
	workers.Wait()

	log.Info().Msg("Server exited")
}
