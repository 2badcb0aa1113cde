package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sweepstakes-wallet/config"
	httpHandler "sweepstakes-wallet/internal/adapter/http/handler"
	"sweepstakes-wallet/internal/adapter/http/middleware"
	"sweepstakes-wallet/internal/adapter/metrics"
	memStorage "sweepstakes-wallet/internal/adapter/storage/memory"
	pgStorage "sweepstakes-wallet/internal/adapter/storage/postgres"
	redisStorage "sweepstakes-wallet/internal/adapter/storage/redis"
	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/internal/service"
	"sweepstakes-wallet/pkg/logger"
	"sweepstakes-wallet/pkg/money"

	"github.com/rs/zerolog"
)

// storage groups the repositories of one storage driver.
type storage struct {
	wallets     ports.WalletRepository
	ledger      ports.LedgerRepository
	idempotency ports.IdempotencyRepository
	approvals   ports.ApprovalRepository
	audit       ports.AuditRepository
	transactor  ports.DBTransactor
	health      ports.HealthChecker
	close       func()
}

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting Sweepstakes Wallet Ledger")

	ctx := context.Background()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer store.close()

	checkers := []ports.HealthChecker{store.health}

	// Redis is optional: idempotency cache and distributed user lock
	var (
		idemCache  ports.IdempotencyCache
		rateLimits *redisStorage.RateLimitStore
		locker     ports.UserLocker = service.NewLocalUserLocker(cfg.Lock.Stripes)
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		idemCache = redisStorage.NewIdempotencyCache(rdb)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
		if cfg.RateLimit.Enabled {
			rateLimits = redisStorage.NewRateLimitStore(rdb)
		}
		if cfg.Lock.Driver == "redis" {
			locker = redisStorage.NewUserLocker(rdb, redisStorage.LockOptions{
				Expiry: cfg.Lock.TTL,
				Tries:  cfg.Lock.Tries,
			}, logger.Component(log, "user_lock"))
		}
	}
	log.Info().Str("driver", cfg.Lock.Driver).Msg("User lock initialized")

	prom := metrics.NewPrometheus()

	// Initialize services
	idemSvc := service.NewIdempotencyService(store.idempotency, idemCache, service.IdempotencyOptions{
		TTL:          cfg.Idempotency.TTL,
		PendingLease: cfg.Idempotency.PendingLease,
		PollTimeout:  cfg.Idempotency.PollTimeout,
		PollInterval: cfg.Idempotency.PollInterval,
	}, logger.Component(log, "idempotency"))

	complianceSvc := service.NewComplianceService(store.ledger, service.ComplianceRules{
		RestrictedStates:      cfg.Compliance.RestrictedStates,
		EnhancedKYCStates:     cfg.Compliance.EnhancedKYCStates,
		EnhancedKYCThreshold:  money.MustParse(cfg.Compliance.EnhancedKYCThreshold),
		DailyWithdrawalLimit:  money.MustParse(cfg.Compliance.DailyWithdrawalLimit),
		WeeklyWithdrawalLimit: money.MustParse(cfg.Compliance.WeeklyWithdrawalLimit),
		AMOEPerDay:            cfg.Compliance.AMOEPerDay,
		AMOEPer30Days:         cfg.Compliance.AMOEPer30Days,
	}, prom, logger.Component(log, "compliance"))

	approvalSvc := service.NewApprovalService(store.approvals, service.ApprovalPolicy{
		Threshold:       money.MustParse(cfg.Approval.Threshold),
		TripleThreshold: money.MustParse(cfg.Approval.TripleThreshold),
		Expiry:          cfg.Approval.Expiry,
		ExemptGold:      cfg.Approval.ExemptGold,
	}, prom, logger.Component(log, "approval"))

	ledgerSvc := service.NewLedgerService(store.ledger, store.wallets, logger.Component(log, "ledger"))
	auditSvc := service.NewAuditService(store.audit, logger.Component(log, "audit"))

	processor := service.NewTransactionProcessor(service.ProcessorDeps{
		Wallets:     store.wallets,
		Ledger:      ledgerSvc,
		Idempotency: idemSvc,
		Compliance:  complianceSvc,
		Approvals:   approvalSvc,
		Audit:       auditSvc,
		Locker:      locker,
		Transactor:  store.transactor,
		Metrics:     prom,
	}, service.ProcessorOptions{
		MinWithdrawal:  money.MustParse(cfg.Ledger.MinWithdrawal),
		MaxWithdrawal:  money.MustParse(cfg.Ledger.MaxWithdrawal),
		AMOEAmount:     money.MustParse(cfg.Compliance.AMOEAmount),
		MaxAttempts:    cfg.Ledger.MaxAttempts,
		RetryBaseDelay: cfg.Ledger.RetryBaseDelay,
	}, logger.Component(log, "processor"))

	// Background expiry of stale approvals and idempotency records
	var sweeper *service.Sweeper
	if cfg.Sweeper.Enabled {
		sweeper = service.NewSweeper(processor, idemSvc, cfg.Sweeper.Schedule, logger.Component(log, "sweeper"))
		if err := sweeper.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start sweeper")
		}
	}

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Processor:      processor,
		Ledger:         ledgerSvc,
		Approvals:      approvalSvc,
		HealthCheckers: checkers,
		Metrics:        prom,
		RateLimits:     rateLimits,
		TxLimit:        middleware.RateLimitRule{Limit: cfg.RateLimit.TransactionsPerMinute, Window: time.Minute},
		DecisionLimit:  middleware.RateLimitRule{Limit: cfg.RateLimit.DecisionsPerMinute, Window: time.Minute},
		Logger:         log,
		Mode:           cfg.Server.Mode,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}
	auditSvc.Wait(shutdownCtx)

	log.Info().Msg("Server exited")
}

// openStorage builds the repositories of the configured driver.
func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		s := memStorage.NewStore()
		return &storage{
			wallets:     memStorage.NewWalletRepo(s),
			ledger:      memStorage.NewLedgerRepo(s),
			idempotency: memStorage.NewIdempotencyRepo(s),
			approvals:   memStorage.NewApprovalRepo(s),
			audit:       memStorage.NewAuditRepo(s),
			transactor:  memStorage.NewTransactor(s),
			health:      memStorage.HealthCheck{},
			close:       func() {},
		}, nil
	default:
		if cfg.Storage.MigrateOnStart {
			if err := pgStorage.Migrate(cfg.Database.DSN(), cfg.Database.DBName, log); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info().Msg("PostgreSQL connected")
		return &storage{
			wallets:     pgStorage.NewWalletRepo(pool),
			ledger:      pgStorage.NewLedgerRepo(pool),
			idempotency: pgStorage.NewIdempotencyRepo(pool),
			approvals:   pgStorage.NewApprovalRepo(pool),
			audit:       pgStorage.NewAuditRepo(pool),
			transactor:  pgStorage.NewTransactor(pool),
			health:      pgStorage.NewHealthCheck(pool),
			close:       pool.Close,
		}, nil
	}
}
