package handler

import (
	"net/http"

	"sweepstakes-wallet/internal/adapter/http/middleware"
	redisStorage "sweepstakes-wallet/internal/adapter/storage/redis"
	"sweepstakes-wallet/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HTTPMetrics records served requests and exposes the scrape endpoint.
type HTTPMetrics interface {
	middleware.HTTPObserver
	Handler() http.Handler
}

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Processor      ports.TransactionProcessor
	Ledger         ports.LedgerService
	Approvals      ports.ApprovalQueries
	HealthCheckers []ports.HealthChecker
	Metrics        HTTPMetrics // nil = /metrics disabled
	// RateLimits throttles writes per wallet owner; nil disables it.
	RateLimits     *redisStorage.RateLimitStore
	TxLimit        middleware.RateLimitRule
	DecisionLimit  middleware.RateLimitRule
	Logger         zerolog.Logger
	Mode           string // gin mode; empty = release
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// Health check (deep, pings storage and redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// API v1 routes, identity comes from the gateway headers
	v1 := r.Group("/api/v1", middleware.Identity())

	limit := func(group string, rule middleware.RateLimitRule) gin.HandlerFunc {
		if deps.RateLimits == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimits, group, rule, deps.Logger)
	}

	txHandler := NewTransactionHandler(deps.Processor)
	transactions := v1.Group("/transactions", limit("transactions", deps.TxLimit))
	{
		transactions.POST("", txHandler.Submit)
		transactions.POST("/reverse", txHandler.Reverse)
	}

	walletHandler := NewWalletHandler(deps.Processor, deps.Ledger)
	wallets := v1.Group("/wallets/:userId")
	{
		wallets.GET("", walletHandler.GetWallet)
		wallets.PUT("", walletHandler.OpenWallet)
		wallets.GET("/ledger", walletHandler.ListLedger)
		wallets.GET("/reconcile", walletHandler.Reconcile)
	}

	approvalHandler := NewApprovalHandler(deps.Processor, deps.Approvals)
	approvals := v1.Group("/approvals")
	{
		approvals.GET("", approvalHandler.List)
		approvals.GET("/:id", approvalHandler.Get)
		approvals.POST("/:id/approve", limit("decisions", deps.DecisionLimit), approvalHandler.Approve)
		approvals.POST("/:id/reject", limit("decisions", deps.DecisionLimit), approvalHandler.Reject)
	}

	return r
}
