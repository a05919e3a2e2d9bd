package routes

import (
	"github.com/gin-gonic/gin"

	"waqf-reconciliation-backend/internal/config"
	handler "waqf-reconciliation-backend/internal/handlers"
	"waqf-reconciliation-backend/internal/middleware"
)

type Handlers struct {
	Reconciliation *handler.ReconciliationHandler
	Ledger         *handler.LedgerHandler
	Distribution   *handler.DistributionHandler
}

func RegisterRoutes(r *gin.Engine, h Handlers, rateLimit config.RateLimitConfig) {
	r.Use(middleware.RequestLogger())

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api.Use(middleware.RateLimit(rateLimit))

	// Statement intake
	statements := api.Group("/statements")
	statements.POST("", h.Reconciliation.ImportStatement)
	statements.POST("/parse", h.Reconciliation.ParseStatement)

	// Reconciliation sessions
	sessions := api.Group("/sessions")
	sessions.GET("", h.Reconciliation.ListSessions)
	sessions.GET("/:id", h.Reconciliation.GetSession)
	sessions.POST("/:id/auto-match", h.Reconciliation.AutoMatch)
	sessions.GET("/:id/transactions/:txId/candidates", h.Reconciliation.Candidates)
	sessions.POST("/:id/transactions/:txId/unmatch", h.Reconciliation.Unmatch)
	sessions.POST("/:id/matches", h.Reconciliation.ConfirmMatch)
	sessions.POST("/:id/reconciling-items", h.Reconciliation.MarkReconcilingItem)
	sessions.POST("/:id/reconciling-items/:itemId/clear", h.Reconciliation.ClearReconcilingItem)
	sessions.POST("/:id/adjustments", h.Reconciliation.RecordAdjustment)
	sessions.POST("/:id/close", h.Reconciliation.Close)

	// Ledger
	ledger := api.Group("/ledger")
	{
		ledger.GET("/entries", h.Ledger.Search)
		ledger.POST("/entries", h.Ledger.CreateEntries)
		ledger.POST("/upload", h.Ledger.Upload)
	}

	// Beneficiary distributions
	dist := api.Group("/distributions")
	dist.GET("", h.Distribution.List)
	dist.POST("", h.Distribution.Create)
	dist.POST("/upload", h.Distribution.Upload)
	dist.GET("/:id", h.Distribution.Get)
	dist.POST("/:id/start", h.Distribution.Start)
	dist.POST("/:id/pause", h.Distribution.Pause)
	dist.POST("/:id/resume", h.Distribution.Resume)
	dist.POST("/:id/retry", h.Distribution.Retry)
}
