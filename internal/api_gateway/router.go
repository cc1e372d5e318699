package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/credit-ledger/internal/api_gateway/handler"
	"github.com/credit-ledger/internal/api_gateway/middleware"
	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/platform/metrics"
	"github.com/gin-gonic/gin"
)

// handlers groups the HTTP handlers the router mounts
type handlers struct {
	wallets      *handler.WalletHandler
	reservations *handler.ReservationHandler
	jobs         *handler.JobHandler
	pricing      *handler.PricingHandler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(logger *slog.Logger, r *gin.Engine, cfg config.MetricsConfig, h handlers) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger))
	if cfg.Enabled {
		r.Use(middleware.Metrics())
	}

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Wallet and ledger operations
		wallets := v1.Group("/wallets")
		{
			wallets.POST("", h.wallets.Provision)
			wallets.GET("/:identity", h.wallets.GetSnapshot)
			wallets.GET("/:identity/ledger", h.wallets.GetLedger)
			wallets.GET("/:identity/history", h.wallets.GetHistory)
			wallets.GET("/:identity/reservations", h.wallets.GetReservations)
			wallets.POST("/:identity/entries", h.wallets.ApplyEntry)
		}

		// Reservation lifecycle
		reservations := v1.Group("/reservations")
		{
			reservations.POST("", h.reservations.Reserve)
			reservations.GET("/:id", h.reservations.GetByID)
			reservations.POST("/:id/finalize", h.reservations.Finalize)
			reservations.POST("/:id/release", h.reservations.Release)
		}

		v1.POST("/jobs/:id/outcome", h.jobs.ReportOutcome)
		v1.GET("/pricing", h.pricing.List)
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	if cfg.Enabled {
		r.GET(cfg.Path, gin.WrapH(metrics.Handler()))
	}
}
