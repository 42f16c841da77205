package handler

import (
	"time"

	"settlement/internal/config"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(TimeoutMiddleware(time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second))

	api := r.Group("/api/v1")
	{
		api.POST("/payments/confirmed", h.ConfirmPayment)

		orders := api.Group("/orders")
		{
			orders.GET("", h.ListOrders)
			orders.GET("/:order_id", h.GetOrder)
			orders.POST("/:order_id/split", h.ResplitOrder)
			orders.POST("/:order_id/rollup", h.RecomputeRollup)
		}

		api.POST("/sub-orders/:id/status", h.UpdateSubOrderStatus)
		api.GET("/payouts/:payout_no", h.GetPayout)

		sellers := api.Group("/sellers/:seller_id")
		{
			sellers.GET("/balance", h.GetSellerBalance)
			sellers.GET("/ledger", h.ListSellerLedger)
			sellers.GET("/earnings", h.ListSellerEarnings)
			sellers.GET("/earnings/export", h.ExportSellerEarnings)
			sellers.GET("/sub-orders", h.ListSellerSubOrders)
			sellers.GET("/payouts", h.ListSellerPayouts)
			sellers.POST("/payouts", h.RequestPayout)
		}

		// 鉴权由网关负责
		admin := api.Group("/admin")
		{
			admin.GET("/payouts", h.ListPayouts)
			admin.GET("/payouts/export", h.ExportPayouts)
			admin.POST("/payouts/:payout_no/approve", h.ApprovePayout)
			admin.POST("/payouts/:payout_no/reject", h.RejectPayout)
			admin.POST("/payouts/:payout_no/complete", h.CompletePayout)

			admin.GET("/settings", h.GetSettings)
			admin.PUT("/settings", h.UpdateSettings)

			admin.GET("/reconciliation", h.ListReconciliation)
			admin.POST("/reconciliation/:id/resolve", h.ResolveReconciliation)
			admin.GET("/earnings/needs-audit", h.ListAuditEarnings)
			admin.GET("/sellers/:seller_id/ledger-check", h.CheckSellerLedger)

			admin.POST("/jobs/release-earnings", h.ReleaseEarnings)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
