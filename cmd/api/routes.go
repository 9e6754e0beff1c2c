package main

import (
	"database/sql"
	"time"

	"telephony-events/internal/httpapi"
	"telephony-events/pkg/store"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, db *sql.DB, h httpapi.Handlers, subscribe *httpapi.SubscribeHandler, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := store.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public; optionally gated by a shared token).
	r.POST("/v1/webhooks/provider", h.IngestWebhook)

	// Token issuance (public; authenticated by API key in the body).
	r.POST("/v1/auth/token", h.IssueToken)

	// Live subscription. Auth happens inside the handler, before the
	// upgrade, because it must also accept query-parameter tokens.
	r.GET("/v1/subscribe", subscribe.Subscribe)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/calls", h.ListCalls)
		v1.GET("/voicemails", h.ListVoicemails)
		v1.GET("/messages", h.ListMessages)

		reports := v1.Group("/reports")
		{
			reports.GET("/calls", h.CallsSummary)
			reports.GET("/pipeline", h.PipelineStats)
		}
	}
}
