package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"callbridge/internal/httpapi"
	"callbridge/internal/session"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, legWebhook session.WebhookHandler, provider session.Provider) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := provider.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "provider": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Webhooks are token-verified inside the handlers.
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/provider/events", legWebhook.HandleLegEvent)
		webhooks.POST("/driver/events", h.DriverEvent)
	}

	v1 := r.Group("/v1")
	{
		calls := v1.Group("/calls")
		{
			calls.POST("/outbound", h.OutboundCall)
			calls.POST("/outbound-with-escalation", h.OutboundCallWithEscalation)
		}

		v1.POST("/bulk/send", h.BulkSend)

		reports := v1.Group("/reports")
		{
			reports.GET("/calls", h.CallsReport)
		}
	}
}
