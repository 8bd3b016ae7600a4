package main

import (
	"net/http"

	"collections-orchestrator/internal/auth"
	"collections-orchestrator/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks authenticate with X-Twilio-Signature instead of a bearer token.
	r.POST(telephony.BridgePath, a.webhooks.HandleBridge)
	r.POST(telephony.StatusCallbackPath, a.webhooks.HandleStatus)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.auth))
	a.handlers.Register(v1)
}
