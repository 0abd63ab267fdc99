package main

import (
	"context"
	"net/http"
	"time"

	"phone-gateway/internal/auth"
	"phone-gateway/internal/gateway"
	"phone-gateway/internal/httpapi"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Gateway       *gateway.Gateway
	Auth          *auth.Manager
	WebhookSecret string

	// Ready reports whether the store and registry are reachable. Optional.
	Ready func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to the gateway.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := httpapi.Handlers{GW: d.Gateway, WebhookSecret: d.WebhookSecret}
	h.Register(r, auth.IdentifyOptional(d.Auth))
}
