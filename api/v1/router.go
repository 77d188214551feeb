package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/api/v1/identities"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/api/v1/middleware"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/api/v1/orders"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/api/v1/trustbundle"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/acmeclient"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certstore"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/httpx"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/identity"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/rotation"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/trust"
)

// Deps carries the services the API layer exposes
type Deps struct {
	Identities *identity.Service
	Store      *certstore.Store
	Orders     *acmeclient.OrderService
	Scheduler  *rotation.Scheduler
	Trust      *trust.Configurator
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, deps *Deps) {
	v1 := r.Group("/api/v1")
	{
		// Public routes
		v1.GET("/healthz", healthzHandler)

		// Protected routes (operator token required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			identitiesHandler := identities.NewHandler(deps.Identities, deps.Store, deps.Scheduler, deps.Trust)
			identitiesGroup := protected.Group("/identities")
			{
				identitiesGroup.GET("", identitiesHandler.List)
				identitiesGroup.POST("/:name/issue", identitiesHandler.Issue)
				identitiesGroup.POST("/:name/reset", identitiesHandler.Reset)
				identitiesGroup.GET("/:name/material", identitiesHandler.Material)
				identitiesGroup.GET("/:name/versions", identitiesHandler.Versions)
			}

			ordersHandler := orders.NewHandler(deps.Orders)
			protected.GET("/orders", ordersHandler.List)

			trustHandler := trustbundle.NewHandler(deps.Trust)
			trustGroup := protected.Group("/trust")
			{
				trustGroup.GET("/bundle", trustHandler.Bundle)
				trustGroup.POST("/refresh", trustHandler.Refresh)
			}
		}
	}
}

// healthzHandler reports process liveness
func healthzHandler(c *gin.Context) {
	httpx.OK(c, gin.H{"ok": true})
}
