package main

import (
	"ads-console/internal/httpapi"
	"ads-console/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireAccount())
	{
		// Mutations: operators change entities; analysts are read-only.
		mutations := v1.Group("/mutations")
		mutations.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAdmin))
		{
			mutations.POST("", h.SubmitMutation)
			mutations.POST("/batch", h.SubmitBatch)
		}

		// Audit trail: every authenticated role can read its own account.
		auditGroup := v1.Group("/audit")
		auditGroup.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAnalyst, rbac.RoleAdmin))
		{
			auditGroup.GET("", h.ListAudit)
			auditGroup.GET("/export", h.ExportAudit)
			auditGroup.GET("/correlation/:id", h.GetByCorrelation)
		}
	}
}
