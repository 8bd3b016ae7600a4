package httpapi

import (
	"collections-orchestrator/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the authenticated API on g. The caller installs authentication
// before calling; role checks are applied per group here.
func (h Handlers) Register(g *gin.RouterGroup) {
	g.Use(ActorMiddleware())

	staff := rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleSupervisor)
	supervisors := rbac.RequireAnyRole(rbac.RoleSupervisor)
	integrations := rbac.RequireAnyRole(rbac.RoleIntegration)
	feeds := rbac.RequireAnyRole(rbac.RoleIntegration, rbac.RoleSupervisor)

	items := g.Group("/work-items")
	{
		items.POST("", feeds, h.EnqueueWorkItem)
		items.GET("/:id", staff, h.GetWorkItem)
		items.POST("/:id/call-started", integrations, h.CallStarted)
		items.POST("/:id/call-outcome", integrations, h.CallOutcome)
		items.POST("/:id/channel-outcome", integrations, h.ChannelOutcome)
	}
	g.POST("/signals", integrations, h.Signal)

	g.GET("/queue", staff, h.Queue)
	g.GET("/dashboard", staff, h.Dashboard)
	g.GET("/reports/attempts", supervisors, h.AttemptSummary)

	ag := g.Group("/agents")
	{
		ag.GET("", staff, h.ListAgents)
		ag.PUT("/:id", supervisors, h.PutAgent)
		ag.POST("/:id/status", staff, h.SetAgentStatus)
	}

	admin := g.Group("/admin")
	admin.Use(supervisors)
	{
		admin.GET("/sequence", h.GetSequence)
		admin.PUT("/sequence", h.PutSequence)
		admin.PUT("/pins/:accountId", h.PutPin)
		admin.DELETE("/pins/:accountId", h.DeletePin)
	}
}
