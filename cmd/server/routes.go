package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/middleware"
	"github.com/huangang/claimwatch/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) *middleware.RateLimiter {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.AllowedOrigins))

	// Rate limiter for webhook routes
	webhookLimiter := middleware.NewRateLimiter(10, 20)

	r.GET("/health", svc.healthHandler.CheckHealth)

	r.POST("/webhook/github", webhookLimiter.Middleware(), svc.webhookHandler.HandleGitHub)

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/login", svc.authHandler.Login)
			auth.GET("/config", svc.authHandler.Config)
			auth.GET("/me", middleware.AuthRequired(), svc.authHandler.Me)
		}

		// Read-only views (public)
		api.GET("/events/assignments", svc.sseHandler.StreamAssignmentEvents)
		api.GET("/policy", svc.policyHandler.Get)
		api.GET("/policy/countries", svc.policyHandler.Countries)
		api.GET("/assignments", svc.assignmentHandler.List)
		api.GET("/assignments/:id", svc.assignmentHandler.Get)
		api.GET("/assignments/:id/activity", svc.assignmentHandler.Activity)
		api.GET("/assignments/:id/notifications", svc.notificationHandler.ListForAssignment)
		api.GET("/notifications", svc.notificationHandler.List)
		api.GET("/monitor/report", svc.monitorHandler.Report)

		// Maintainer actions
		maint := api.Group("")
		maint.Use(middleware.AuthRequired(), middleware.MaintainerRequired(), middleware.AuditLog())
		{
			maint.POST("/assignments", svc.assignmentHandler.Create)
			maint.POST("/assignments/:id/mark-active", svc.assignmentHandler.MarkActive)
			maint.POST("/assignments/:id/extend", svc.assignmentHandler.Extend)
			maint.POST("/assignments/:id/whitelist", svc.assignmentHandler.Whitelist)
			maint.DELETE("/assignments/:id/whitelist", svc.assignmentHandler.Unwhitelist)
			maint.POST("/assignments/:id/check", svc.assignmentHandler.Check)
			maint.POST("/monitor/run", svc.monitorHandler.Run)
		}

		// Admin
		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			admin.GET("/llm-configs", svc.llmConfigHandler.List)
			admin.GET("/llm-configs/:id", svc.llmConfigHandler.GetByID)
			admin.POST("/llm-configs", svc.llmConfigHandler.Create)
			admin.PUT("/llm-configs/:id", svc.llmConfigHandler.Update)
			admin.DELETE("/llm-configs/:id", svc.llmConfigHandler.Delete)
			admin.POST("/llm-configs/:id/test", svc.llmConfigHandler.Test)

			admin.GET("/im-bots", svc.imBotHandler.List)
			admin.GET("/im-bots/:id", svc.imBotHandler.GetByID)
			admin.POST("/im-bots", svc.imBotHandler.Create)
			admin.PUT("/im-bots/:id", svc.imBotHandler.Update)
			admin.DELETE("/im-bots/:id", svc.imBotHandler.Delete)
			admin.POST("/im-bots/:id/test", svc.imBotHandler.Test)
		}
	}
	return webhookLimiter
}
