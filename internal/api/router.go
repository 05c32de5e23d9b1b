package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeh237/taskly/internal/app"
	iauth "github.com/zeh237/taskly/internal/auth"
	"github.com/zeh237/taskly/internal/handlers"
	"github.com/zeh237/taskly/internal/middleware"
	"github.com/zeh237/taskly/internal/monitoring"
	"github.com/zeh237/taskly/internal/services"
)

// Dependencies carries the services the HTTP layer delegates to.
type Dependencies struct {
	JWT         *iauth.JWTService
	Sessions    *iauth.SessionService
	Accounts    *services.AccountService
	Projects    *services.ProjectService
	Invitations *services.InvitationService
	Tasks       *services.TaskService
	Audit       *services.AuditService

	// Health is optional; without it /health always reports up.
	Health *monitoring.HealthManager
	// RateStore backs the credential endpoint window. Defaults to an in-process store.
	RateStore middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Sessions == nil:
		return fmt.Errorf("session service must be provided")
	case d.Accounts == nil:
		return fmt.Errorf("account service must be provided")
	case d.Projects == nil:
		return fmt.Errorf("project service must be provided")
	case d.Invitations == nil:
		return fmt.Errorf("invitation service must be provided")
	case d.Tasks == nil:
		return fmt.Errorf("task service must be provided")
	case d.Audit == nil:
		return fmt.Errorf("audit service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestContext())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins...))
	if limits := cfg.Server.RateLimit; limits.RequestsPerSecond > 0 {
		r.Use(middleware.RateLimit(limits.RequestsPerSecond, limits.Burst))
	}
	r.NoRoute(middleware.NotFoundHandler)

	r.GET("/health", handlers.Health(deps.Health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handlers.NewAuthHandler(deps.Accounts, deps.Invitations, deps.Sessions)
	projectHandler := handlers.NewProjectHandler(deps.Projects)
	invitationHandler := handlers.NewInvitationHandler(deps.Invitations, deps.Accounts)
	taskHandler := handlers.NewTaskHandler(deps.Tasks)
	adminHandler := handlers.NewAdminHandler(deps.Accounts, deps.Invitations, deps.Audit)

	// Credential endpoints share a stricter fixed window per client and route.
	rateStore := deps.RateStore
	if rateStore == nil {
		rateStore = middleware.NewMemoryRateStore()
	}
	credentials := []gin.HandlerFunc{}
	if limits := cfg.Server.RateLimit; limits.AuthRequests > 0 && limits.AuthWindow > 0 {
		credentials = append(credentials, middleware.WindowLimit(rateStore, limits.AuthRequests, limits.AuthWindow))
	}

	// Public auth routes
	auth := r.Group("/api/auth", credentials...)
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/verify", authHandler.Verify)
		auth.POST("/otp/resend", authHandler.ResendOTP)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/password/forgot", authHandler.ForgotPassword)
		auth.POST("/password/verify", authHandler.VerifyResetOTP)
		auth.POST("/password/reset", authHandler.ResetPassword)
	}

	// Invitation links work before the invitee signs in.
	public := r.Group("/api/invitations")
	{
		public.GET("/:token", invitationHandler.Preview)
		public.POST("/:token/accept", middleware.OptionalAuth(deps.JWT), invitationHandler.Accept)
	}

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/logout", authHandler.Logout)
	api.POST("/invitations/:token/reject", invitationHandler.Reject)

	projects := api.Group("/projects")
	{
		projects.GET("", projectHandler.List)
		projects.POST("", projectHandler.Create)
		projects.GET("/:id", projectHandler.Get)
		projects.PATCH("/:id", projectHandler.Update)

		projects.GET("/:id/members", projectHandler.ListMembers)
		projects.POST("/:id/members", projectHandler.AddMember)
		projects.DELETE("/:id/members/:memberID", projectHandler.RemoveMember)

		projects.GET("/:id/invitations", invitationHandler.List)
		projects.POST("/:id/invitations", invitationHandler.Create)

		projects.GET("/:id/tasks", taskHandler.List)
		projects.POST("/:id/tasks", taskHandler.Create)
		projects.GET("/:id/tasks/:taskID", taskHandler.Get)
		projects.PATCH("/:id/tasks/:taskID", taskHandler.Update)
		projects.DELETE("/:id/tasks/:taskID", taskHandler.Delete)
	}

	admin := api.Group("/admin", middleware.RequireAdmin())
	{
		admin.POST("/invitations/expire", adminHandler.ExpireInvitations)
		admin.GET("/audit", adminHandler.ListAudit)
	}

	return r, nil
}
