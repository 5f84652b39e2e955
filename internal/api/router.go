package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/app"
	iauth "github.com/steveterryp/copov3/internal/auth"
	"github.com/steveterryp/copov3/internal/authz"
	"github.com/steveterryp/copov3/internal/handlers"
	"github.com/steveterryp/copov3/internal/middleware"
	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/internal/services"
)

// Services carries the constructed service graph into the router.
type Services struct {
	Sessions  *iauth.SessionService
	Users     *services.UserService
	Teams     *services.TeamService
	Rules     *services.RuleService
	Statuses  *services.StatusService
	Audit     *services.AuditService
	Evaluator *authz.Evaluator
}

// NewRouter builds the Gin engine, wires middleware and registers core routes.
func NewRouter(db *gorm.DB, cfg *app.Config, svc Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svc.Sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if svc.Evaluator == nil {
		return nil, fmt.Errorf("permission evaluator must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(100, time.Minute))

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	cookies := middleware.CookieOptions{
		Domain: cfg.Auth.Cookies.Domain,
		Secure: cfg.Auth.Cookies.Secure,
	}

	authHandler, err := handlers.NewAuthHandler(svc.Users, svc.Sessions, svc.Audit, cookies)
	if err != nil {
		return nil, err
	}

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	requireAuth := middleware.Auth(svc.Sessions, cookies)

	api := r.Group("/api")
	api.Use(requireAuth)

	// Authenticated auth routes
	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/logout", authHandler.Logout)

	evaluator := svc.Evaluator
	policy := authz.NewPolicy(authz.DefaultRoutes)

	// PoV lifecycle
	statusHandler, err := handlers.NewStatusHandler(svc.Statuses)
	if err != nil {
		return nil, err
	}
	povs := api.Group("/povs")
	{
		povs.GET("/:id/status", middleware.RequirePermission(evaluator, authz.ResourcePoV, "view"), statusHandler.AvailableTransitions)
		povs.POST("/:id/status", middleware.RequirePermission(evaluator, authz.ResourcePoV, "transition"), statusHandler.Transition)
	}

	// Teams
	teamHandler, err := handlers.NewTeamHandler(svc.Teams)
	if err != nil {
		return nil, err
	}
	teams := api.Group("/teams")
	teams.Use(middleware.RequireRole(models.RoleAdmin))
	{
		teams.POST("", teamHandler.Create)
		teams.POST("/:id/members", teamHandler.AddMember)
		teams.DELETE("/:id/members/:userId", teamHandler.RemoveMember)
	}

	// Users
	userHandler, err := handlers.NewUserHandler(svc.Users)
	if err != nil {
		return nil, err
	}
	users := api.Group("/users")
	users.Use(middleware.RequireRole(models.RoleAdmin))
	{
		users.POST("", userHandler.Create)
		users.PATCH("/:id/role", userHandler.ChangeRole)
		users.PATCH("/:id/status", userHandler.SetStatus)
	}

	// Permission rules and queries
	permHandler, err := handlers.NewPermissionHandler(svc.Rules, evaluator, policy)
	if err != nil {
		return nil, err
	}
	api.POST("/permissions/check", permHandler.Check)
	api.GET("/permissions/me", permHandler.MyRoles)

	perms := api.Group("/permissions")
	perms.Use(middleware.RequireRole(models.RoleSuperAdmin))
	{
		perms.GET("", permHandler.ListRules)
		perms.PUT("", permHandler.UpsertRule)
		perms.DELETE("/:id", permHandler.DeleteRule)
	}

	// Audit trail
	auditHandler, err := handlers.NewAuditHandler(svc.Audit)
	if err != nil {
		return nil, err
	}
	api.GET("/audit", middleware.RequireRole(models.RoleAdmin), auditHandler.List)

	return r, nil
}
