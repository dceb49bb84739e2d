package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicworks/civic-issues/internal/api/http/handlers"
	"github.com/civicworks/civic-issues/internal/api/ws"
	"github.com/civicworks/civic-issues/internal/auth"
	"github.com/civicworks/civic-issues/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Issues         *handlers.IssuesHandler
	AdminIssues    *handlers.AdminIssuesHandler
	Socket         *ws.Handler
	AuthMiddleware *auth.AuthMiddleware
	Gatherer       prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	if cfg.Socket != nil {
		app.Use("/ws", cfg.Socket.RequireUpgrade)
		app.Get("/ws", cfg.Socket.Serve())
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	protected.Get("/auth/me", cfg.Auth.Me)
	protected.Get("/categories", cfg.Issues.ListCategories)
	protected.Post("/issues", cfg.Issues.CreateIssue)
	protected.Get("/issues/mine", cfg.Issues.ListMine)
	protected.Get("/issues/:ref", cfg.Issues.GetIssue)
	protected.Get("/issues/:id/events", cfg.Issues.ListEvents)
	protected.Post("/issues/:id/comments", cfg.Issues.AddComment)

	admin := protected.Group("/admin", auth.RequireStaff())
	admin.Get("/issues", cfg.AdminIssues.ListIssues)
	admin.Patch("/issues/:id/status", cfg.AdminIssues.UpdateStatus)
	admin.Patch("/issues/:id/assign", auth.RequireRole(domain.RoleSupervisor, domain.RoleAdmin), cfg.AdminIssues.Assign)
	admin.Post("/issues/:id/escalate", cfg.AdminIssues.Escalate)
	admin.Post("/issues/:id/duplicate", auth.RequireRole(domain.RoleSupervisor, domain.RoleAdmin), cfg.AdminIssues.MarkDuplicate)
	admin.Get("/users", auth.RequireRole(domain.RoleSupervisor, domain.RoleAdmin), cfg.Auth.ListUsers)
	admin.Post("/users", auth.RequireRole(domain.RoleAdmin), cfg.Auth.CreateUser)
}
