package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/tenantguard/app"
	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.Logging(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	r.Use(deps.Metrics.Instrument)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			middleware.TenantIDHeader, middleware.TenantSlugHeader,
		},
		ExposedHeaders: []string{
			"Link", "X-Request-ID",
			middleware.TenantIDHeader, middleware.TenantSlugHeader,
			middleware.RateLimitLimitHeader, middleware.RateLimitRemainingHeader,
			middleware.RateLimitResetHeader, middleware.RetryAfterHeader,
		},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	if deps.Metrics != nil {
		r.Handle(cfg.Observability.MetricsPath, deps.Metrics.Handler())
	}

	r.Get("/.well-known/jwks.json", deps.JWKSHandler.HandleJWKS)

	authMW := deps.AuthMiddleware
	policy := deps.PolicyMiddleware

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authMW.PublicTenant, policy.RateLimit).Post("/login", deps.AuthHandler.HandleLogin)
			r.With(policy.RateLimit).Post("/refresh", deps.AuthHandler.HandleRefresh)

			r.Group(func(r chi.Router) {
				r.Use(authMW.RequireTenant)
				r.Use(policy.RateLimit)
				r.Post("/logout", deps.AuthHandler.HandleLogout)
				r.Get("/me", deps.AuthHandler.HandleMe)
			})
		})

		r.With(authMW.OptionalTenant, policy.RateLimit).Get("/tenant/current", deps.TenantHandler.GetCurrent)

		// Everything below requires an authenticated caller bound to its tenant
		r.Group(func(r chi.Router) {
			r.Use(authMW.RequireTenant)
			r.Use(policy.RateLimit)

			// Role management
			r.Route("/roles", func(r chi.Router) {
				r.With(policy.RequirePermission("role", "read")).Get("/", deps.RoleHandler.ListRoles)
				r.With(policy.RequirePermission("role", "create")).Post("/", deps.RoleHandler.CreateRole)
				r.With(policy.RequirePermission("role", "read")).Get("/{id}", deps.RoleHandler.GetRole)
				r.With(policy.RequirePermission("role", "update")).Put("/{id}", deps.RoleHandler.UpdateRole)
				r.With(policy.RequirePermission("role", "delete")).Delete("/{id}", deps.RoleHandler.DeleteRole)
				r.With(policy.RequirePermission("role", "create")).Post("/{id}/clone", deps.RoleHandler.CloneRole)
			})
			r.With(policy.RequirePermission("role", "read")).Get("/permissions", deps.RoleHandler.ListPermissions)

			// Role assignment
			r.Route("/users/{userId}", func(r chi.Router) {
				r.With(policy.RequirePermission("user", "read")).Get("/roles", deps.AssignmentHandler.ListUserRoles)
				r.With(policy.RequirePermission("role", "assign")).Post("/roles", deps.AssignmentHandler.AssignRole)
				r.With(policy.RequirePermission("role", "assign")).Delete("/roles/{roleId}", deps.AssignmentHandler.UnassignRole)
				r.With(policy.RequirePermission("user", "read")).Get("/permissions", deps.AssignmentHandler.UserPermissions)
			})
			r.With(policy.RequirePermission("role", "assign")).Post("/assignments/bulk", deps.AssignmentHandler.BulkAssign)

			// Audit trail
			r.Route("/audit", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(policy.RequirePermission("audit", "read"))
					r.Get("/logs", deps.AuditHandler.ListLogs)
					r.Get("/logs/{id}", deps.AuditHandler.GetLog)
					r.Get("/stats", deps.AuditHandler.GetStats)
					r.Get("/recent", deps.AuditHandler.GetRecent)
				})
				r.With(policy.RequirePermission("audit", "export")).Get("/export", deps.AuditHandler.Export)
				r.With(
					policy.RequireRole("admin", "super_admin"),
					policy.RequirePermission("audit", "archive"),
				).Post("/archive", deps.AuditHandler.Archive)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "", "endpoint not found")
	})

	return r
}
