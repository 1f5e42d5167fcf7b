package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/session-auth/internal/api/http/handlers"
	"github.com/spec-kit/session-auth/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health *handlers.HealthHandler
	Auth   *handlers.AuthHandler
	Guard  *auth.Guard
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/registration", cfg.Auth.Registration)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh-token", cfg.Auth.RefreshToken)

	protected := authGroup.Group("", cfg.Guard.Handle)
	protected.Get("/profile", cfg.Auth.Profile)
}
