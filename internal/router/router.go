package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	"github.com/entreprinder/connection-service/internal/handler"
	"github.com/entreprinder/connection-service/internal/middleware"
	"github.com/entreprinder/connection-service/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterAuth registers authentication and profile routes.  Register,
// login, refresh and logout live under /v1/auth and do not need a session;
// the profile lives under /v1/me.  limiter guards the unauthenticated
// endpoints by client IP.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", limiter)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh) // rotates the refresh token
	g.POST("/logout", a.Logout)

	me := e.Group("/v1/me",
		middleware.JWTAuth(jwtSecret),
		limiter,
		middleware.RequireRole(model.RoleMember, model.RoleCoach, model.RoleAdmin),
	)
	me.GET("", a.Me)
	me.PATCH("/contact", a.UpdateContact)
}
