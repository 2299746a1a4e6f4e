package router

import (
	"github.com/labstack/echo/v4"

	"github.com/entreprinder/connection-service/internal/handler"
	"github.com/entreprinder/connection-service/internal/middleware"
	"github.com/entreprinder/connection-service/internal/model"
)

// RegisterCoach registers the coach review queue under /v1/coach.  All
// routes require a valid JWT and the COACH role.
func RegisterCoach(e *echo.Echo, h *handler.CoachHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/coach",
		middleware.JWTAuth(jwtSecret),
		limiter,
		middleware.RequireRole(model.RoleCoach),
	)
	g.GET("/queue", h.Queue) // ?active=false includes finished ones
	g.POST("/connections/:id/introduce", h.Introduce)
	g.POST("/connections/:id/decline", h.Decline)
}
