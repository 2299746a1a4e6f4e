package router

import (
	"github.com/labstack/echo/v4"

	"github.com/entreprinder/connection-service/internal/handler"
	"github.com/entreprinder/connection-service/internal/middleware"
	"github.com/entreprinder/connection-service/internal/model"
)

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.  cache is
// mounted only on the coach directory listing, which holds no personal
// data beyond coach names.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string, limiter, cache echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		limiter,
		middleware.RequireRole(model.RoleAdmin),
	)

	// ---- Attendance feed ----
	g.POST("/events/:event_id/attendees", h.ConfirmAttendance)
	g.GET("/events/:event_id/attendees", h.ListAttendees)

	// ---- Coaches ----
	g.GET("/coaches", h.ListCoaches, cache)
	g.POST("/coaches", h.RegisterCoach)
	g.PATCH("/coaches/:id", h.UpdateCoach)

	// ---- Assignment ----
	g.POST("/connections/:id/assign", h.Assign)
	g.POST("/connections/assign-pending", h.AssignPending)
}
