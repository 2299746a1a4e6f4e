package router

import (
	"github.com/labstack/echo/v4"

	"github.com/entreprinder/connection-service/internal/handler"
	"github.com/entreprinder/connection-service/internal/middleware"
	"github.com/entreprinder/connection-service/internal/model"
)

// RegisterMember registers member-scoped endpoints under /v1.  All routes
// require a valid JWT and the MEMBER role.  Members file connection
// requests for people they met, answer the ones addressed to them, record
// consent and read what their counterpart disclosed.
func RegisterMember(e *echo.Echo, h *handler.MemberHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		limiter,
		middleware.RequireRole(model.RoleMember),
	)

	// ---- Requests ----
	g.POST("/events/:event_id/requests", h.SubmitRequest)
	g.GET("/requests", h.ListRequests) // ?box=incoming|outgoing
	g.POST("/requests/:id/accept", h.AcceptRequest)
	g.POST("/requests/:id/decline", h.DeclineRequest)
	g.POST("/requests/:id/withdraw", h.WithdrawRequest)

	// ---- Connections ----
	g.GET("/connections", h.ListConnections)
	g.POST("/connections/:id/consent", h.RecordConsent)
	g.POST("/connections/:id/revoke", h.Revoke)
	g.GET("/connections/:id/contact", h.Contact)

	// Connection detail and the relay are shared with the assigned coach;
	// the workflow checks who may see which connection.
	shared := e.Group(
		"/v1/connections",
		middleware.JWTAuth(jwtSecret),
		limiter,
		middleware.RequireRole(model.RoleMember, model.RoleCoach),
	)
	shared.GET("/:id", h.GetConnection)
	shared.GET("/:id/messages", h.ListMessages)
	shared.POST("/:id/messages", h.PostMessage)
}
