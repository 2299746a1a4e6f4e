package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/rs/zerolog"

    "github.com/entreprinder/connection-service/internal/service"
)

// CoachHandler serves the coach review queue.
type CoachHandler struct {
    WF  *service.Workflow
    Log zerolog.Logger
}

func NewCoachHandler(wf *service.Workflow, log zerolog.Logger) *CoachHandler {
    return &CoachHandler{WF: wf, Log: log}
}

type introduceReq struct {
    Text string `json:"text" validate:"required"`
}

type coachDeclineReq struct {
    Reason string `json:"reason" validate:"max=500"`
}

// Queue handles GET /v1/coach/queue.  ?active=false includes
// connections that already reached a terminal status.
func (h *CoachHandler) Queue(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    activeOnly := c.QueryParam("active") != "false"
    ctx, cancel := timeout(c)
    defer cancel()
    items, err := h.WF.CoachQueue(ctx, uid, activeOnly)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Introduce handles POST /v1/coach/connections/:id/introduce.
func (h *CoachHandler) Introduce(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    var req introduceReq
    if ok, err := bind(c, &req); !ok {
        return err
    }
    ctx, cancel := timeout(c)
    defer cancel()
    conn, err := h.WF.Introduce(ctx, id, uid, req.Text)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, conn)
}

// Decline handles POST /v1/coach/connections/:id/decline.
func (h *CoachHandler) Decline(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    var req coachDeclineReq
    if ok, err := bind(c, &req); !ok {
        return err
    }
    ctx, cancel := timeout(c)
    defer cancel()
    conn, err := h.WF.CoachDecline(ctx, id, uid, req.Reason)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, conn)
}
