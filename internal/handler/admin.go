package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog"

    "github.com/entreprinder/connection-service/internal/config"
    "github.com/entreprinder/connection-service/internal/middleware"
    "github.com/entreprinder/connection-service/internal/service"
)

// AdminHandler exposes operator endpoints: the attendance feed, the coach
// directory and manual assignment.
type AdminHandler struct {
    WF    *service.Workflow
    Cache config.CacheConfig
    Redis *redis.Client // nil disables cache invalidation
    Log   zerolog.Logger
}

func NewAdminHandler(wf *service.Workflow, cache config.CacheConfig, rdb *redis.Client, log zerolog.Logger) *AdminHandler {
    return &AdminHandler{WF: wf, Cache: cache, Redis: rdb, Log: log}
}

type attendanceReq struct {
    UserID uint64 `json:"user_id" validate:"required"`
}

type registerCoachReq struct {
    UserID         uint64 `json:"user_id" validate:"required"`
    Specialization string `json:"specialization" validate:"max=64"`
    Capacity       int    `json:"capacity" validate:"required,min=1"`
}

type capacityReq struct {
    Capacity int `json:"capacity" validate:"required,min=1"`
}

// ConfirmAttendance handles POST /v1/admin/events/:event_id/attendees.
func (h *AdminHandler) ConfirmAttendance(c echo.Context) error {
    eventID, ok := pathID(c, "event_id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    var req attendanceReq
    if ok, err := bind(c, &req); !ok {
        return err
    }
    ctx, cancel := timeout(c)
    defer cancel()
    a, err := h.WF.ConfirmAttendance(ctx, eventID, req.UserID)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, a)
}

// ListAttendees handles GET /v1/admin/events/:event_id/attendees.
func (h *AdminHandler) ListAttendees(c echo.Context) error {
    eventID, ok := pathID(c, "event_id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    ctx, cancel := timeout(c)
    defer cancel()
    items, err := h.WF.ListAttendees(ctx, eventID)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ListCoaches handles GET /v1/admin/coaches.
func (h *AdminHandler) ListCoaches(c echo.Context) error {
    ctx, cancel := timeout(c)
    defer cancel()
    items, err := h.WF.ListCoaches(ctx)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// RegisterCoach handles POST /v1/admin/coaches.
func (h *AdminHandler) RegisterCoach(c echo.Context) error {
    var req registerCoachReq
    if ok, err := bind(c, &req); !ok {
        return err
    }
    ctx, cancel := timeout(c)
    defer cancel()
    coach, err := h.WF.RegisterCoach(ctx, req.UserID, req.Specialization, req.Capacity)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    h.invalidate(c)
    return c.JSON(http.StatusCreated, coach)
}

// UpdateCoach handles PATCH /v1/admin/coaches/:id.
func (h *AdminHandler) UpdateCoach(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    var req capacityReq
    if ok, err := bind(c, &req); !ok {
        return err
    }
    ctx, cancel := timeout(c)
    defer cancel()
    coach, err := h.WF.UpdateCoachCapacity(ctx, id, req.Capacity)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    h.invalidate(c)
    return c.JSON(http.StatusOK, coach)
}

// Assign handles POST /v1/admin/connections/:id/assign.  A connection
// parked for lack of capacity is answered with 202.
func (h *AdminHandler) Assign(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    ctx, cancel := timeout(c)
    defer cancel()
    conn, err := h.WF.AssignCoach(ctx, id)
    if errors.Is(err, service.ErrNoCapacity) {
        return c.JSON(http.StatusAccepted, conn)
    }
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, conn)
}

// AssignPending handles POST /v1/admin/connections/assign-pending.
func (h *AdminHandler) AssignPending(c echo.Context) error {
    ctx, cancel := timeout(c)
    defer cancel()
    n, err := h.WF.AssignPending(ctx)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"assigned": n})
}

func (h *AdminHandler) invalidate(c echo.Context) {
    if h.Redis == nil || !h.Cache.Enabled {
        return
    }
    if err := middleware.InvalidateCache(c.Request().Context(), h.Cache, h.Redis); err != nil {
        h.Log.Warn().Err(err).Msg("coach directory cache invalidation failed")
    }
}
