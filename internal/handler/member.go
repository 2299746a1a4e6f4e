package handler

import (
    "context"
    "errors"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"
    "github.com/rs/zerolog"

    "github.com/entreprinder/connection-service/internal/model"
    "github.com/entreprinder/connection-service/internal/service"
)

// MemberHandler serves the attendee side of the workflow: connection
// requests, consent, disclosure and the relay.
type MemberHandler struct {
    WF  *service.Workflow
    Log zerolog.Logger
}

func NewMemberHandler(wf *service.Workflow, log zerolog.Logger) *MemberHandler {
    return &MemberHandler{WF: wf, Log: log}
}

type submitReq struct {
    RecipientID uint64 `json:"recipient_id" validate:"required"`
    Note        string `json:"note"`
}

type consentReq struct {
    Fields []string `json:"fields" validate:"required,min=1,dive,oneof=email phone social"`
}

type messageReq struct {
    Body string `json:"body" validate:"required"`
}

// SubmitRequest handles POST /v1/events/:event_id/requests.  When the
// request completes a mutual match the new connection is handed to coach
// assignment straight away.
func (h *MemberHandler) SubmitRequest(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    eventID, ok := pathID(c, "event_id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    var req submitReq
    if ok, err := bind(c, &req); !ok {
        return err
    }

    ctx, cancel := timeout(c)
    defer cancel()

    res, err := h.WF.SubmitRequest(ctx, uid, req.RecipientID, eventID, req.Note)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    if res.Mutual && res.Connection != nil {
        res.Connection = autoAssign(ctx, h.WF, h.Log, res.Connection)
    }
    return c.JSON(http.StatusCreated, res)
}

// ListRequests handles GET /v1/requests?box=incoming|outgoing.
func (h *MemberHandler) ListRequests(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    incoming := true
    switch c.QueryParam("box") {
    case "", "incoming":
    case "outgoing":
        incoming = false
    default:
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "box must be incoming or outgoing"})
    }
    ctx, cancel := timeout(c)
    defer cancel()
    items, err := h.WF.ListRequests(ctx, uid, incoming)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// AcceptRequest handles POST /v1/requests/:id/accept.
func (h *MemberHandler) AcceptRequest(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    ctx, cancel := timeout(c)
    defer cancel()
    conn, err := h.WF.AcceptRequest(ctx, id, uid)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, autoAssign(ctx, h.WF, h.Log, conn))
}

// DeclineRequest handles POST /v1/requests/:id/decline.
func (h *MemberHandler) DeclineRequest(c echo.Context) error {
    return h.resolve(c, h.WF.DeclineRequest)
}

// WithdrawRequest handles POST /v1/requests/:id/withdraw.
func (h *MemberHandler) WithdrawRequest(c echo.Context) error {
    return h.resolve(c, h.WF.WithdrawRequest)
}

func (h *MemberHandler) resolve(c echo.Context, op func(context.Context, uint64, uint64) error) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    ctx, cancel := timeout(c)
    defer cancel()
    if err := op(ctx, id, uid); err != nil {
        return writeError(c, h.Log, err)
    }
    return c.NoContent(http.StatusNoContent)
}

// ListConnections handles GET /v1/connections.
func (h *MemberHandler) ListConnections(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    ctx, cancel := timeout(c)
    defer cancel()
    items, err := h.WF.ListConnections(ctx, uid)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetConnection handles GET /v1/connections/:id for parties and the coach.
func (h *MemberHandler) GetConnection(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    ctx, cancel := timeout(c)
    defer cancel()
    conn, err := h.WF.GetConnection(ctx, id, uid)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, conn)
}

// RecordConsent handles POST /v1/connections/:id/consent.
func (h *MemberHandler) RecordConsent(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    var req consentReq
    if ok, err := bind(c, &req); !ok {
        return err
    }
    ctx, cancel := timeout(c)
    defer cancel()
    conn, err := h.WF.RecordConsent(ctx, id, uid, req.Fields)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, conn)
}

// Revoke handles POST /v1/connections/:id/revoke.
func (h *MemberHandler) Revoke(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    ctx, cancel := timeout(c)
    defer cancel()
    conn, err := h.WF.Revoke(ctx, id, uid)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, conn)
}

// Contact handles GET /v1/connections/:id/contact.
func (h *MemberHandler) Contact(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    ctx, cancel := timeout(c)
    defer cancel()
    payload, err := h.WF.GetDisclosedContact(ctx, id, uid)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, payload)
}

// ListMessages handles GET /v1/connections/:id/messages?after=&limit=.
func (h *MemberHandler) ListMessages(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    var after uint64
    if s := c.QueryParam("after"); s != "" {
        if after, err = strconv.ParseUint(s, 10, 64); err != nil {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid after"})
        }
    }
    limit := 50
    if s := c.QueryParam("limit"); s != "" {
        n, err := strconv.Atoi(s)
        if err != nil || n < 1 || n > 200 {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be between 1 and 200"})
        }
        limit = n
    }
    ctx, cancel := timeout(c)
    defer cancel()
    items, err := h.WF.ListMessages(ctx, id, uid, after, limit)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// PostMessage handles POST /v1/connections/:id/messages.  Parties and the
// assigned coach may post.
func (h *MemberHandler) PostMessage(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, ok := pathID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    var req messageReq
    if ok, err := bind(c, &req); !ok {
        return err
    }
    ctx, cancel := timeout(c)
    defer cancel()
    msg, err := h.WF.PostMessage(ctx, id, uid, req.Body)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, msg)
}

// autoAssign hands a freshly detected connection to a coach.  Running out
// of coaches is not a failure of the caller's request: the connection is
// parked in awaiting_coach and picked up when capacity frees.
func autoAssign(ctx context.Context, wf *service.Workflow, log zerolog.Logger, conn *model.Connection) *model.Connection {
    assigned, err := wf.AssignCoach(ctx, conn.ID)
    switch {
    case err == nil:
        return assigned
    case errors.Is(err, service.ErrNoCapacity) && assigned != nil:
        return assigned
    default:
        // a concurrent assignment may have won; the connection is unchanged otherwise
        log.Warn().Err(err).Uint64("connection_id", conn.ID).Msg("auto assignment skipped")
        return conn
    }
}
