package handler // handler defines http handlers

import (
    "context"
    "errors"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/rs/zerolog"

    "github.com/entreprinder/connection-service/internal/service"
)

// requestTimeout bounds the database work of a single request.
const requestTimeout = 5 * time.Second

// getUserID extracts the user_id set by JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
    switch t := c.Get("user_id").(type) {
    case uint64:
        if t != 0 {
            return t, nil
        }
    case string:
        if n, err := strconv.ParseUint(t, 10, 64); err == nil && n != 0 {
            return n, nil
        }
    }
    return 0, errors.New("invalid user_id in context")
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
    n, err := strconv.ParseUint(c.Param(name), 10, 64)
    return n, err == nil && n != 0
}

func timeout(c echo.Context) (context.Context, context.CancelFunc) {
    return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// bind decodes and validates the body into v, answering 400 itself on
// failure.  The returned bool reports whether the handler may continue.
func bind(c echo.Context, v any) (bool, error) {
    if err := c.Bind(v); err != nil {
        return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if err := c.Validate(v); err != nil {
        return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "message": err.Error()})
    }
    return true, nil
}

// errorStatus maps workflow errors onto HTTP statuses and stable codes.
var errorStatus = []struct {
    err    error
    status int
    code   string
}{
    {service.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
    {service.ErrNotFound, http.StatusNotFound, "not_found"},
    {service.ErrSelfRequest, http.StatusUnprocessableEntity, "self_request"},
    {service.ErrNotAttendee, http.StatusForbidden, "not_attendee"},
    {service.ErrNotRecipient, http.StatusForbidden, "not_recipient"},
    {service.ErrNotParty, http.StatusForbidden, "not_party"},
    {service.ErrNotAuthorized, http.StatusForbidden, "not_authorized"},
    {service.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
    {service.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
    {service.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
    {service.ErrNotShared, http.StatusConflict, "not_shared"},
    {service.ErrConflict, http.StatusConflict, "conflict"},
}

// writeError renders err.  Unknown errors are logged and hidden behind a 500.
func writeError(c echo.Context, log zerolog.Logger, err error) error {
    for _, m := range errorStatus {
        if errors.Is(err, m.err) {
            return c.JSON(m.status, echo.Map{"error": m.code, "message": err.Error()})
        }
    }
    log.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Path()).Msg("request failed")
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
