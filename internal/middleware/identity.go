package middleware

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// subject identifies the caller for rate limiting: "u<id>" once JWTAuth
// has run, otherwise the client IP so anonymous auth endpoints do not share
// one bucket.
func subject(c echo.Context) string {
    if id, ok := c.Get(ctxUserID).(uint64); ok && id != 0 {
        return "u" + strconv.FormatUint(id, 10)
    }
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    return "ip:" + ip
}
