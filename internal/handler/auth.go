package handler

import (
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/rs/zerolog"

    "github.com/entreprinder/connection-service/internal/config"
    "github.com/entreprinder/connection-service/internal/model"
    "github.com/entreprinder/connection-service/internal/repository"
    "github.com/entreprinder/connection-service/internal/utils"
)

// AuthHandler bundles dependencies for auth and profile endpoints.
type AuthHandler struct {
    Cfg    config.Config
    Users  *repository.UserRepo
    Tokens *repository.TokenRepo
    Log    zerolog.Logger
}

func NewAuthHandler(cfg config.Config, u *repository.UserRepo, t *repository.TokenRepo, log zerolog.Logger) *AuthHandler {
    return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Log: log}
}

// ----- DTOs -----

type registerReq struct {
    Email       string `json:"email" validate:"required,email,max=191"`
    Password    string `json:"password" validate:"required,min=8,max=72"`
    DisplayName string `json:"display_name" validate:"required,max=100"`
    Role        string `json:"role" validate:"omitempty,oneof=MEMBER COACH member coach"`
}
type loginReq struct {
    Email    string `json:"email" validate:"required,email"`
    Password string `json:"password" validate:"required"`
}
type refreshReq struct {
    RefreshToken string `json:"refresh_token"`
}
type contactReq struct {
    DisplayName  string `json:"display_name" validate:"required,max=100"`
    Phone        string `json:"phone" validate:"omitempty,max=32,e164"`
    SocialHandle string `json:"social_handle" validate:"omitempty,max=100"`
}

type tokenPart struct {
    Token   string    `json:"token"`
    Expires time.Time `json:"expires"`
}
type userPart struct {
    ID          uint64 `json:"id"`
    Email       string `json:"email"`
    Role        string `json:"role"`
    DisplayName string `json:"display_name"`
}
type authResp struct {
    User    userPart  `json:"user"`
    Access  tokenPart `json:"access"`
    Refresh tokenPart `json:"refresh"`
}

// Register creates a MEMBER (default) or COACH account and returns tokens
// immediately.  ADMIN accounts are only created at bootstrap.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if ok, err := bind(c, &req); !ok {
        return err
    }
    role := strings.ToUpper(strings.TrimSpace(req.Role))
    if role == "" {
        role = model.RoleMember
    }

    ctx, cancel := timeout(c)
    defer cancel()

    uid, err := h.Users.Create(ctx, req.Email, req.Password, role, req.DisplayName, h.Cfg.BcryptCost)
    if err != nil {
        if errors.Is(err, repository.ErrEmailExists) {
            return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
        }
        if errors.Is(err, utils.ErrPasswordTooLong) {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
        }
        return writeError(c, h.Log, err)
    }
    u := model.User{ID: uid, Email: strings.ToLower(strings.TrimSpace(req.Email)), Role: role, DisplayName: strings.TrimSpace(req.DisplayName)}
    return h.issue(c, http.StatusCreated, u)
}

// Login verifies credentials and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if ok, err := bind(c, &req); !ok {
        return err
    }

    ctx, cancel := timeout(c)
    defer cancel()

    u, err := h.Users.GetByEmail(ctx, req.Email)
    if err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
        }
        return writeError(c, h.Log, err)
    }
    if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, req.Password) {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
    }
    return h.issue(c, http.StatusOK, u)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// new pair issued.  A token presented twice only succeeds once.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
    }
    hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

    ctx, cancel := timeout(c)
    defer cancel()

    userID, err := h.Tokens.ValidateRefresh(ctx, hash)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
    }
    if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
        }
        return writeError(c, h.Log, err)
    }
    u, err := h.Users.GetByID(ctx, userID)
    if err != nil || !u.IsActive {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
    }
    return h.issue(c, http.StatusOK, u)
}

// Logout revokes either the refresh_token in the body (one session) or,
// when only a Bearer access token is presented, every session of its user.
func (h *AuthHandler) Logout(c echo.Context) error {
    var uid uint64
    if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
        if claims, err := utils.ParseAccessToken(h.Cfg.JWTSecret, strings.TrimPrefix(auth, "Bearer ")); err == nil {
            uid, _ = claims.UserID()
        }
    }
    var req refreshReq
    _ = c.Bind(&req) // body is optional
    refreshToken := strings.TrimSpace(req.RefreshToken)

    ctx, cancel := timeout(c)
    defer cancel()

    switch {
    case refreshToken != "":
        hash := utils.HashRefreshRaw(refreshToken)
        if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
            return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
        }
        if err := h.Tokens.RevokeByHash(ctx, hash); err != nil && !errors.Is(err, repository.ErrNotFound) {
            return writeError(c, h.Log, err)
        }
        return c.NoContent(http.StatusNoContent)
    case uid != 0:
        if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
            return writeError(c, h.Log, err)
        }
        return c.NoContent(http.StatusNoContent)
    }
    return c.JSON(http.StatusBadRequest, echo.Map{"error": "provide Authorization header or refresh_token"})
}

// Me returns the caller's profile including contact fields.
func (h *AuthHandler) Me(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    ctx, cancel := timeout(c)
    defer cancel()
    u, err := h.Users.GetByID(ctx, uid)
    if err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
        }
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, u)
}

// UpdateContact replaces the caller's display name, phone and social
// handle.  Connections already shared keep the values disclosed at the time.
func (h *AuthHandler) UpdateContact(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var req contactReq
    if ok, err := bind(c, &req); !ok {
        return err
    }
    ctx, cancel := timeout(c)
    defer cancel()
    if err := h.Users.UpdateContact(ctx, uid, req.DisplayName, req.Phone, req.SocialHandle); err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
        }
        return writeError(c, h.Log, err)
    }
    return h.Me(c)
}

// issue creates an access/refresh pair for u and writes the auth response.
func (h *AuthHandler) issue(c echo.Context, status int, u model.User) error {
    access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    if err := h.Tokens.StoreRefresh(c.Request().Context(), u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(status, authResp{
        User:    userPart{ID: u.ID, Email: u.Email, Role: u.Role, DisplayName: u.DisplayName},
        Access:  tokenPart{Token: access.Token, Expires: access.Exp},
        Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
    })
}
