package model

import "time"

// Roles recognised by the role middleware.
const (
    RoleMember = "MEMBER"
    RoleCoach  = "COACH"
    RoleAdmin  = "ADMIN"
)

// User represents an application user record as stored in the `users`
// table.  Phone and SocialHandle are contact fields that may be disclosed
// to a connection counterpart; Email doubles as the login identifier.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – MEMBER, COACH or ADMIN.
//  DisplayName  – name shown to counterparts and coaches.
//  Phone        – optional phone number.
//  SocialHandle – optional social profile handle.
//  IsActive     – whether the account is active.
type User struct {
    ID           uint64    `json:"id"`
    Email        string    `json:"email"`
    PasswordHash string    `json:"-"`
    Role         string    `json:"role"`
    DisplayName  string    `json:"display_name"`
    Phone        string    `json:"phone,omitempty"`
    SocialHandle string    `json:"social_handle,omitempty"`
    IsActive     bool      `json:"is_active"`
    CreatedAt    time.Time `json:"created_at"`
    UpdatedAt    time.Time `json:"updated_at"`
}

// ContactValue returns the user's current value for a contact field.
func (u User) ContactValue(f ContactField) string {
    switch f {
    case FieldEmail:
        return u.Email
    case FieldPhone:
        return u.Phone
    case FieldSocial:
        return u.SocialHandle
    }
    return ""
}

// RefreshToken models an entry in the `refresh_tokens` table.  The plain
// token is never stored; only its SHA‑256 hash.
type RefreshToken struct {
    ID        uint64     // refresh_tokens.id
    UserID    uint64     // refresh_tokens.user_id
    TokenHash string     // refresh_tokens.token_hash
    ExpiresAt time.Time  // refresh_tokens.expires_at
    RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
    CreatedAt time.Time  // refresh_tokens.created_at
}
