package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/entreprinder/connection-service/internal/model"
	"github.com/entreprinder/connection-service/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

var ErrEmailExists = errors.New("email already exists")

const userCols = "id,email,password_hash,role,display_name,phone,social_handle,is_active,created_at,updated_at"

// Create inserts user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, email, password, role, displayName string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, role, display_name, created_at, updated_at) VALUES (?,?,?,?,?,?)",
		email, hash, role, strings.TrimSpace(displayName), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userCols+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return getUser(ctx, r.DB, id)
}

// GetByIDTx fetches a user inside an open transaction.  The disclosure
// snapshot uses it so contact values are read at the moment of sharing.
func (r *UserRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.User, error) {
	return getUser(ctx, tx, id)
}

// UpdateContact replaces the user's display name, phone and social handle.
// Email is the login identifier and is not editable here.
func (r *UserRepo) UpdateContact(ctx context.Context, id uint64, displayName, phone, social string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET display_name=?, phone=?, social_handle=?, updated_at=? WHERE id=?",
		strings.TrimSpace(displayName), strings.TrimSpace(phone), strings.TrimSpace(social), time.Now().UTC(), id)
	if err := affectedOne(res, err); err != nil {
		if errors.Is(err, ErrStale) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func getUser(ctx context.Context, q querier, id uint64) (model.User, error) {
	return scanUser(q.QueryRowContext(ctx, "SELECT "+userCols+" FROM users WHERE id=? LIMIT 1", id))
}

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.DisplayName,
		&u.Phone, &u.SocialHandle, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, notFound(err)
}
