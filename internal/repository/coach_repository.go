package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/entreprinder/connection-service/internal/model"
)

// CoachRepo manages coaches and their active_load counters.  The counter is
// only ever changed by conditional updates so that it cannot pass capacity
// under concurrent assignment.
type CoachRepo struct {
	db *sql.DB
}

func NewCoachRepo(db *sql.DB) *CoachRepo { return &CoachRepo{db: db} }

const coachSelect = `SELECT c.user_id, u.display_name, c.specialization, c.capacity, c.active_load, c.created_at
	FROM coaches c JOIN users u ON u.id = c.user_id`

// Create registers an existing user as a coach.
func (r *CoachRepo) Create(ctx context.Context, userID uint64, specialization string, capacity int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO coaches (user_id, specialization, capacity, active_load, created_at) VALUES (?, ?, ?, 0, ?)`,
		userID, specialization, capacity, at.UTC())
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID loads one coach.
func (r *CoachRepo) GetByID(ctx context.Context, userID uint64) (model.Coach, error) {
	rows, err := r.db.QueryContext(ctx, coachSelect+` WHERE c.user_id = ?`, userID)
	if err != nil {
		return model.Coach{}, err
	}
	coaches, err := scanCoaches(rows)
	if err != nil {
		return model.Coach{}, err
	}
	if len(coaches) == 0 {
		return model.Coach{}, ErrNotFound
	}
	return coaches[0], nil
}

// List returns every coach ordered by id.
func (r *CoachRepo) List(ctx context.Context) ([]model.Coach, error) {
	rows, err := r.db.QueryContext(ctx, coachSelect+` ORDER BY c.user_id`)
	if err != nil {
		return nil, err
	}
	return scanCoaches(rows)
}

// CandidatesTx lists coaches with spare capacity, least loaded first and
// ties broken by id.
func (r *CoachRepo) CandidatesTx(ctx context.Context, tx *sql.Tx) ([]model.Coach, error) {
	rows, err := tx.QueryContext(ctx,
		coachSelect+` WHERE c.active_load < c.capacity ORDER BY c.active_load, c.user_id`)
	if err != nil {
		return nil, err
	}
	return scanCoaches(rows)
}

// ReserveSlotTx increments the coach's load if it is still below capacity.
// It returns false when the slot was taken by a concurrent assignment.
func (r *CoachRepo) ReserveSlotTx(ctx context.Context, tx *sql.Tx, userID uint64) (bool, error) {
	err := affectedOne(tx.ExecContext(ctx,
		`UPDATE coaches SET active_load = active_load + 1 WHERE user_id = ? AND active_load < capacity`,
		userID))
	if errors.Is(err, ErrStale) {
		return false, nil
	}
	return err == nil, err
}

// ReleaseSlotTx decrements the coach's load when an assigned connection
// reaches a terminal status.
func (r *CoachRepo) ReleaseSlotTx(ctx context.Context, tx *sql.Tx, userID uint64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE coaches SET active_load = active_load - 1 WHERE user_id = ? AND active_load > 0`,
		userID)
	return err
}

// UpdateCapacity sets a new capacity.  Lowering it below the current load
// is allowed; no new assignments happen until the load drains.
func (r *CoachRepo) UpdateCapacity(ctx context.Context, userID uint64, capacity int) error {
	err := affectedOne(r.db.ExecContext(ctx, `UPDATE coaches SET capacity = ? WHERE user_id = ?`, capacity, userID))
	if errors.Is(err, ErrStale) {
		return ErrNotFound
	}
	return err
}

func scanCoaches(rows *sql.Rows) ([]model.Coach, error) {
	defer rows.Close()
	out := []model.Coach{}
	for rows.Next() {
		var c model.Coach
		if err := rows.Scan(&c.UserID, &c.DisplayName, &c.Specialization, &c.Capacity, &c.ActiveLoad, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
