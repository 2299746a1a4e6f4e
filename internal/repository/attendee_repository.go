package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/entreprinder/connection-service/internal/model"
)

// AttendeeRepo reads and records confirmed event attendance.
type AttendeeRepo struct {
	db *sql.DB
}

func NewAttendeeRepo(db *sql.DB) *AttendeeRepo { return &AttendeeRepo{db: db} }

// Confirm records that the user attended the event.  Confirming twice is
// a no-op that returns the original row, so the check-in feed can replay.
func (r *AttendeeRepo) Confirm(ctx context.Context, eventID, userID uint64, at time.Time) (model.Attendee, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO attendees (event_id, user_id, confirmed_at) VALUES (?, ?, ?)`,
		eventID, userID, at.UTC())
	if err != nil && !isUniqueViolation(err) {
		return model.Attendee{}, err
	}
	var a model.Attendee
	err = r.db.QueryRowContext(ctx,
		`SELECT id, event_id, user_id, confirmed_at FROM attendees WHERE event_id = ? AND user_id = ?`,
		eventID, userID).Scan(&a.ID, &a.EventID, &a.UserID, &a.ConfirmedAt)
	return a, notFound(err)
}

// AttendedTx reports whether every listed user is a confirmed attendee of
// the event.
func (r *AttendeeRepo) AttendedTx(ctx context.Context, tx *sql.Tx, eventID uint64, userIDs ...uint64) (bool, error) {
	for _, uid := range userIDs {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM attendees WHERE event_id = ? AND user_id = ?`,
			eventID, uid).Scan(&n); err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// ListByEvent returns the confirmed attendees of an event ordered by check-in time.
func (r *AttendeeRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.Attendee, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, user_id, confirmed_at FROM attendees WHERE event_id = ? ORDER BY confirmed_at, id`,
		eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Attendee{}
	for rows.Next() {
		var a model.Attendee
		if err := rows.Scan(&a.ID, &a.EventID, &a.UserID, &a.ConfirmedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
