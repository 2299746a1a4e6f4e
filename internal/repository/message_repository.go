package repository

import (
	"context"
	"database/sql"

	"github.com/entreprinder/connection-service/internal/model"
)

// MessageRepo stores relay messages.  There is no update or delete.
type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

// CreateTx inserts a message and populates its ID.
func (r *MessageRepo) CreateTx(ctx context.Context, tx *sql.Tx, m *model.ConnectionMessage) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO connection_messages (connection_id, sender_id, body, coach_visible, sent_at) VALUES (?, ?, ?, ?, ?)`,
		m.ConnectionID, m.SenderID, m.Body, m.CoachVisible, m.SentAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = uint64(id)
	return nil
}

// ListByConnection returns messages oldest first.  afterID pages forward;
// limit <= 0 means no limit.
func (r *MessageRepo) ListByConnection(ctx context.Context, connectionID, afterID uint64, limit int) ([]model.ConnectionMessage, error) {
	q := `SELECT id, connection_id, sender_id, body, coach_visible, sent_at
	      FROM connection_messages WHERE connection_id = ? AND id > ? ORDER BY id`
	args := []any{connectionID, afterID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ConnectionMessage{}
	for rows.Next() {
		var m model.ConnectionMessage
		if err := rows.Scan(&m.ID, &m.ConnectionID, &m.SenderID, &m.Body, &m.CoachVisible, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
