package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/entreprinder/connection-service/internal/model"
)

// RequestRepo provides data access to the connection_requests table.  A
// pending request holds an active_key; resolving it in any way clears the
// key, so the unique index on active_key enforces "one active request per
// (requester, recipient, event)" without a partial index.
type RequestRepo struct {
    db *sql.DB
}

// NewRequestRepo returns a new RequestRepo bound to the provided database.
func NewRequestRepo(db *sql.DB) *RequestRepo { return &RequestRepo{db: db} }

const requestCols = `id, requester_id, recipient_id, event_id, note, status, created_at, resolved_at`

// CreateTx inserts a pending request and populates its ID.  ErrDuplicate
// is returned when the triple already has an active request.
func (r *RequestRepo) CreateTx(ctx context.Context, tx *sql.Tx, req *model.ConnectionRequest) error {
    req.Status = model.RequestPending
    res, err := tx.ExecContext(ctx,
        `INSERT INTO connection_requests (requester_id, recipient_id, event_id, note, status, active_key, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
        req.RequesterID, req.RecipientID, req.EventID, req.Note, string(req.Status),
        model.ActiveKey(req.RequesterID, req.RecipientID, req.EventID), req.CreatedAt.UTC())
    if err != nil {
        if isUniqueViolation(err) {
            return ErrDuplicate
        }
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    req.ID = uint64(id)
    return nil
}

// GetByID loads a request outside any transaction.
func (r *RequestRepo) GetByID(ctx context.Context, id uint64) (*model.ConnectionRequest, error) {
    return scanRequest(r.db.QueryRowContext(ctx, `SELECT `+requestCols+` FROM connection_requests WHERE id = ?`, id))
}

// GetTx loads a request inside the caller's transaction.
func (r *RequestRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.ConnectionRequest, error) {
    return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestCols+` FROM connection_requests WHERE id = ?`, id))
}

// FindPendingTx returns the active request from requester to recipient for
// the event, or ErrNotFound.
func (r *RequestRepo) FindPendingTx(ctx context.Context, tx *sql.Tx, requesterID, recipientID, eventID uint64) (*model.ConnectionRequest, error) {
    return scanRequest(tx.QueryRowContext(ctx,
        `SELECT `+requestCols+` FROM connection_requests WHERE active_key = ?`,
        model.ActiveKey(requesterID, recipientID, eventID)))
}

// HasDeclinedTx reports whether either user ever declined the other for
// this event.  A decline is final for the pair.
func (r *RequestRepo) HasDeclinedTx(ctx context.Context, tx *sql.Tx, x, y, eventID uint64) (bool, error) {
    var n int
    err := tx.QueryRowContext(ctx,
        `SELECT COUNT(*) FROM connection_requests
         WHERE event_id = ? AND status = ?
           AND ((requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?))`,
        eventID, string(model.RequestDeclined), x, y, y, x).Scan(&n)
    return n > 0, err
}

// HasOutstandingTx reports whether the requester already has a request to
// the recipient for this event that was not withdrawn.  Resolved requests
// count: only a withdrawal frees the triple.
func (r *RequestRepo) HasOutstandingTx(ctx context.Context, tx *sql.Tx, requesterID, recipientID, eventID uint64) (bool, error) {
    var n int
    err := tx.QueryRowContext(ctx,
        `SELECT COUNT(*) FROM connection_requests
         WHERE requester_id = ? AND recipient_id = ? AND event_id = ? AND status <> ?`,
        requesterID, recipientID, eventID, string(model.RequestWithdrawn)).Scan(&n)
    return n > 0, err
}

// ResolveTx moves a pending request to a resolved status and releases its
// active key.  ErrStale is returned when the request is no longer pending,
// which is how concurrent accept/decline/withdraw calls are told apart.
func (r *RequestRepo) ResolveTx(ctx context.Context, tx *sql.Tx, id uint64, status model.RequestStatus, at time.Time) error {
    res, err := tx.ExecContext(ctx,
        `UPDATE connection_requests SET status = ?, active_key = NULL, resolved_at = ?
         WHERE id = ? AND status = ?`,
        string(status), at.UTC(), id, string(model.RequestPending))
    return affectedOne(res, err)
}

// ListByUser returns the user's incoming or outgoing requests, newest first.
func (r *RequestRepo) ListByUser(ctx context.Context, userID uint64, incoming bool) ([]model.ConnectionRequest, error) {
    col := "requester_id"
    if incoming {
        col = "recipient_id"
    }
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+requestCols+` FROM connection_requests WHERE `+col+` = ? ORDER BY created_at DESC, id DESC`,
        userID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.ConnectionRequest{}
    for rows.Next() {
        req, err := scanRequest(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, *req)
    }
    return out, rows.Err()
}

type rowScanner interface {
    Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*model.ConnectionRequest, error) {
    var req model.ConnectionRequest
    var resolved sql.NullTime
    if err := row.Scan(&req.ID, &req.RequesterID, &req.RecipientID, &req.EventID,
        &req.Note, &req.Status, &req.CreatedAt, &resolved); err != nil {
        return nil, notFound(err)
    }
    req.CreatedAt = req.CreatedAt.UTC()
    req.ResolvedAt = nullTimePtr(resolved)
    return &req, nil
}
