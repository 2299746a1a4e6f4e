package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/entreprinder/connection-service/internal/model"
)

// ConnectionRepo provides access to connections, their pair locks and the
// disclosure snapshots taken when a connection is shared.  Connections are
// never deleted.  Every mutation goes through UpdateTx, which is guarded by
// the row's version so that two concurrent writers cannot both apply a
// transition computed from the same state.
type ConnectionRepo struct {
	db *sql.DB
}

// NewConnectionRepo returns a new ConnectionRepo bound to the given database.
func NewConnectionRepo(db *sql.DB) *ConnectionRepo { return &ConnectionRepo{db: db} }

const connectionCols = `id, pair_key, event_id, party_a_id, party_b_id, initial_request_id, reciprocal_request_id,
	status, coach_id, coach_introduction, party_a_fields, party_a_consented_at,
	party_b_fields, party_b_consented_at, version, created_at, assigned_at, introduced_at,
	shared_at, revoked_at, revoked_by, declined_at, updated_at`

// LockPairTx takes the serialization row for a (pair, event) key.  The
// UPDATE acquires a row lock on MySQL, so concurrent submissions for the
// same pair queue behind each other until the holder commits; SQLite
// serializes writers on its own.  The row is created on first use.
func (r *ConnectionRepo) LockPairTx(ctx context.Context, tx *sql.Tx, pairKey string, at time.Time) error {
	const upd = `UPDATE pair_locks SET touched_at = ? WHERE pair_key = ?`
	err := affectedOne(tx.ExecContext(ctx, upd, at.UTC(), pairKey))
	if err != ErrStale {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO pair_locks (pair_key, touched_at) VALUES (?, ?)`, pairKey, at.UTC())
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return err
	}
	// Another transaction created the row first; lock it now.
	_, err = tx.ExecContext(ctx, upd, at.UTC(), pairKey)
	return err
}

// CreateTx inserts a new connection and populates its ID.  ErrDuplicate is
// returned when the pair already has a connection for the event; callers
// load the existing one instead.
func (r *ConnectionRepo) CreateTx(ctx context.Context, tx *sql.Tx, c *model.Connection) error {
	c.Version = 1
	c.UpdatedAt = c.CreatedAt
	res, err := tx.ExecContext(ctx,
		`INSERT INTO connections (pair_key, event_id, party_a_id, party_b_id, initial_request_id, reciprocal_request_id,
		 status, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.PairKey, c.EventID, c.PartyAID, c.PartyBID, c.InitialRequestID, uintArg(c.ReciprocalRequestID),
		string(c.Status), c.Version, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
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
	c.ID = uint64(id)
	return nil
}

// GetByID loads a connection outside any transaction.
func (r *ConnectionRepo) GetByID(ctx context.Context, id uint64) (*model.Connection, error) {
	return scanConnection(r.db.QueryRowContext(ctx, `SELECT `+connectionCols+` FROM connections WHERE id = ?`, id))
}

// GetTx loads a connection inside the caller's transaction.
func (r *ConnectionRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Connection, error) {
	return scanConnection(tx.QueryRowContext(ctx, `SELECT `+connectionCols+` FROM connections WHERE id = ?`, id))
}

// GetByPairKeyTx loads the connection for a (pair, event) key.
func (r *ConnectionRepo) GetByPairKeyTx(ctx context.Context, tx *sql.Tx, pairKey string) (*model.Connection, error) {
	return scanConnection(tx.QueryRowContext(ctx, `SELECT `+connectionCols+` FROM connections WHERE pair_key = ?`, pairKey))
}

// UpdateTx writes every mutable column of c provided the stored version
// still equals c.Version, then bumps c.Version.  ErrStale means another
// writer got there first and the caller must reload.
func (r *ConnectionRepo) UpdateTx(ctx context.Context, tx *sql.Tx, c *model.Connection) error {
	intro := sql.NullString{String: c.CoachIntroduction, Valid: c.CoachIntroduction != ""}
	err := affectedOne(tx.ExecContext(ctx,
		`UPDATE connections SET status = ?, coach_id = ?, coach_introduction = ?,
		 party_a_fields = ?, party_a_consented_at = ?, party_b_fields = ?, party_b_consented_at = ?,
		 assigned_at = ?, introduced_at = ?, shared_at = ?, revoked_at = ?, revoked_by = ?,
		 declined_at = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(c.Status), uintArg(c.CoachID), intro,
		c.PartyAFields.String(), timeArg(c.PartyAConsentedAt), c.PartyBFields.String(), timeArg(c.PartyBConsentedAt),
		timeArg(c.AssignedAt), timeArg(c.IntroducedAt), timeArg(c.SharedAt), timeArg(c.RevokedAt), uintArg(c.RevokedBy),
		timeArg(c.DeclinedAt), c.UpdatedAt.UTC(),
		c.ID, c.Version))
	if err != nil {
		return err
	}
	c.Version++
	return nil
}

// TouchOpenTx bumps updated_at on a connection that still accepts messages
// and reports whether it did.  On MySQL the update holds the row lock until
// commit, so a message insert in the same transaction cannot interleave
// with a revoke.
func (r *ConnectionRepo) TouchOpenTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) (bool, error) {
	err := affectedOne(tx.ExecContext(ctx,
		`UPDATE connections SET updated_at = ? WHERE id = ? AND status NOT IN (?, ?)`,
		at.UTC(), id, string(model.StatusRevoked), string(model.StatusDeclined)))
	if err == ErrStale {
		return false, nil
	}
	return err == nil, err
}

// ListByUser returns the connections the user is a party to, newest first.
func (r *ConnectionRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Connection, error) {
	return r.list(ctx,
		`SELECT `+connectionCols+` FROM connections WHERE party_a_id = ? OR party_b_id = ? ORDER BY id DESC`,
		userID, userID)
}

// ListByCoach returns the coach's assigned connections.  With activeOnly
// set, terminal connections are left out.
func (r *ConnectionRepo) ListByCoach(ctx context.Context, coachID uint64, activeOnly bool) ([]model.Connection, error) {
	if activeOnly {
		return r.list(ctx,
			`SELECT `+connectionCols+` FROM connections WHERE coach_id = ? AND status NOT IN (?, ?, ?) ORDER BY id`,
			coachID, string(model.StatusShared), string(model.StatusRevoked), string(model.StatusDeclined))
	}
	return r.list(ctx, `SELECT `+connectionCols+` FROM connections WHERE coach_id = ? ORDER BY id`, coachID)
}

// ListIDsByStatus returns ids of connections in a status, in id order.
func (r *ConnectionRepo) ListIDsByStatus(ctx context.Context, status model.ConnectionStatus) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM connections WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByPairKey is used by tests and diagnostics to assert uniqueness.
func (r *ConnectionRepo) CountByPairKey(ctx context.Context, pairKey string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM connections WHERE pair_key = ?`, pairKey).Scan(&n)
	return n, err
}

// SnapshotDisclosureTx stores the values one party shares.  It runs in the
// same transaction as the shared transition so later profile edits never
// change what was disclosed.
func (r *ConnectionRepo) SnapshotDisclosureTx(ctx context.Context, tx *sql.Tx, connectionID, ownerID uint64, values map[model.ContactField]string, at time.Time) error {
	for field, value := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO connection_disclosures (connection_id, owner_id, field, value, disclosed_at) VALUES (?, ?, ?, ?, ?)`,
			connectionID, ownerID, string(field), value, at.UTC()); err != nil {
			return err
		}
	}
	return nil
}

// Disclosures returns what ownerID disclosed on the connection.
func (r *ConnectionRepo) Disclosures(ctx context.Context, connectionID, ownerID uint64) (map[model.ContactField]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT field, value FROM connection_disclosures WHERE connection_id = ? AND owner_id = ?`,
		connectionID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[model.ContactField]string{}
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		out[model.ContactField(field)] = value
	}
	return out, rows.Err()
}

func (r *ConnectionRepo) list(ctx context.Context, q string, args ...any) ([]model.Connection, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanConnection(row rowScanner) (*model.Connection, error) {
	var (
		c                              model.Connection
		status, aFields, bFields       string
		reciprocal, coachID, revokedBy sql.NullInt64
		intro                          sql.NullString
		aAt, bAt, assigned, introduced sql.NullTime
		shared, revoked, declined      sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.PairKey, &c.EventID, &c.PartyAID, &c.PartyBID, &c.InitialRequestID, &reciprocal,
		&status, &coachID, &intro, &aFields, &aAt,
		&bFields, &bAt, &c.Version, &c.CreatedAt, &assigned, &introduced,
		&shared, &revoked, &revokedBy, &declined, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if c.PartyAFields, err = model.ParseFieldSet(aFields); err != nil {
		return nil, err
	}
	if c.PartyBFields, err = model.ParseFieldSet(bFields); err != nil {
		return nil, err
	}
	c.Status = model.ConnectionStatus(status)
	c.ReciprocalRequestID = nullUint64Ptr(reciprocal)
	c.CoachID = nullUint64Ptr(coachID)
	c.RevokedBy = nullUint64Ptr(revokedBy)
	c.CoachIntroduction = intro.String
	c.PartyAConsentedAt = nullTimePtr(aAt)
	c.PartyBConsentedAt = nullTimePtr(bAt)
	c.AssignedAt = nullTimePtr(assigned)
	c.IntroducedAt = nullTimePtr(introduced)
	c.SharedAt = nullTimePtr(shared)
	c.RevokedAt = nullTimePtr(revoked)
	c.DeclinedAt = nullTimePtr(declined)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}
