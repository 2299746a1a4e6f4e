package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/entreprinder/connection-service/internal/model"
	"github.com/entreprinder/connection-service/internal/queue"
)

// RecordConsent records which contact fields the user agrees to show the
// counterpart.  The first party's consent moves the connection to
// partial_consent; the second party's moves it to shared and snapshots both
// parties' chosen values in the same transaction.  Each party sees exactly
// what the other chose, never a union or intersection.
//
// A party that consents again before the counterpart does replaces its
// field choice.
func (w *Workflow) RecordConsent(ctx context.Context, connectionID, userID uint64, fields []string) (*model.Connection, error) {
	fs, err := model.NewFieldSet(fields...)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	if len(fs) == 0 {
		return nil, invalidInput("at least one contact field is required")
	}

	var (
		conn *model.Connection
		evs  []queue.ConnectionEvent
	)
	err = w.withTx(ctx, func(tx *sql.Tx) error {
		conn, evs = nil, nil
		now := w.now()
		c, err := w.loadTx(ctx, tx, connectionID)
		if err != nil {
			return err
		}
		if !c.IsParty(userID) {
			return ErrNotParty
		}

		switch {
		case c.Status == model.StatusAwaitingConsent:
			if err := w.transition(c, "record_consent", model.StatusPartialConsent, now); err != nil {
				return err
			}
			setConsent(c, userID, fs, now)
			if err := w.connections.UpdateTx(ctx, tx, c); err != nil {
				return err
			}
			evs = append(evs, connectionEvent(queue.ConnectionPartialConsent, c, userID, now, c.Counterpart(userID)))

		case c.Status == model.StatusPartialConsent && c.HasConsented(userID):
			setConsent(c, userID, fs, now)
			c.UpdatedAt = now
			if err := w.connections.UpdateTx(ctx, tx, c); err != nil {
				return err
			}

		case c.Status == model.StatusPartialConsent:
			if err := w.transition(c, "record_consent", model.StatusShared, now); err != nil {
				return err
			}
			setConsent(c, userID, fs, now)
			c.SharedAt = &now
			// the version guard makes this the only writer of the shared transition
			if err := w.connections.UpdateTx(ctx, tx, c); err != nil {
				return err
			}
			if err := w.snapshotTx(ctx, tx, c, now); err != nil {
				return err
			}
			freed, err := w.releaseCoach(ctx, tx, c, now)
			if err != nil {
				return err
			}
			evs = append(evs, connectionEvent(queue.ConnectionShared, c, userID, now, c.PartyAID, c.PartyBID))
			if freed != nil {
				evs = append(evs, *freed)
			}

		default:
			return w.rejectTransition(c, "record_consent", model.StatusPartialConsent)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.publish(ctx, evs)
	return conn, nil
}

// Revoke ends a connection before disclosure.  Revoking an already revoked
// connection returns it unchanged.  No contact data is ever disclosed for a
// revoked connection.
func (w *Workflow) Revoke(ctx context.Context, connectionID, userID uint64) (*model.Connection, error) {
	var (
		conn *model.Connection
		evs  []queue.ConnectionEvent
	)
	err := w.withTx(ctx, func(tx *sql.Tx) error {
		conn, evs = nil, nil
		now := w.now()
		c, err := w.loadTx(ctx, tx, connectionID)
		if err != nil {
			return err
		}
		if !c.IsParty(userID) {
			return ErrNotParty
		}
		if c.Status == model.StatusRevoked {
			conn = c
			return nil
		}
		if err := w.transition(c, "revoke", model.StatusRevoked, now); err != nil {
			return err
		}
		by := userID
		c.RevokedAt = &now
		c.RevokedBy = &by
		if err := w.connections.UpdateTx(ctx, tx, c); err != nil {
			return err
		}
		freed, err := w.releaseCoach(ctx, tx, c, now)
		if err != nil {
			return err
		}
		conn = c
		evs = append(evs, connectionEvent(queue.ConnectionRevoked, c, userID, now, c.Counterpart(userID)))
		if freed != nil {
			evs = append(evs, *freed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.publish(ctx, evs)
	return conn, nil
}

// GetDisclosedContact returns what the viewer's counterpart chose to share.
// It fails with ErrNotShared until the connection reaches shared.
func (w *Workflow) GetDisclosedContact(ctx context.Context, connectionID, viewerID uint64) (*model.ContactPayload, error) {
	c, err := w.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if !c.IsParty(viewerID) {
		return nil, ErrNotParty
	}
	if c.Status != model.StatusShared {
		return nil, ErrNotShared
	}
	owner := c.Counterpart(viewerID)
	values, err := w.connections.Disclosures(ctx, c.ID, owner)
	if err != nil {
		return nil, err
	}
	return &model.ContactPayload{ConnectionID: c.ID, OwnerID: owner, Fields: values}, nil
}

// snapshotTx copies each party's chosen contact values as they are now.
// An empty profile value is disclosed as empty rather than dropped, so the
// viewer can tell the field was shared.
func (w *Workflow) snapshotTx(ctx context.Context, tx *sql.Tx, c *model.Connection, at time.Time) error {
	for _, owner := range []uint64{c.PartyAID, c.PartyBID} {
		u, err := w.users.GetByIDTx(ctx, tx, owner)
		if err != nil {
			return err
		}
		values := make(map[model.ContactField]string)
		for _, f := range c.FieldsOf(owner) {
			values[f] = u.ContactValue(f)
		}
		if err := w.connections.SnapshotDisclosureTx(ctx, tx, c.ID, owner, values, at); err != nil {
			return err
		}
	}
	return nil
}

func setConsent(c *model.Connection, userID uint64, fs model.FieldSet, at time.Time) {
	if userID == c.PartyAID {
		c.PartyAFields = fs
		c.PartyAConsentedAt = &at
		return
	}
	c.PartyBFields = fs
	c.PartyBConsentedAt = &at
}
