package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/entreprinder/connection-service/internal/model"
	"github.com/entreprinder/connection-service/internal/queue"
	"github.com/entreprinder/connection-service/internal/repository"
)

// SubmitResult is the outcome of SubmitRequest.  Connection is set when the
// request completed a mutual pair; Mutual reports that this call created it
// and coach assignment should follow.
type SubmitResult struct {
	Request    *model.ConnectionRequest `json:"request"`
	Connection *model.Connection        `json:"connection,omitempty"`
	Mutual     bool                     `json:"mutual"`
}

// SubmitRequest records requester's interest in recipient at the event.  If
// the recipient already asked for the requester, both requests are matched
// and a Connection is created in mutual_detected.
//
// The pair lock taken first serializes every submission and acceptance for
// the same (pair, event), so the reciprocal lookup and the connection insert
// cannot interleave with the other side's.
func (w *Workflow) SubmitRequest(ctx context.Context, requesterID, recipientID, eventID uint64, note string) (*SubmitResult, error) {
	if requesterID == recipientID {
		return nil, ErrSelfRequest
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > w.limits.NoteMaxLen {
		return nil, invalidInput("note exceeds %d characters", w.limits.NoteMaxLen)
	}

	var (
		res *SubmitResult
		evs []queue.ConnectionEvent
	)
	err := w.withTx(ctx, func(tx *sql.Tx) error {
		res, evs = nil, nil
		now := w.now()
		pairKey := model.PairKey(requesterID, recipientID, eventID)
		if err := w.connections.LockPairTx(ctx, tx, pairKey, now); err != nil {
			return err
		}
		ok, err := w.attendees.AttendedTx(ctx, tx, eventID, requesterID, recipientID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotAttendee
		}
		dup, err := w.requests.HasOutstandingTx(ctx, tx, requesterID, recipientID, eventID)
		if err != nil {
			return err
		}
		if dup {
			return ErrDuplicateRequest
		}
		if err := w.ensureUnresolvedTx(ctx, tx, requesterID, recipientID, eventID, pairKey); err != nil {
			return err
		}

		req := &model.ConnectionRequest{
			RequesterID: requesterID,
			RecipientID: recipientID,
			EventID:     eventID,
			Note:        note,
			CreatedAt:   now,
		}
		if err := w.requests.CreateTx(ctx, tx, req); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDuplicateRequest
			}
			return err
		}
		res = &SubmitResult{Request: req}

		ev := queue.NewEvent(queue.RequestSubmitted, now)
		ev.RequestID = req.ID
		ev.EventID = eventID
		ev.ActorID = requesterID
		ev.NotifyIDs = []uint64{recipientID}
		evs = append(evs, ev)

		reciprocal, err := w.requests.FindPendingTx(ctx, tx, recipientID, requesterID, eventID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		conn, created, err := w.createConnectionTx(ctx, tx, reciprocal, &req.ID, now)
		if err != nil {
			return err
		}
		for _, id := range []uint64{reciprocal.ID, req.ID} {
			if err := w.requests.ResolveTx(ctx, tx, id, model.RequestMatched, now); err != nil {
				return err
			}
		}
		req.Status = model.RequestMatched
		req.ResolvedAt = &now
		res.Connection = conn
		res.Mutual = created
		if created {
			evs = append(evs, connectionEvent(queue.ConnectionMutualDetected, conn, requesterID, now, conn.PartyAID, conn.PartyBID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.publish(ctx, evs)
	if res.Mutual {
		w.log.Info().Uint64("connection_id", res.Connection.ID).Uint64("event_id", eventID).Msg("mutual interest detected")
	}
	return res, nil
}

// AcceptRequest lets the recipient accept a pending request one-way,
// creating the Connection in mutual_detected without a reciprocal request.
func (w *Workflow) AcceptRequest(ctx context.Context, requestID, userID uint64) (*model.Connection, error) {
	var (
		conn *model.Connection
		evs  []queue.ConnectionEvent
	)
	err := w.withTx(ctx, func(tx *sql.Tx) error {
		conn, evs = nil, nil
		now := w.now()
		req, err := w.pendingForTx(ctx, tx, requestID, userID)
		if err != nil {
			return err
		}
		pairKey := model.PairKey(req.RequesterID, req.RecipientID, req.EventID)
		if err := w.connections.LockPairTx(ctx, tx, pairKey, now); err != nil {
			return err
		}
		if err := w.resolveTx(ctx, tx, req.ID, model.RequestAccepted, now); err != nil {
			return err
		}
		c, created, err := w.createConnectionTx(ctx, tx, req, nil, now)
		if err != nil {
			return err
		}
		if !created {
			return ErrAlreadyResolved
		}
		conn = c
		evs = append(evs, connectionEvent(queue.ConnectionMutualDetected, c, userID, now, req.RequesterID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.publish(ctx, evs)
	return conn, nil
}

// DeclineRequest refuses a pending request.  The decline is final: neither
// user may file another request naming the other for the same event.
func (w *Workflow) DeclineRequest(ctx context.Context, requestID, userID uint64) error {
	var evs []queue.ConnectionEvent
	err := w.withTx(ctx, func(tx *sql.Tx) error {
		evs = nil
		now := w.now()
		req, err := w.pendingForTx(ctx, tx, requestID, userID)
		if err != nil {
			return err
		}
		if err := w.connections.LockPairTx(ctx, tx, model.PairKey(req.RequesterID, req.RecipientID, req.EventID), now); err != nil {
			return err
		}
		if err := w.resolveTx(ctx, tx, req.ID, model.RequestDeclined, now); err != nil {
			return err
		}
		ev := queue.NewEvent(queue.RequestDeclined, now)
		ev.RequestID = req.ID
		ev.EventID = req.EventID
		ev.ActorID = userID
		ev.NotifyIDs = []uint64{req.RequesterID}
		evs = append(evs, ev)
		return nil
	})
	if err != nil {
		return err
	}
	w.publish(ctx, evs)
	return nil
}

// WithdrawRequest tombstones the requester's own pending request, freeing
// the triple for a fresh request later.
func (w *Workflow) WithdrawRequest(ctx context.Context, requestID, userID uint64) error {
	return w.withTx(ctx, func(tx *sql.Tx) error {
		req, err := w.requests.GetTx(ctx, tx, requestID)
		if err != nil {
			return mapNotFound(err)
		}
		if req.RequesterID != userID {
			return ErrNotAuthorized
		}
		if req.Status != model.RequestPending {
			return ErrAlreadyResolved
		}
		return w.resolveTx(ctx, tx, req.ID, model.RequestWithdrawn, w.now())
	})
}

// ListRequests returns the user's incoming or outgoing requests.
func (w *Workflow) ListRequests(ctx context.Context, userID uint64, incoming bool) ([]model.ConnectionRequest, error) {
	return w.requests.ListByUser(ctx, userID, incoming)
}

// ensureUnresolvedTx rejects a new request when the pair already settled
// the question for this event from the other side, by a decline or an
// existing Connection.  Same-direction repeats are caught earlier as
// duplicates.
func (w *Workflow) ensureUnresolvedTx(ctx context.Context, tx *sql.Tx, x, y, eventID uint64, pairKey string) error {
	declined, err := w.requests.HasDeclinedTx(ctx, tx, x, y, eventID)
	if err != nil {
		return err
	}
	if declined {
		return ErrAlreadyResolved
	}
	_, err = w.connections.GetByPairKeyTx(ctx, tx, pairKey)
	switch {
	case err == nil:
		return ErrAlreadyResolved
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return err
	}
}

// pendingForTx loads a request the user may answer as its recipient.
func (w *Workflow) pendingForTx(ctx context.Context, tx *sql.Tx, requestID, userID uint64) (*model.ConnectionRequest, error) {
	req, err := w.requests.GetTx(ctx, tx, requestID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if req.RecipientID != userID {
		return nil, ErrNotRecipient
	}
	if req.Status != model.RequestPending {
		return nil, ErrAlreadyResolved
	}
	return req, nil
}

// resolveTx resolves a pending request; losing the race to another
// resolution surfaces as ErrAlreadyResolved rather than a retry.
func (w *Workflow) resolveTx(ctx context.Context, tx *sql.Tx, id uint64, status model.RequestStatus, at time.Time) error {
	err := w.requests.ResolveTx(ctx, tx, id, status, at)
	if errors.Is(err, repository.ErrStale) {
		return ErrAlreadyResolved
	}
	return err
}

// createConnectionTx inserts the Connection for the pair named by initial.
// When the pair_key constraint reports an existing row, that row is
// returned with created=false instead of failing.
func (w *Workflow) createConnectionTx(ctx context.Context, tx *sql.Tx, initial *model.ConnectionRequest, reciprocalID *uint64, at time.Time) (*model.Connection, bool, error) {
	a, b := model.SortPair(initial.RequesterID, initial.RecipientID)
	c := &model.Connection{
		PairKey:             model.PairKey(a, b, initial.EventID),
		EventID:             initial.EventID,
		PartyAID:            a,
		PartyBID:            b,
		InitialRequestID:    initial.ID,
		ReciprocalRequestID: reciprocalID,
		Status:              model.StatusMutualDetected,
		CreatedAt:           at,
	}
	err := w.connections.CreateTx(ctx, tx, c)
	if errors.Is(err, repository.ErrDuplicate) {
		existing, err := w.connections.GetByPairKeyTx(ctx, tx, c.PairKey)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}
