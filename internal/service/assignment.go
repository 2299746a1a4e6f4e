package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/entreprinder/connection-service/internal/model"
	"github.com/entreprinder/connection-service/internal/queue"
)

// AssignCoach binds a detected connection to the least-loaded coach with
// spare capacity, ties broken by coach id.  When every coach is full the
// connection is parked in awaiting_coach and the connection is returned
// together with ErrNoCapacity.
//
// Slots are taken with a conditional increment, so concurrent assignments
// that read the same spare slot cannot both win it; the loser moves on to
// the next candidate.
func (w *Workflow) AssignCoach(ctx context.Context, connectionID uint64) (*model.Connection, error) {
	var (
		conn  *model.Connection
		noCap bool
		evs   []queue.ConnectionEvent
	)
	err := w.withTx(ctx, func(tx *sql.Tx) error {
		conn, noCap, evs = nil, false, nil
		now := w.now()
		c, err := w.loadTx(ctx, tx, connectionID)
		if err != nil {
			return err
		}
		if !model.CanTransition(c.Status, model.StatusCoachReviewing) {
			return w.rejectTransition(c, "assign_coach", model.StatusCoachReviewing)
		}
		candidates, err := w.coaches.CandidatesTx(ctx, tx)
		if err != nil {
			return err
		}
		for _, cand := range candidates {
			if !cand.HasCapacity() {
				continue
			}
			ok, err := w.coaches.ReserveSlotTx(ctx, tx, cand.UserID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			coachID := cand.UserID
			if err := w.transition(c, "assign_coach", model.StatusCoachReviewing, now); err != nil {
				return err
			}
			c.CoachID = &coachID
			c.AssignedAt = &now
			if err := w.connections.UpdateTx(ctx, tx, c); err != nil {
				return err
			}
			conn = c
			evs = append(evs, connectionEvent(queue.ConnectionCoachAssigned, c, 0, now, c.PartyAID, c.PartyBID, coachID))
			return nil
		}

		noCap = true
		if c.Status == model.StatusMutualDetected {
			if err := w.transition(c, "assign_coach", model.StatusAwaitingCoach, now); err != nil {
				return err
			}
			if err := w.connections.UpdateTx(ctx, tx, c); err != nil {
				return err
			}
			evs = append(evs, connectionEvent(queue.ConnectionAwaitingCoach, c, 0, now))
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.publish(ctx, evs)
	if noCap {
		w.log.Info().Uint64("connection_id", conn.ID).Msg("no coach capacity; connection awaiting coach")
		return conn, ErrNoCapacity
	}
	w.log.Info().Uint64("connection_id", conn.ID).Uint64("coach_id", *conn.CoachID).Msg("coach assigned")
	return conn, nil
}

// AssignPending retries assignment for every connection still waiting for
// a coach, oldest first, and stops at the first NoCapacity.  It returns how
// many were assigned.
func (w *Workflow) AssignPending(ctx context.Context) (int, error) {
	var ids []uint64
	for _, st := range []model.ConnectionStatus{model.StatusAwaitingCoach, model.StatusMutualDetected} {
		batch, err := w.connections.ListIDsByStatus(ctx, st)
		if err != nil {
			return 0, err
		}
		ids = append(ids, batch...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	assigned := 0
	for _, id := range ids {
		_, err := w.AssignCoach(ctx, id)
		switch {
		case err == nil:
			assigned++
		case errors.Is(err, ErrNoCapacity):
			return assigned, nil
		case errors.Is(err, ErrInvalidTransition):
			// assigned by a concurrent caller since the listing
		default:
			return assigned, err
		}
	}
	return assigned, nil
}

// Introduce records the assigned coach's introduction and opens consent.
func (w *Workflow) Introduce(ctx context.Context, connectionID, coachID uint64, text string) (*model.Connection, error) {
	text, err := w.boundedText(text, w.limits.IntroMaxLen, "introduction")
	if err != nil {
		return nil, err
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
		if !c.IsCoach(coachID) {
			return ErrNotAuthorized
		}
		if err := w.transition(c, "introduce", model.StatusAwaitingConsent, now); err != nil {
			return err
		}
		c.CoachIntroduction = text
		c.IntroducedAt = &now
		if err := w.connections.UpdateTx(ctx, tx, c); err != nil {
			return err
		}
		conn = c
		evs = append(evs, connectionEvent(queue.ConnectionAwaitingConsent, c, coachID, now, c.PartyAID, c.PartyBID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.publish(ctx, evs)
	return conn, nil
}

// CoachDecline ends a connection under review that the coach judges
// unsuitable.  The reason travels only in the event detail for the
// operations log; the parties see the declined status.
func (w *Workflow) CoachDecline(ctx context.Context, connectionID, coachID uint64, reason string) (*model.Connection, error) {
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
		if !c.IsCoach(coachID) {
			return ErrNotAuthorized
		}
		if err := w.transition(c, "coach_decline", model.StatusDeclined, now); err != nil {
			return err
		}
		c.DeclinedAt = &now
		if err := w.connections.UpdateTx(ctx, tx, c); err != nil {
			return err
		}
		freed, err := w.releaseCoach(ctx, tx, c, now)
		if err != nil {
			return err
		}
		conn = c
		ev := connectionEvent(queue.ConnectionDeclined, c, coachID, now, c.PartyAID, c.PartyBID)
		ev.Detail = reason
		evs = append(evs, ev)
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

// CoachQueue lists the coach's assigned connections; activeOnly leaves out
// terminal ones.
func (w *Workflow) CoachQueue(ctx context.Context, coachID uint64, activeOnly bool) ([]model.Connection, error) {
	return w.connections.ListByCoach(ctx, coachID, activeOnly)
}
