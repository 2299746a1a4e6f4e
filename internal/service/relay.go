package service

import (
	"context"
	"database/sql"
	"strings"
	"unicode/utf8"

	"github.com/entreprinder/connection-service/internal/model"
	"github.com/entreprinder/connection-service/internal/queue"
)

// PostMessage stores a relay message from a party or the assigned coach.
// Bodies are kept verbatim and every message is visible to the coach.
func (w *Workflow) PostMessage(ctx context.Context, connectionID, senderID uint64, body string) (*model.ConnectionMessage, error) {
	if strings.TrimSpace(body) == "" {
		return nil, invalidInput("message body is required")
	}
	if utf8.RuneCountInString(body) > w.limits.MessageMaxLen {
		return nil, invalidInput("message exceeds %d characters", w.limits.MessageMaxLen)
	}

	var (
		msg *model.ConnectionMessage
		evs []queue.ConnectionEvent
	)
	err := w.withTx(ctx, func(tx *sql.Tx) error {
		msg, evs = nil, nil
		now := w.now()
		c, err := w.loadTx(ctx, tx, connectionID)
		if err != nil {
			return err
		}
		if !c.IsParty(senderID) && !c.IsCoach(senderID) {
			return ErrNotAuthorized
		}
		if !c.Status.MessagingOpen() {
			return w.rejectTransition(c, "post_message", "")
		}
		// holds the row until commit so a concurrent revoke cannot slip in
		// between the status check and the insert
		open, err := w.connections.TouchOpenTx(ctx, tx, c.ID, now)
		if err != nil {
			return err
		}
		if !open {
			if c, err = w.loadTx(ctx, tx, connectionID); err != nil {
				return err
			}
			return w.rejectTransition(c, "post_message", "")
		}
		m := &model.ConnectionMessage{
			ConnectionID: c.ID,
			SenderID:     senderID,
			Body:         body,
			CoachVisible: true,
			SentAt:       now,
		}
		if err := w.messages.CreateTx(ctx, tx, m); err != nil {
			return err
		}
		msg = m
		evs = append(evs, connectionEvent(queue.MessagePosted, c, senderID, now, recipients(c, senderID)...))
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.publish(ctx, evs)
	return msg, nil
}

// ListMessages returns the relay history to a party or the assigned coach.
func (w *Workflow) ListMessages(ctx context.Context, connectionID, viewerID, afterID uint64, limit int) ([]model.ConnectionMessage, error) {
	if _, err := w.GetConnection(ctx, connectionID, viewerID); err != nil {
		return nil, err
	}
	return w.messages.ListByConnection(ctx, connectionID, afterID, limit)
}

// recipients is everyone on the connection except the sender.
func recipients(c *model.Connection, senderID uint64) []uint64 {
	all := []uint64{c.PartyAID, c.PartyBID}
	if c.CoachID != nil {
		all = append(all, *c.CoachID)
	}
	out := all[:0]
	for _, id := range all {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out
}

func (w *Workflow) boundedText(s string, max int, what string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", invalidInput("%s is required", what)
	}
	if utf8.RuneCountInString(s) > max {
		return "", invalidInput("%s exceeds %d characters", what, max)
	}
	return s, nil
}
