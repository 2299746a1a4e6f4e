package service

import (
	"context"
	"errors"
	"time"

	"github.com/entreprinder/connection-service/internal/model"
	"github.com/entreprinder/connection-service/internal/queue"
	"github.com/entreprinder/connection-service/internal/repository"
)

// GetConnection returns a connection to one of its parties or its coach.
func (w *Workflow) GetConnection(ctx context.Context, connectionID, viewerID uint64) (*model.Connection, error) {
	c, err := w.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if !c.IsParty(viewerID) && !c.IsCoach(viewerID) {
		return nil, ErrNotAuthorized
	}
	return c, nil
}

// ListConnections returns the connections the user is a party to.
func (w *Workflow) ListConnections(ctx context.Context, userID uint64) ([]model.Connection, error) {
	return w.connections.ListByUser(ctx, userID)
}

// ListCoaches returns the coach directory with current load.
func (w *Workflow) ListCoaches(ctx context.Context) ([]model.Coach, error) {
	return w.coaches.List(ctx)
}

// ConfirmAttendance records a check-in from the event attendance feed.
func (w *Workflow) ConfirmAttendance(ctx context.Context, eventID, userID uint64) (model.Attendee, error) {
	if eventID == 0 {
		return model.Attendee{}, invalidInput("event id is required")
	}
	if _, err := w.users.GetByID(ctx, userID); err != nil {
		return model.Attendee{}, mapNotFound(err)
	}
	return w.attendees.Confirm(ctx, eventID, userID, w.now())
}

// ListAttendees returns the confirmed attendees of an event.
func (w *Workflow) ListAttendees(ctx context.Context, eventID uint64) ([]model.Attendee, error) {
	if eventID == 0 {
		return nil, invalidInput("event id is required")
	}
	return w.attendees.ListByEvent(ctx, eventID)
}

// RegisterCoach gives an existing COACH user a capacity.  Announcing the
// new capacity lets the backlog of waiting connections drain.
func (w *Workflow) RegisterCoach(ctx context.Context, userID uint64, specialization string, capacity int) (model.Coach, error) {
	if capacity < 1 {
		return model.Coach{}, invalidInput("capacity must be at least 1")
	}
	u, err := w.users.GetByID(ctx, userID)
	if err != nil {
		return model.Coach{}, mapNotFound(err)
	}
	if u.Role != model.RoleCoach {
		return model.Coach{}, invalidInput("user %d does not have the %s role", userID, model.RoleCoach)
	}
	now := w.now()
	if err := w.coaches.Create(ctx, userID, specialization, capacity, now); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.Coach{}, ErrConflict
		}
		return model.Coach{}, err
	}
	w.capacityFreed(ctx, userID, now)
	coach, err := w.coaches.GetByID(ctx, userID)
	return coach, mapNotFound(err)
}

// UpdateCoachCapacity changes a coach's capacity.  Lowering it below the
// current load only stops new assignments.
func (w *Workflow) UpdateCoachCapacity(ctx context.Context, coachID uint64, capacity int) (model.Coach, error) {
	if capacity < 1 {
		return model.Coach{}, invalidInput("capacity must be at least 1")
	}
	before, err := w.coaches.GetByID(ctx, coachID)
	if err != nil {
		return model.Coach{}, mapNotFound(err)
	}
	if err := w.coaches.UpdateCapacity(ctx, coachID, capacity); err != nil {
		return model.Coach{}, mapNotFound(err)
	}
	if capacity > before.Capacity {
		w.capacityFreed(ctx, coachID, w.now())
	}
	coach, err := w.coaches.GetByID(ctx, coachID)
	return coach, mapNotFound(err)
}

func (w *Workflow) capacityFreed(ctx context.Context, coachID uint64, at time.Time) {
	ev := queue.NewEvent(queue.CoachCapacityFreed, at)
	ev.CoachID = coachID
	w.publish(ctx, []queue.ConnectionEvent{ev})
}
