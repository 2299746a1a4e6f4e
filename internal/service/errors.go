package service

import (
	"errors"
	"fmt"

	"github.com/entreprinder/connection-service/internal/model"
)

// Errors returned by the workflow.  Handlers map them to HTTP statuses
// with errors.Is; none of them is retried automatically.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrNotAttendee       = errors.New("not an attendee of the event")
	ErrSelfRequest       = errors.New("cannot request yourself")
	ErrNotRecipient      = errors.New("not the recipient of the request")
	ErrAlreadyResolved   = errors.New("already resolved")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotParty          = errors.New("not a party to the connection")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrNotShared         = errors.New("contact not shared")

	// ErrNoCapacity is a signal rather than a fault: the connection was
	// parked in awaiting_coach and will be picked up when a coach frees a
	// slot.
	ErrNoCapacity = errors.New("no coach capacity")
)

// TransitionError reports an attempt to move a connection along an edge
// the lattice does not have.  Attempted is empty for operations that do not
// change status, such as posting a message.
type TransitionError struct {
	ConnectionID uint64
	Op           string
	Current      model.ConnectionStatus
	Attempted    model.ConnectionStatus
}

func (e *TransitionError) Error() string {
	if e.Attempted == "" {
		return fmt.Sprintf("%s: not permitted while connection %d is %s", e.Op, e.ConnectionID, e.Current)
	}
	return fmt.Sprintf("%s: connection %d cannot move from %s to %s", e.Op, e.ConnectionID, e.Current, e.Attempted)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
