// Package service implements the event connection workflow: mutual-interest
// detection, coach assignment, staged consent with gated contact disclosure
// and the supervised message relay.  Each operation runs in one database
// transaction; domain events are published only after it commits.
package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/entreprinder/connection-service/internal/config"
	"github.com/entreprinder/connection-service/internal/model"
	"github.com/entreprinder/connection-service/internal/queue"
	"github.com/entreprinder/connection-service/internal/repository"
)

// maxAttempts bounds retries of transactions that failed on a lost race,
// deadlock or busy database.
const maxAttempts = 3

// Notifier receives domain events after the transaction that produced them
// has committed.  *queue.Publisher satisfies it.
type Notifier interface {
	Publish(ctx context.Context, ev queue.ConnectionEvent) error
}

// Options configures a Workflow.  Zero values fall back to defaults.
type Options struct {
	Driver   string // "mysql" or "sqlite3"; selects the transaction isolation
	Limits   config.Limits
	Notifier Notifier
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Workflow is the entry point for every state-changing operation.
type Workflow struct {
	db          *sql.DB
	users       *repository.UserRepo
	attendees   *repository.AttendeeRepo
	requests    *repository.RequestRepo
	connections *repository.ConnectionRepo
	coaches     *repository.CoachRepo
	messages    *repository.MessageRepo

	notifier Notifier
	log      zerolog.Logger
	limits   config.Limits
	now      func() time.Time
	txOpts   *sql.TxOptions
}

// New wires a Workflow over db.
func New(db *sql.DB, opts Options) *Workflow {
	w := &Workflow{
		db:          db,
		users:       repository.NewUserRepo(db),
		attendees:   repository.NewAttendeeRepo(db),
		requests:    repository.NewRequestRepo(db),
		connections: repository.NewConnectionRepo(db),
		coaches:     repository.NewCoachRepo(db),
		messages:    repository.NewMessageRepo(db),
		notifier:    opts.Notifier,
		log:         opts.Logger.With().Str("component", "workflow").Logger(),
		limits:      opts.Limits,
		now:         opts.Now,
	}
	if w.now == nil {
		// DATETIME columns hold whole seconds on MySQL
		w.now = func() time.Time { return time.Now().UTC().Truncate(time.Second) }
	}
	if w.limits == (config.Limits{}) {
		w.limits = config.Limits{NoteMaxLen: 500, IntroMaxLen: 2000, MessageMaxLen: 4000}
	}
	if opts.Driver == "mysql" {
		// reads taken after the pair lock must see rows committed meanwhile
		w.txOpts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return w
}

// withTx runs fn in a transaction, retrying the whole unit when it failed
// for a transient reason.  fn must be safe to re-run from scratch.
func (w *Workflow) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = w.runTx(ctx, fn)
		if err == nil || !repository.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		w.log.Debug().Err(err).Int("attempt", attempt).Msg("retrying transaction")
	}
	return err
}

func (w *Workflow) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := w.db.BeginTx(ctx, w.txOpts)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// publish hands events to the notifier.  Failures are logged only: the
// state change has already committed.
func (w *Workflow) publish(ctx context.Context, evs []queue.ConnectionEvent) {
	if w.notifier == nil {
		return
	}
	for _, ev := range evs {
		if err := w.notifier.Publish(ctx, ev); err != nil {
			w.log.Warn().Err(err).Str("type", string(ev.Type)).Uint64("connection_id", ev.ConnectionID).Msg("event not published")
		}
	}
}

// transition moves c to status `to` or returns a *TransitionError, logged
// at warn level since normal clients never attempt one.
func (w *Workflow) transition(c *model.Connection, op string, to model.ConnectionStatus, at time.Time) error {
	if !model.CanTransition(c.Status, to) {
		return w.rejectTransition(c, op, to)
	}
	c.Status = to
	c.UpdatedAt = at
	return nil
}

func (w *Workflow) rejectTransition(c *model.Connection, op string, to model.ConnectionStatus) error {
	w.log.Warn().
		Uint64("connection_id", c.ID).
		Str("op", op).
		Str("current", string(c.Status)).
		Str("attempted", string(to)).
		Msg("invalid transition")
	return &TransitionError{ConnectionID: c.ID, Op: op, Current: c.Status, Attempted: to}
}

func (w *Workflow) loadTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Connection, error) {
	c, err := w.connections.GetTx(ctx, tx, id)
	return c, mapNotFound(err)
}

// releaseCoach frees the coach slot held by a connection that just reached
// a terminal status and returns the matching capacity event.
func (w *Workflow) releaseCoach(ctx context.Context, tx *sql.Tx, c *model.Connection, at time.Time) (*queue.ConnectionEvent, error) {
	if c.CoachID == nil {
		return nil, nil
	}
	if err := w.coaches.ReleaseSlotTx(ctx, tx, *c.CoachID); err != nil {
		return nil, err
	}
	ev := queue.NewEvent(queue.CoachCapacityFreed, at)
	ev.CoachID = *c.CoachID
	ev.ConnectionID = c.ID
	return &ev, nil
}

func connectionEvent(t queue.EventType, c *model.Connection, actorID uint64, at time.Time, notify ...uint64) queue.ConnectionEvent {
	ev := queue.NewEvent(t, at)
	ev.ConnectionID = c.ID
	ev.EventID = c.EventID
	ev.ActorID = actorID
	ev.Status = string(c.Status)
	if c.CoachID != nil {
		ev.CoachID = *c.CoachID
	}
	ev.NotifyIDs = notify
	return ev
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
