package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/entreprinder/connection-service/internal/database"
	"github.com/entreprinder/connection-service/internal/model"
)

var at = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mkUsers(t *testing.T, db *sql.DB, n int) []uint64 {
	t.Helper()
	users := NewUserRepo(db)
	ids := make([]uint64, n)
	for i := range ids {
		id, err := users.Create(context.Background(), fmt.Sprintf("u%d@example.com", i), "password123", model.RoleMember, fmt.Sprintf("U%d", i), 4)
		if err != nil {
			t.Fatalf("user: %v", err)
		}
		ids[i] = id
	}
	return ids
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func TestUserRepoEmailIsUniqueAndNormalized(t *testing.T) {
	db := openDB(t)
	users := NewUserRepo(db)
	ctx := context.Background()
	id, err := users.Create(ctx, "  Ann@Example.com ", "password123", model.RoleMember, "Ann", 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := users.Create(ctx, "ann@example.com", "password123", model.RoleMember, "Ann", 4); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("duplicate: %v", err)
	}
	u, err := users.GetByEmail(ctx, "ANN@example.com")
	if err != nil || u.ID != id || u.Email != "ann@example.com" || !u.IsActive {
		t.Fatalf("get: %+v %v", u, err)
	}
	if _, err := users.GetByID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
	if err := users.UpdateContact(ctx, 999, "x", "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
}

func TestRefreshTokenRevocationIsSingleUse(t *testing.T) {
	db := openDB(t)
	uid := mkUsers(t, db, 1)[0]
	tokens := NewTokenRepo(db)
	ctx := context.Background()
	if err := tokens.StoreRefresh(ctx, uid, "hash-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("store: %v", err)
	}
	if got, err := tokens.ValidateRefresh(ctx, "hash-1"); err != nil || got != uid {
		t.Fatalf("validate: %d %v", got, err)
	}
	if err := tokens.RevokeByHash(ctx, "hash-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := tokens.RevokeByHash(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second revoke: %v", err)
	}
	if _, err := tokens.ValidateRefresh(ctx, "hash-1"); err == nil {
		t.Fatal("revoked token validated")
	}
	if err := tokens.StoreRefresh(ctx, uid, "hash-old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("store expired: %v", err)
	}
	if _, err := tokens.ValidateRefresh(ctx, "hash-old"); err == nil {
		t.Fatal("expired token validated")
	}
}

func TestAttendeeConfirmIsIdempotent(t *testing.T) {
	db := openDB(t)
	ids := mkUsers(t, db, 2)
	repo := NewAttendeeRepo(db)
	ctx := context.Background()
	first, err := repo.Confirm(ctx, 42, ids[0], at)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	again, err := repo.Confirm(ctx, 42, ids[0], at.Add(time.Hour))
	if err != nil || again.ID != first.ID || !again.ConfirmedAt.Equal(at) {
		t.Fatalf("replay: %+v %v", again, err)
	}
	err = inTx(t, db, func(tx *sql.Tx) error {
		ok, err := repo.AttendedTx(ctx, tx, 42, ids[0], ids[1])
		if err != nil || ok {
			return fmt.Errorf("both attended = %v %v", ok, err)
		}
		ok, err = repo.AttendedTx(ctx, tx, 42, ids[0])
		if err != nil || !ok {
			return fmt.Errorf("one attended = %v %v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	list, err := repo.ListByEvent(ctx, 42)
	if err != nil || len(list) != 1 || list[0].UserID != ids[0] {
		t.Fatalf("list: %+v %v", list, err)
	}
}

func TestRequestActiveKeyIsReleasedOnResolve(t *testing.T) {
	db := openDB(t)
	ids := mkUsers(t, db, 2)
	repo := NewRequestRepo(db)
	ctx := context.Background()

	req := &model.ConnectionRequest{RequesterID: ids[0], RecipientID: ids[1], EventID: 5, CreatedAt: at}
	if err := inTx(t, db, func(tx *sql.Tx) error { return repo.CreateTx(ctx, tx, req) }); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := &model.ConnectionRequest{RequesterID: ids[0], RecipientID: ids[1], EventID: 5, CreatedAt: at}
	if err := inTx(t, db, func(tx *sql.Tx) error { return repo.CreateTx(ctx, tx, dup) }); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate: %v", err)
	}
	if err := inTx(t, db, func(tx *sql.Tx) error {
		return repo.ResolveTx(ctx, tx, req.ID, model.RequestWithdrawn, at)
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := inTx(t, db, func(tx *sql.Tx) error {
		return repo.ResolveTx(ctx, tx, req.ID, model.RequestAccepted, at)
	}); !errors.Is(err, ErrStale) {
		t.Fatalf("second resolve: %v", err)
	}
	got, err := repo.GetByID(ctx, req.ID)
	if err != nil || got.Status != model.RequestWithdrawn || got.ResolvedAt == nil {
		t.Fatalf("tombstone: %+v %v", got, err)
	}
	if err := inTx(t, db, func(tx *sql.Tx) error { return repo.CreateTx(ctx, tx, dup) }); err != nil {
		t.Fatalf("fresh request after withdraw: %v", err)
	}
}

func TestHasOutstandingIgnoresWithdrawnAndDirection(t *testing.T) {
	db := openDB(t)
	ids := mkUsers(t, db, 2)
	a, b := ids[0], ids[1]
	repo := NewRequestRepo(db)
	ctx := context.Background()

	outstanding := func(from, to, event uint64) bool {
		t.Helper()
		var ok bool
		if err := inTx(t, db, func(tx *sql.Tx) error {
			var err error
			ok, err = repo.HasOutstandingTx(ctx, tx, from, to, event)
			return err
		}); err != nil {
			t.Fatalf("outstanding: %v", err)
		}
		return ok
	}
	resolve := func(id uint64, st model.RequestStatus) {
		t.Helper()
		if err := inTx(t, db, func(tx *sql.Tx) error { return repo.ResolveTx(ctx, tx, id, st, at) }); err != nil {
			t.Fatalf("resolve %s: %v", st, err)
		}
	}

	req := &model.ConnectionRequest{RequesterID: a, RecipientID: b, EventID: 9, CreatedAt: at}
	if err := inTx(t, db, func(tx *sql.Tx) error { return repo.CreateTx(ctx, tx, req) }); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !outstanding(a, b, 9) || outstanding(b, a, 9) || outstanding(a, b, 10) {
		t.Fatal("pending request should only count for its own direction and event")
	}
	resolve(req.ID, model.RequestWithdrawn)
	if outstanding(a, b, 9) {
		t.Fatal("withdrawn request still counted")
	}

	again := &model.ConnectionRequest{RequesterID: a, RecipientID: b, EventID: 9, CreatedAt: at}
	if err := inTx(t, db, func(tx *sql.Tx) error { return repo.CreateTx(ctx, tx, again) }); err != nil {
		t.Fatalf("create after withdraw: %v", err)
	}
	resolve(again.ID, model.RequestDeclined)
	if !outstanding(a, b, 9) {
		t.Fatal("declined request should still count")
	}
}

func TestConnectionUpdateIsVersionGuarded(t *testing.T) {
	db := openDB(t)
	ids := mkUsers(t, db, 2)
	ctx := context.Background()
	requests := NewRequestRepo(db)
	conns := NewConnectionRepo(db)

	req := &model.ConnectionRequest{RequesterID: ids[0], RecipientID: ids[1], EventID: 9, CreatedAt: at}
	a, b := model.SortPair(ids[0], ids[1])
	c := &model.Connection{
		PairKey: model.PairKey(ids[0], ids[1], 9), EventID: 9, PartyAID: a, PartyBID: b,
		Status: model.StatusMutualDetected, CreatedAt: at,
	}
	err := inTx(t, db, func(tx *sql.Tx) error {
		if err := requests.CreateTx(ctx, tx, req); err != nil {
			return err
		}
		c.InitialRequestID = req.ID
		if err := conns.LockPairTx(ctx, tx, c.PairKey, at); err != nil {
			return err
		}
		return conns.CreateTx(ctx, tx, c)
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	twin := *c
	twin.ID = 0
	if err := inTx(t, db, func(tx *sql.Tx) error { return conns.CreateTx(ctx, tx, &twin) }); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second connection for pair: %v", err)
	}

	stale := *c
	c.Status = model.StatusAwaitingCoach
	c.UpdatedAt = at.Add(time.Minute)
	if err := inTx(t, db, func(tx *sql.Tx) error { return conns.UpdateTx(ctx, tx, c) }); err != nil {
		t.Fatalf("update: %v", err)
	}
	stale.Status = model.StatusCoachReviewing
	if err := inTx(t, db, func(tx *sql.Tx) error { return conns.UpdateTx(ctx, tx, &stale) }); !errors.Is(err, ErrStale) || !IsRetryable(err) {
		t.Fatalf("stale update: %v", err)
	}
	got, err := conns.GetByID(ctx, c.ID)
	if err != nil || got.Status != model.StatusAwaitingCoach || got.Version != 2 {
		t.Fatalf("reload: %+v %v", got, err)
	}
	if n, _ := conns.CountByPairKey(ctx, c.PairKey); n != 1 {
		t.Fatalf("pair count = %d", n)
	}

	// relay stays open until a terminal status that closes it
	var open bool
	if err := inTx(t, db, func(tx *sql.Tx) (err error) {
		open, err = conns.TouchOpenTx(ctx, tx, c.ID, at)
		return err
	}); err != nil || !open {
		t.Fatalf("touch open: %v %v", open, err)
	}
	got.Status = model.StatusRevoked
	if err := inTx(t, db, func(tx *sql.Tx) error { return conns.UpdateTx(ctx, tx, got) }); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := inTx(t, db, func(tx *sql.Tx) (err error) {
		open, err = conns.TouchOpenTx(ctx, tx, c.ID, at)
		return err
	}); err != nil || open {
		t.Fatalf("touch revoked: %v %v", open, err)
	}
}

func TestCoachSlotsNeverExceedCapacity(t *testing.T) {
	db := openDB(t)
	users := NewUserRepo(db)
	ctx := context.Background()
	coaches := NewCoachRepo(db)
	var ids []uint64
	for i := 0; i < 2; i++ {
		id, err := users.Create(ctx, fmt.Sprintf("coach%d@example.com", i), "password123", model.RoleCoach, fmt.Sprintf("Coach %d", i), 4)
		if err != nil {
			t.Fatalf("user: %v", err)
		}
		if err := coaches.Create(ctx, id, "", 1, at); err != nil {
			t.Fatalf("coach: %v", err)
		}
		ids = append(ids, id)
	}
	if err := coaches.Create(ctx, ids[0], "", 1, at); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate coach: %v", err)
	}

	err := inTx(t, db, func(tx *sql.Tx) error {
		ok, err := coaches.ReserveSlotTx(ctx, tx, ids[0])
		if err != nil || !ok {
			return fmt.Errorf("first reserve: %v %v", ok, err)
		}
		ok, err = coaches.ReserveSlotTx(ctx, tx, ids[0])
		if err != nil || ok {
			return fmt.Errorf("over capacity: %v %v", ok, err)
		}
		cands, err := coaches.CandidatesTx(ctx, tx)
		if err != nil || len(cands) != 1 || cands[0].UserID != ids[1] {
			return fmt.Errorf("candidates: %+v %v", cands, err)
		}
		return coaches.ReleaseSlotTx(ctx, tx, ids[0])
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := coaches.GetByID(ctx, ids[0])
	if err != nil || c.ActiveLoad != 0 || c.DisplayName != "Coach 0" {
		t.Fatalf("coach: %+v %v", c, err)
	}
	if err := coaches.UpdateCapacity(ctx, 999, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
}
