package database

import (
	"context"
	"testing"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := OpenMemory(t.Name())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db, "sqlite3"); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
	for _, table := range []string{"users", "refresh_tokens", "attendees", "connection_requests", "pair_locks", "coaches", "connections", "connection_disclosures", "connection_messages"} {
		var n int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n); err != nil || n != 1 {
			t.Errorf("table %s: n=%d err=%v", table, n, err)
		}
	}
}

func TestMigrateRejectsUnknownDriver(t *testing.T) {
	db, err := OpenMemory(t.Name())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := Migrate(context.Background(), db, "postgres"); err == nil {
		t.Fatal("unknown driver accepted")
	}
}
