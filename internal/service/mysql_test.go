package service

import (
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

// newMySQLFixture runs against the MySQL database named by DB_DSN, with a
// real connection pool so transactions interleave.  Tests using it are
// skipped when DB_DSN is unset.
func newMySQLFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN not set")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("parse DB_DSN: %v", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	db.SetMaxOpenConns(8)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("ping mysql: %v", err)
	}
	return fixtureOn(t, db, "mysql", fmt.Sprintf("-%d-", time.Now().UnixNano()))
}

func TestMySQLConcurrentReciprocalSubmissions(t *testing.T) {
	raceReciprocalSubmissions(t, newMySQLFixture(t))
}

func TestMySQLConcurrentSecondConsent(t *testing.T) {
	raceSecondConsent(t, newMySQLFixture(t), 14)
}
