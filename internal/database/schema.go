package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schema is written once for both drivers.  The only dialect difference
// is the auto-increment primary key, substituted for {{pk}}.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{pk}},
		email VARCHAR(191) NOT NULL,
		password_hash VARCHAR(100) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'MEMBER',
		display_name VARCHAR(100) NOT NULL DEFAULT '',
		phone VARCHAR(32) NOT NULL DEFAULT '',
		social_handle VARCHAR(100) NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (email)
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id {{pk}},
		user_id BIGINT UNSIGNED NOT NULL,
		token_hash VARCHAR(64) NOT NULL,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (token_hash),
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`,
	`CREATE TABLE IF NOT EXISTS attendees (
		id {{pk}},
		event_id BIGINT UNSIGNED NOT NULL,
		user_id BIGINT UNSIGNED NOT NULL,
		confirmed_at DATETIME NOT NULL,
		UNIQUE (event_id, user_id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`,
	`CREATE TABLE IF NOT EXISTS connection_requests (
		id {{pk}},
		requester_id BIGINT UNSIGNED NOT NULL,
		recipient_id BIGINT UNSIGNED NOT NULL,
		event_id BIGINT UNSIGNED NOT NULL,
		note VARCHAR(1000) NOT NULL DEFAULT '',
		status VARCHAR(24) NOT NULL,
		active_key VARCHAR(96) NULL,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME NULL,
		UNIQUE (active_key),
		FOREIGN KEY (requester_id) REFERENCES users(id),
		FOREIGN KEY (recipient_id) REFERENCES users(id)
	)`,
	`CREATE TABLE IF NOT EXISTS pair_locks (
		pair_key VARCHAR(96) NOT NULL PRIMARY KEY,
		touched_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS coaches (
		user_id BIGINT UNSIGNED NOT NULL PRIMARY KEY,
		specialization VARCHAR(64) NOT NULL DEFAULT '',
		capacity INT NOT NULL,
		active_load INT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`,
	`CREATE TABLE IF NOT EXISTS connections (
		id {{pk}},
		pair_key VARCHAR(96) NOT NULL,
		event_id BIGINT UNSIGNED NOT NULL,
		party_a_id BIGINT UNSIGNED NOT NULL,
		party_b_id BIGINT UNSIGNED NOT NULL,
		initial_request_id BIGINT UNSIGNED NOT NULL,
		reciprocal_request_id BIGINT UNSIGNED NULL,
		status VARCHAR(24) NOT NULL,
		coach_id BIGINT UNSIGNED NULL,
		coach_introduction TEXT NULL,
		party_a_fields VARCHAR(64) NOT NULL DEFAULT '',
		party_a_consented_at DATETIME NULL,
		party_b_fields VARCHAR(64) NOT NULL DEFAULT '',
		party_b_consented_at DATETIME NULL,
		version BIGINT UNSIGNED NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		assigned_at DATETIME NULL,
		introduced_at DATETIME NULL,
		shared_at DATETIME NULL,
		revoked_at DATETIME NULL,
		revoked_by BIGINT UNSIGNED NULL,
		declined_at DATETIME NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (pair_key),
		FOREIGN KEY (party_a_id) REFERENCES users(id),
		FOREIGN KEY (party_b_id) REFERENCES users(id),
		FOREIGN KEY (initial_request_id) REFERENCES connection_requests(id),
		FOREIGN KEY (coach_id) REFERENCES coaches(user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS connection_disclosures (
		id {{pk}},
		connection_id BIGINT UNSIGNED NOT NULL,
		owner_id BIGINT UNSIGNED NOT NULL,
		field VARCHAR(16) NOT NULL,
		value VARCHAR(191) NOT NULL,
		disclosed_at DATETIME NOT NULL,
		UNIQUE (connection_id, owner_id, field),
		FOREIGN KEY (connection_id) REFERENCES connections(id)
	)`,
	`CREATE TABLE IF NOT EXISTS connection_messages (
		id {{pk}},
		connection_id BIGINT UNSIGNED NOT NULL,
		sender_id BIGINT UNSIGNED NOT NULL,
		body TEXT NOT NULL,
		coach_visible BOOLEAN NOT NULL DEFAULT TRUE,
		sent_at DATETIME NOT NULL,
		FOREIGN KEY (connection_id) REFERENCES connections(id),
		FOREIGN KEY (sender_id) REFERENCES users(id)
	)`,
}

var primaryKeys = map[string]string{
	"mysql":   "BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY",
	"sqlite3": "INTEGER PRIMARY KEY AUTOINCREMENT",
}

// Migrate creates any missing tables.  It is idempotent and safe to run on
// every start.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	pk, ok := primaryKeys[driver]
	if !ok {
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, strings.ReplaceAll(stmt, "{{pk}}", pk)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
