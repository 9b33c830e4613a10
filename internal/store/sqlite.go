package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		digest TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		small_blind INTEGER NOT NULL,
		big_blind INTEGER NOT NULL,
		min_buy_in INTEGER NOT NULL,
		max_buy_in INTEGER NOT NULL,
		max_players INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'waiting',
		created_by INTEGER REFERENCES users(id),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS table_players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		seat_number INTEGER NOT NULL,
		stack INTEGER NOT NULL CHECK (stack >= 0),
		status TEXT NOT NULL DEFAULT 'waiting',
		created_at INTEGER NOT NULL,
		UNIQUE (room_id, seat_number),
		UNIQUE (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		room_id INTEGER REFERENCES rooms(id),
		type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS game_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hand_id TEXT NOT NULL UNIQUE,
		room_id INTEGER NOT NULL REFERENCES rooms(id),
		winner_id INTEGER REFERENCES users(id),
		pot INTEGER NOT NULL,
		community_cards TEXT NOT NULL,
		hand_data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_game_history_room ON game_history(room_id)`,
}

type sqliteDialect struct{}

func (sqliteDialect) numberedPlaceholders() bool { return false }
func (sqliteDialect) supportsReturning() bool    { return false }

func (sqliteDialect) uniqueConstraint(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	const marker = "UNIQUE constraint failed: "
	msg := err.Error()
	i := strings.Index(msg, marker)
	if i < 0 {
		return "", false
	}
	// The driver appends the result code: "... users.email (2067)".
	rest := msg[i+len(marker):]
	if j := strings.IndexByte(rest, '('); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest), true
}

// OpenSQLite opens or creates a SQLite database at path (":memory:"
// for tests) and bootstraps the schema. The pool is capped at a single
// connection; SQLite allows one writer and busy_timeout absorbs
// contention.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrapping sqlite schema: %w", err)
		}
	}
	return &sqlStore{db: db, d: sqliteDialect{}}, nil
}
