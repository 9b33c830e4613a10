package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		digest TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		small_blind BIGINT NOT NULL,
		big_blind BIGINT NOT NULL,
		min_buy_in BIGINT NOT NULL,
		max_buy_in BIGINT NOT NULL,
		max_players INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'waiting',
		created_by BIGINT REFERENCES users(id),
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS table_players (
		id BIGSERIAL PRIMARY KEY,
		room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		seat_number INTEGER NOT NULL,
		stack BIGINT NOT NULL CHECK (stack >= 0),
		status TEXT NOT NULL DEFAULT 'waiting',
		created_at BIGINT NOT NULL,
		UNIQUE (room_id, seat_number),
		UNIQUE (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		room_id BIGINT REFERENCES rooms(id),
		type TEXT NOT NULL,
		amount BIGINT NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS game_history (
		id BIGSERIAL PRIMARY KEY,
		hand_id TEXT NOT NULL UNIQUE,
		room_id BIGINT NOT NULL REFERENCES rooms(id),
		winner_id BIGINT REFERENCES users(id),
		pot BIGINT NOT NULL,
		community_cards TEXT NOT NULL,
		hand_data BYTEA NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_game_history_room ON game_history(room_id)`,
}

type postgresDialect struct{}

func (postgresDialect) numberedPlaceholders() bool { return true }
func (postgresDialect) supportsReturning() bool    { return true }

func (postgresDialect) uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}

// OpenPostgres connects to PostgreSQL with the given DSN and
// bootstraps the schema.
func OpenPostgres(ctx context.Context, dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrapping postgres schema: %w", err)
		}
	}
	return &sqlStore{db: db, d: postgresDialect{}}, nil
}
