package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// dialect abstracts the differences between the SQL backends:
// placeholder style, id generation, and unique-violation detection.
type dialect interface {
	// numberedPlaceholders reports whether the backend wants $1-style
	// placeholders instead of ?.
	numberedPlaceholders() bool
	// supportsReturning reports whether INSERT ... RETURNING id must be
	// used instead of LastInsertId.
	supportsReturning() bool
	// uniqueConstraint extracts a description of the violated unique
	// constraint from a driver error.
	uniqueConstraint(err error) (string, bool)
}

// runner is satisfied by both *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlStore struct {
	db *sql.DB
	d  dialect
}

var _ Store = (*sqlStore)(nil)

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) rebind(query string) string {
	if !s.d.numberedPlaceholders() {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// insertID runs an INSERT and returns the generated row id.
func (s *sqlStore) insertID(ctx context.Context, r runner, query string, args ...any) (int64, error) {
	if s.d.supportsReturning() {
		var id int64
		err := r.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, s.mapErr(err)
	}
	res, err := r.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, s.mapErr(err)
	}
	return res.LastInsertId()
}

// mapErr translates driver errors into the store's sentinel errors.
func (s *sqlStore) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if c, ok := s.d.uniqueConstraint(err); ok {
		switch {
		case strings.Contains(c, "seat_number"):
			return ErrSeatTaken
		case strings.Contains(c, "table_players"):
			return ErrAlreadySeated
		default:
			return ErrDuplicate
		}
	}
	return err
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

type scanner interface {
	Scan(dest ...any) error
}

const userColumns = "id, email, username, password_hash, balance, is_admin, created_at"

func scanUser(sc scanner) (*User, error) {
	var u User
	var created int64
	if err := sc.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Balance, &u.IsAdmin, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return &u, nil
}

func (s *sqlStore) CreateUser(ctx context.Context, email, username, passwordHash string, balance int64, isAdmin bool) (*User, error) {
	now := time.Now().UTC()
	id, err := s.insertID(ctx, s.db,
		`INSERT INTO users (email, username, password_hash, balance, is_admin, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		email, username, passwordHash, balance, isAdmin, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("creating user %q: %w", username, err)
	}
	return &User{
		ID:           id,
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		Balance:      balance,
		IsAdmin:      isAdmin,
		CreatedAt:    now,
	}, nil
}

func (s *sqlStore) userBy(ctx context.Context, where string, arg any) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+userColumns+` FROM users WHERE `+where), arg)
	u, err := scanUser(row)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return u, nil
}

func (s *sqlStore) UserByID(ctx context.Context, id int64) (*User, error) {
	return s.userBy(ctx, "id = ?", id)
}

func (s *sqlStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	return s.userBy(ctx, "email = ?", email)
}

func (s *sqlStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	return s.userBy(ctx, "username = ?", username)
}

func (s *sqlStore) AdjustWalletBalance(ctx context.Context, userID, delta int64) (int64, error) {
	var balance int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE users SET balance = balance + ? WHERE id = ? AND balance + ? >= 0`),
			delta, userID, delta)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Either the user is missing or the balance would go
			// negative.
			var have int64
			if err := tx.QueryRowContext(ctx, s.rebind(
				`SELECT balance FROM users WHERE id = ?`), userID).Scan(&have); err != nil {
				return s.mapErr(err)
			}
			return ErrInsufficientBalance
		}
		return tx.QueryRowContext(ctx, s.rebind(
			`SELECT balance FROM users WHERE id = ?`), userID).Scan(&balance)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *sqlStore) SaveSession(ctx context.Context, digest string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO sessions (digest, user_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (digest) DO UPDATE SET user_id = excluded.user_id, expires_at = excluded.expires_at`),
		digest, userID, expiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *sqlStore) SessionUser(ctx context.Context, digest string, now, refreshTo time.Time) (*User, error) {
	var user *User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(
			`SELECT u.id, u.email, u.username, u.password_hash, u.balance, u.is_admin, u.created_at
			 FROM sessions s JOIN users u ON u.id = s.user_id
			 WHERE s.digest = ? AND s.expires_at > ?`),
			digest, now.UnixMilli())
		u, err := scanUser(row)
		if err != nil {
			return s.mapErr(err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE sessions SET expires_at = ? WHERE digest = ?`),
			refreshTo.UnixMilli(), digest); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *sqlStore) DeleteSession(ctx context.Context, digest string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE digest = ?`), digest)
	return err
}

func (s *sqlStore) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE expires_at <= ?`), now.UnixMilli())
	return err
}

const roomColumns = `r.id, r.name, r.small_blind, r.big_blind, r.min_buy_in, r.max_buy_in, r.max_players,
	r.status, r.created_by, r.created_at, r.updated_at,
	(SELECT COUNT(*) FROM table_players tp WHERE tp.room_id = r.id)`

func scanRoom(sc scanner) (*Room, error) {
	var r Room
	var createdBy sql.NullInt64
	var created, updated int64
	if err := sc.Scan(&r.ID, &r.Name, &r.SmallBlind, &r.BigBlind, &r.MinBuyIn, &r.MaxBuyIn,
		&r.MaxPlayers, &r.Status, &createdBy, &created, &updated, &r.SeatCount); err != nil {
		return nil, err
	}
	r.CreatedBy = createdBy.Int64
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	return &r, nil
}

func (s *sqlStore) CreateRoom(ctx context.Context, room *Room) (*Room, error) {
	now := time.Now().UTC()
	if room.Status == "" {
		room.Status = RoomWaiting
	}
	id, err := s.insertID(ctx, s.db,
		`INSERT INTO rooms (name, small_blind, big_blind, min_buy_in, max_buy_in, max_players, status, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		room.Name, room.SmallBlind, room.BigBlind, room.MinBuyIn, room.MaxBuyIn,
		room.MaxPlayers, room.Status, nullID(room.CreatedBy), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("creating room %q: %w", room.Name, err)
	}
	room.ID = id
	room.CreatedAt = now
	room.UpdatedAt = now
	return room, nil
}

func (s *sqlStore) RoomByID(ctx context.Context, id int64) (*Room, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+roomColumns+` FROM rooms r WHERE r.id = ?`), id)
	r, err := scanRoom(row)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return r, nil
}

func (s *sqlStore) ListRooms(ctx context.Context, status RoomStatus) ([]*Room, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+roomColumns+` FROM rooms r WHERE r.status = ? ORDER BY r.id`), status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateRoomStatus(ctx context.Context, id int64, status RoomStatus) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE rooms SET status = ?, updated_at = ? WHERE id = ?`),
		status, time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) DeleteRoom(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var seats int
		if err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT COUNT(*) FROM table_players WHERE room_id = ?`), id).Scan(&seats); err != nil {
			return err
		}
		if seats > 0 {
			return ErrRoomNotEmpty
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM rooms WHERE id = ?`), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *sqlStore) ListOpenRoomsWithSeats(ctx context.Context) ([]*RoomSeats, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+roomColumns+` FROM rooms r WHERE r.status != ? ORDER BY r.id`), RoomClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]*RoomSeats)
	var out []*RoomSeats
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rs := &RoomSeats{Room: r}
		byID[r.ID] = rs
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seatRows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+seatColumns+` FROM table_players
		 WHERE room_id IN (SELECT id FROM rooms WHERE status != ?) ORDER BY room_id, seat_number`), RoomClosed)
	if err != nil {
		return nil, err
	}
	defer seatRows.Close()
	for seatRows.Next() {
		seat, err := scanSeat(seatRows)
		if err != nil {
			return nil, err
		}
		if rs, ok := byID[seat.RoomID]; ok {
			rs.Seats = append(rs.Seats, seat)
		}
	}
	return out, seatRows.Err()
}

const seatColumns = "id, room_id, user_id, seat_number, stack, status, created_at"

func scanSeat(sc scanner) (*Seat, error) {
	var seat Seat
	var created int64
	if err := sc.Scan(&seat.ID, &seat.RoomID, &seat.UserID, &seat.SeatNumber,
		&seat.Stack, &seat.Status, &created); err != nil {
		return nil, err
	}
	seat.CreatedAt = time.UnixMilli(created).UTC()
	return &seat, nil
}

func (s *sqlStore) UpsertSeat(ctx context.Context, seat *Seat) error {
	if seat.Status == "" {
		seat.Status = SeatWaiting
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO table_players (room_id, user_id, seat_number, stack, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (room_id, user_id) DO UPDATE SET
		   seat_number = excluded.seat_number, stack = excluded.stack, status = excluded.status`),
		seat.RoomID, seat.UserID, seat.SeatNumber, seat.Stack, seat.Status,
		time.Now().UTC().UnixMilli())
	return s.mapErr(err)
}

func (s *sqlStore) DeleteSeat(ctx context.Context, roomID, userID int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM table_players WHERE room_id = ? AND user_id = ?`), roomID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) SeatByUser(ctx context.Context, roomID, userID int64) (*Seat, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+seatColumns+` FROM table_players WHERE room_id = ? AND user_id = ?`),
		roomID, userID)
	seat, err := scanSeat(row)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return seat, nil
}

func (s *sqlStore) SeatsByRoom(ctx context.Context, roomID int64) ([]*Seat, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+seatColumns+` FROM table_players WHERE room_id = ? ORDER BY seat_number`), roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seat)
	}
	return out, rows.Err()
}

func (s *sqlStore) appendTransaction(ctx context.Context, r runner, txn *Transaction) error {
	id, err := s.insertID(ctx, r,
		`INSERT INTO transactions (user_id, room_id, type, amount, balance_before, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		txn.UserID, nullID(txn.RoomID), txn.Type, txn.Amount,
		txn.BalanceBefore, txn.BalanceAfter, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("appending %s transaction: %w", txn.Type, err)
	}
	txn.ID = id
	return nil
}

func (s *sqlStore) AppendTransaction(ctx context.Context, txn *Transaction) error {
	return s.appendTransaction(ctx, s.db, txn)
}

func (s *sqlStore) appendGameHistory(ctx context.Context, r runner, h *GameHistory) error {
	id, err := s.insertID(ctx, r,
		`INSERT INTO game_history (hand_id, room_id, winner_id, pot, community_cards, hand_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.HandID, h.RoomID, nullID(h.WinnerID), h.Pot, h.CommunityCards, h.HandData,
		time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("appending game history: %w", err)
	}
	h.ID = id
	return nil
}

func (s *sqlStore) AppendGameHistory(ctx context.Context, h *GameHistory) error {
	return s.appendGameHistory(ctx, s.db, h)
}

func (s *sqlStore) TransactionsByUser(ctx context.Context, userID int64) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, user_id, room_id, type, amount, balance_before, balance_after, created_at
		 FROM transactions WHERE user_id = ? ORDER BY id`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var txn Transaction
		var roomID sql.NullInt64
		var created int64
		if err := rows.Scan(&txn.ID, &txn.UserID, &roomID, &txn.Type, &txn.Amount,
			&txn.BalanceBefore, &txn.BalanceAfter, &created); err != nil {
			return nil, err
		}
		txn.RoomID = roomID.Int64
		txn.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, &txn)
	}
	return out, rows.Err()
}

func (s *sqlStore) GameHistoryByRoom(ctx context.Context, roomID int64, limit int) ([]*GameHistory, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, hand_id, room_id, winner_id, pot, community_cards, hand_data, created_at
		 FROM game_history WHERE room_id = ? ORDER BY id DESC LIMIT ?`), roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GameHistory
	for rows.Next() {
		var h GameHistory
		var winnerID sql.NullInt64
		var created int64
		if err := rows.Scan(&h.ID, &h.HandID, &h.RoomID, &winnerID, &h.Pot,
			&h.CommunityCards, &h.HandData, &created); err != nil {
			return nil, err
		}
		h.WinnerID = winnerID.Int64
		h.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *sqlStore) ReserveSeat(ctx context.Context, roomID, userID int64, seatNumber int, buyIn int64) (*Seat, error) {
	var seat *Seat
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Surface seat conflicts before touching the wallet.
		var one int
		err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT 1 FROM table_players WHERE room_id = ? AND user_id = ?`),
			roomID, userID).Scan(&one)
		if err == nil {
			return ErrAlreadySeated
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		err = tx.QueryRowContext(ctx, s.rebind(
			`SELECT 1 FROM table_players WHERE room_id = ? AND seat_number = ?`),
			roomID, seatNumber).Scan(&one)
		if err == nil {
			return ErrSeatTaken
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var before int64
		if err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT balance FROM users WHERE id = ?`), userID).Scan(&before); err != nil {
			return s.mapErr(err)
		}
		if before < buyIn {
			return ErrInsufficientBalance
		}
		res, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE users SET balance = balance - ? WHERE id = ? AND balance >= ?`),
			buyIn, userID, buyIn)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrInsufficientBalance
		}

		now := time.Now().UTC()
		id, err := s.insertID(ctx, tx,
			`INSERT INTO table_players (room_id, user_id, seat_number, stack, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			roomID, userID, seatNumber, buyIn, SeatWaiting, now.UnixMilli())
		if err != nil {
			return err
		}
		if err := s.appendTransaction(ctx, tx, &Transaction{
			UserID:        userID,
			RoomID:        roomID,
			Type:          TxnBuyIn,
			Amount:        -buyIn,
			BalanceBefore: before,
			BalanceAfter:  before - buyIn,
		}); err != nil {
			return err
		}
		seat = &Seat{
			ID:         id,
			RoomID:     roomID,
			UserID:     userID,
			SeatNumber: seatNumber,
			Stack:      buyIn,
			Status:     SeatWaiting,
			CreatedAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seat, nil
}

func (s *sqlStore) ReleaseSeat(ctx context.Context, roomID, userID int64) (int64, error) {
	var credited int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var stack int64
		if err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT stack FROM table_players WHERE room_id = ? AND user_id = ?`),
			roomID, userID).Scan(&stack); err != nil {
			return s.mapErr(err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(
			`DELETE FROM table_players WHERE room_id = ? AND user_id = ?`),
			roomID, userID); err != nil {
			return err
		}
		var before int64
		if err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT balance FROM users WHERE id = ?`), userID).Scan(&before); err != nil {
			return s.mapErr(err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE users SET balance = balance + ? WHERE id = ?`),
			stack, userID); err != nil {
			return err
		}
		if err := s.appendTransaction(ctx, tx, &Transaction{
			UserID:        userID,
			RoomID:        roomID,
			Type:          TxnCashOut,
			Amount:        stack,
			BalanceBefore: before,
			BalanceAfter:  before + stack,
		}); err != nil {
			return err
		}
		credited = stack
		return nil
	})
	if err != nil {
		return 0, err
	}
	return credited, nil
}

func (s *sqlStore) SettleHand(ctx context.Context, settlement *Settlement) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// The hand id keys idempotency: a settlement that already
		// landed is not applied twice.
		var count int
		if err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT COUNT(*) FROM game_history WHERE hand_id = ?`),
			settlement.HandID).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		if err := s.appendGameHistory(ctx, tx, &GameHistory{
			HandID:         settlement.HandID,
			RoomID:         settlement.RoomID,
			WinnerID:       settlement.WinnerID,
			Pot:            settlement.Pot,
			CommunityCards: settlement.CommunityCards,
			HandData:       settlement.HandData,
		}); err != nil {
			return err
		}

		for userID, stack := range settlement.Stacks {
			if _, err := tx.ExecContext(ctx, s.rebind(
				`UPDATE table_players SET stack = ?, status = ? WHERE room_id = ? AND user_id = ?`),
				stack, SeatWaiting, settlement.RoomID, userID); err != nil {
				return err
			}
		}

		for _, w := range settlement.Winners {
			var balance int64
			if err := tx.QueryRowContext(ctx, s.rebind(
				`SELECT balance FROM users WHERE id = ?`), w.UserID).Scan(&balance); err != nil {
				return s.mapErr(err)
			}
			// Winnings stay on the table as stack; the wallet balance
			// is unchanged but the win is recorded in the ledger.
			if err := s.appendTransaction(ctx, tx, &Transaction{
				UserID:        w.UserID,
				RoomID:        settlement.RoomID,
				Type:          TxnWin,
				Amount:        w.Amount,
				BalanceBefore: balance,
				BalanceAfter:  balance,
			}); err != nil {
				return err
			}
		}

		for _, userID := range settlement.Busted {
			if _, err := tx.ExecContext(ctx, s.rebind(
				`DELETE FROM table_players WHERE room_id = ? AND user_id = ?`),
				settlement.RoomID, userID); err != nil {
				return err
			}
		}
		return nil
	})
}
