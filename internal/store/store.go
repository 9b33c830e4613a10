// Package store persists users, rooms, seats, and the money trail. It
// is the single source of truth for wallet balances; chip movements
// between a wallet and a table seat always happen inside one
// transaction so a crash cannot duplicate or lose chips.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("already exists")
	ErrSeatTaken           = errors.New("seat already taken")
	ErrAlreadySeated       = errors.New("already seated in this room")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRoomNotEmpty        = errors.New("room still has seated players")
)

// RoomStatus is a room's lifecycle phase.
type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomPlaying RoomStatus = "playing"
	RoomClosed  RoomStatus = "closed"
)

// SeatStatus mirrors a player's in-hand state onto the persisted seat.
type SeatStatus string

const (
	SeatWaiting    SeatStatus = "waiting"
	SeatActive     SeatStatus = "active"
	SeatFolded     SeatStatus = "folded"
	SeatAllIn      SeatStatus = "all-in"
	SeatSittingOut SeatStatus = "sitting-out"
)

// TransactionType classifies a wallet movement.
type TransactionType string

const (
	TxnBuyIn   TransactionType = "buy_in"
	TxnCashOut TransactionType = "cash_out"
	TxnWin     TransactionType = "win"
)

type User struct {
	ID           int64
	Email        string
	Username     string
	PasswordHash string
	Balance      int64
	IsAdmin      bool
	CreatedAt    time.Time
}

type Room struct {
	ID         int64
	Name       string
	SmallBlind int64
	BigBlind   int64
	MinBuyIn   int64
	MaxBuyIn   int64
	MaxPlayers int
	Status     RoomStatus
	CreatedBy  int64
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// SeatCount is filled by room listing queries.
	SeatCount int
}

type Seat struct {
	ID         int64
	RoomID     int64
	UserID     int64
	SeatNumber int
	Stack      int64
	Status     SeatStatus
	CreatedAt  time.Time
}

type Transaction struct {
	ID            int64
	UserID        int64
	RoomID        int64 // zero when not tied to a room
	Type          TransactionType
	Amount        int64 // signed: buy-ins negative, credits positive
	BalanceBefore int64
	BalanceAfter  int64
	CreatedAt     time.Time
}

type GameHistory struct {
	ID             int64
	HandID         string
	RoomID         int64
	WinnerID       int64
	Pot            int64
	CommunityCards string // JSON card array
	HandData       []byte // opaque replayable hand record
	CreatedAt      time.Time
}

// RoomSeats pairs a room with its persisted seats, for registry
// startup.
type RoomSeats struct {
	Room  *Room
	Seats []*Seat
}

// HandWinner is one pot share in a settlement.
type HandWinner struct {
	UserID int64
	Amount int64
}

// Settlement is everything written at hand end. Stacks are absolute
// values, so applying the same settlement twice is harmless; the hand
// id keys idempotency.
type Settlement struct {
	RoomID         int64
	HandID         string
	WinnerID       int64 // first winner, for the history row
	Pot            int64
	CommunityCards string
	HandData       []byte
	Stacks         map[int64]int64 // user id -> stack after the hand
	Winners        []HandWinner
	Busted         []int64 // user ids whose seats are removed
}

// Store is the persistence surface shared by the auth service, the
// lobby, and the room engine.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, email, username, passwordHash string, balance int64, isAdmin bool) (*User, error)
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	// AdjustWalletBalance applies a signed delta and returns the new
	// balance. Fails with ErrInsufficientBalance if it would go
	// negative.
	AdjustWalletBalance(ctx context.Context, userID, delta int64) (int64, error)

	// Sessions. Only HMAC digests of tokens are stored.
	SaveSession(ctx context.Context, digest string, userID int64, expiresAt time.Time) error
	// SessionUser resolves an unexpired session to its user and slides
	// the expiry forward to refreshTo.
	SessionUser(ctx context.Context, digest string, now, refreshTo time.Time) (*User, error)
	DeleteSession(ctx context.Context, digest string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) error

	// Rooms.
	CreateRoom(ctx context.Context, room *Room) (*Room, error)
	RoomByID(ctx context.Context, id int64) (*Room, error)
	ListRooms(ctx context.Context, status RoomStatus) ([]*Room, error)
	UpdateRoomStatus(ctx context.Context, id int64, status RoomStatus) error
	// DeleteRoom removes an empty room; ErrRoomNotEmpty otherwise.
	DeleteRoom(ctx context.Context, id int64) error
	// ListOpenRoomsWithSeats returns every non-closed room and its
	// seats, for registry startup and stale-seat reclamation.
	ListOpenRoomsWithSeats(ctx context.Context) ([]*RoomSeats, error)

	// Seats.
	UpsertSeat(ctx context.Context, seat *Seat) error
	DeleteSeat(ctx context.Context, roomID, userID int64) error
	SeatByUser(ctx context.Context, roomID, userID int64) (*Seat, error)
	SeatsByRoom(ctx context.Context, roomID int64) ([]*Seat, error)

	// Money trail.
	AppendTransaction(ctx context.Context, txn *Transaction) error
	AppendGameHistory(ctx context.Context, h *GameHistory) error
	TransactionsByUser(ctx context.Context, userID int64) ([]*Transaction, error)
	GameHistoryByRoom(ctx context.Context, roomID int64, limit int) ([]*GameHistory, error)

	// Compound atomic units.
	//
	// ReserveSeat debits the wallet, creates the seat, and appends the
	// buy_in transaction as one unit.
	ReserveSeat(ctx context.Context, roomID, userID int64, seatNumber int, buyIn int64) (*Seat, error)
	// ReleaseSeat deletes the seat, credits its stack back to the
	// wallet, and appends a cash_out transaction. Returns the chips
	// credited.
	ReleaseSeat(ctx context.Context, roomID, userID int64) (int64, error)
	// SettleHand applies a hand's outcome: stack updates, the history
	// row, win transactions, and bust removals. Settling the same hand
	// id twice is a no-op.
	SettleHand(ctx context.Context, s *Settlement) error

	Close() error
}

// Open picks a backend from the DSN: postgres:// URLs use PostgreSQL,
// anything else is treated as a SQLite path (":memory:" included).
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(ctx, dsn)
	}
	if dsn == "" {
		dsn = ":memory:"
	}
	return OpenSQLite(ctx, dsn)
}
