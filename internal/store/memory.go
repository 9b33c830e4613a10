package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests. It mirrors the SQL
// backends' semantics, including the compound atomic units and their
// error cases.
type Memory struct {
	mu sync.Mutex

	nextUserID int64
	nextRoomID int64
	nextSeatID int64
	nextTxnID  int64
	nextHistID int64

	users    map[int64]*User
	sessions map[string]*memSession
	rooms    map[int64]*Room
	seats    map[seatKey]*Seat
	txns     []*Transaction
	history  []*GameHistory
	settled  map[string]bool
}

type memSession struct {
	userID    int64
	expiresAt time.Time
}

type seatKey struct {
	roomID int64
	userID int64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[int64]*User),
		sessions: make(map[string]*memSession),
		rooms:    make(map[int64]*Room),
		seats:    make(map[seatKey]*Seat),
		settled:  make(map[string]bool),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateUser(_ context.Context, email, username, passwordHash string, balance int64, isAdmin bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email || u.Username == username {
			return nil, ErrDuplicate
		}
	}
	m.nextUserID++
	u := &User{
		ID:           m.nextUserID,
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		Balance:      balance,
		IsAdmin:      isAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[u.ID] = u
	out := *u
	return &out, nil
}

func (m *Memory) UserByID(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) AdjustWalletBalance(_ context.Context, userID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	if u.Balance+delta < 0 {
		return 0, ErrInsufficientBalance
	}
	u.Balance += delta
	return u.Balance, nil
}

func (m *Memory) SaveSession(_ context.Context, digest string, userID int64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[digest] = &memSession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *Memory) SessionUser(_ context.Context, digest string, now, refreshTo time.Time) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[digest]
	if !ok || !s.expiresAt.After(now) {
		return nil, ErrNotFound
	}
	u, ok := m.users[s.userID]
	if !ok {
		return nil, ErrNotFound
	}
	s.expiresAt = refreshTo
	out := *u
	return &out, nil
}

func (m *Memory) DeleteSession(_ context.Context, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, digest)
	return nil
}

func (m *Memory) DeleteExpiredSessions(_ context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for digest, s := range m.sessions {
		if !s.expiresAt.After(now) {
			delete(m.sessions, digest)
		}
	}
	return nil
}

func (m *Memory) CreateRoom(_ context.Context, room *Room) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRoomID++
	now := time.Now().UTC()
	r := *room
	r.ID = m.nextRoomID
	if r.Status == "" {
		r.Status = RoomWaiting
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	m.rooms[r.ID] = &r
	out := r
	return &out, nil
}

func (m *Memory) seatCountLocked(roomID int64) int {
	n := 0
	for k := range m.seats {
		if k.roomID == roomID {
			n++
		}
	}
	return n
}

func (m *Memory) RoomByID(_ context.Context, id int64) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	out.SeatCount = m.seatCountLocked(id)
	return &out, nil
}

func (m *Memory) ListRooms(_ context.Context, status RoomStatus) ([]*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Room
	for id := int64(1); id <= m.nextRoomID; id++ {
		r, ok := m.rooms[id]
		if !ok || r.Status != status {
			continue
		}
		copied := *r
		copied.SeatCount = m.seatCountLocked(id)
		out = append(out, &copied)
	}
	return out, nil
}

func (m *Memory) UpdateRoomStatus(_ context.Context, id int64, status RoomStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteRoom(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return ErrNotFound
	}
	if m.seatCountLocked(id) > 0 {
		return ErrRoomNotEmpty
	}
	delete(m.rooms, id)
	return nil
}

func (m *Memory) ListOpenRoomsWithSeats(_ context.Context) ([]*RoomSeats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RoomSeats
	for id := int64(1); id <= m.nextRoomID; id++ {
		r, ok := m.rooms[id]
		if !ok || r.Status == RoomClosed {
			continue
		}
		copied := *r
		copied.SeatCount = m.seatCountLocked(id)
		rs := &RoomSeats{Room: &copied}
		for _, seat := range m.seatsByRoomLocked(id) {
			rs.Seats = append(rs.Seats, seat)
		}
		out = append(out, rs)
	}
	return out, nil
}

func (m *Memory) seatsByRoomLocked(roomID int64) []*Seat {
	var out []*Seat
	for k, seat := range m.seats {
		if k.roomID == roomID {
			copied := *seat
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNumber < out[j].SeatNumber })
	return out
}

func (m *Memory) UpsertSeat(_ context.Context, seat *Seat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seatKey{seat.RoomID, seat.UserID}
	for k, other := range m.seats {
		if k.roomID == seat.RoomID && k.userID != seat.UserID && other.SeatNumber == seat.SeatNumber {
			return ErrSeatTaken
		}
	}
	if existing, ok := m.seats[key]; ok {
		existing.SeatNumber = seat.SeatNumber
		existing.Stack = seat.Stack
		existing.Status = seat.Status
		return nil
	}
	m.nextSeatID++
	copied := *seat
	copied.ID = m.nextSeatID
	if copied.Status == "" {
		copied.Status = SeatWaiting
	}
	copied.CreatedAt = time.Now().UTC()
	m.seats[key] = &copied
	return nil
}

func (m *Memory) DeleteSeat(_ context.Context, roomID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seatKey{roomID, userID}
	if _, ok := m.seats[key]; !ok {
		return ErrNotFound
	}
	delete(m.seats, key)
	return nil
}

func (m *Memory) SeatByUser(_ context.Context, roomID, userID int64) (*Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seat, ok := m.seats[seatKey{roomID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	out := *seat
	return &out, nil
}

func (m *Memory) SeatsByRoom(_ context.Context, roomID int64) ([]*Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seatsByRoomLocked(roomID), nil
}

func (m *Memory) appendTransactionLocked(txn *Transaction) {
	m.nextTxnID++
	copied := *txn
	copied.ID = m.nextTxnID
	copied.CreatedAt = time.Now().UTC()
	m.txns = append(m.txns, &copied)
	txn.ID = copied.ID
}

func (m *Memory) AppendTransaction(_ context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendTransactionLocked(txn)
	return nil
}

func (m *Memory) AppendGameHistory(_ context.Context, h *GameHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendGameHistoryLocked(h)
}

func (m *Memory) appendGameHistoryLocked(h *GameHistory) error {
	if m.settled[h.HandID] {
		return ErrDuplicate
	}
	m.nextHistID++
	copied := *h
	copied.ID = m.nextHistID
	copied.CreatedAt = time.Now().UTC()
	m.history = append(m.history, &copied)
	m.settled[h.HandID] = true
	h.ID = copied.ID
	return nil
}

func (m *Memory) TransactionsByUser(_ context.Context, userID int64) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transaction
	for _, txn := range m.txns {
		if txn.UserID == userID {
			copied := *txn
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *Memory) GameHistoryByRoom(_ context.Context, roomID int64, limit int) ([]*GameHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*GameHistory
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		if m.history[i].RoomID == roomID {
			copied := *m.history[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *Memory) ReserveSeat(_ context.Context, roomID, userID int64, seatNumber int, buyIn int64) (*Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seats[seatKey{roomID, userID}]; ok {
		return nil, ErrAlreadySeated
	}
	for k, other := range m.seats {
		if k.roomID == roomID && other.SeatNumber == seatNumber {
			return nil, ErrSeatTaken
		}
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Balance < buyIn {
		return nil, ErrInsufficientBalance
	}

	before := u.Balance
	u.Balance -= buyIn
	m.nextSeatID++
	seat := &Seat{
		ID:         m.nextSeatID,
		RoomID:     roomID,
		UserID:     userID,
		SeatNumber: seatNumber,
		Stack:      buyIn,
		Status:     SeatWaiting,
		CreatedAt:  time.Now().UTC(),
	}
	m.seats[seatKey{roomID, userID}] = seat
	m.appendTransactionLocked(&Transaction{
		UserID:        userID,
		RoomID:        roomID,
		Type:          TxnBuyIn,
		Amount:        -buyIn,
		BalanceBefore: before,
		BalanceAfter:  before - buyIn,
	})
	out := *seat
	return &out, nil
}

func (m *Memory) ReleaseSeat(_ context.Context, roomID, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := seatKey{roomID, userID}
	seat, ok := m.seats[key]
	if !ok {
		return 0, ErrNotFound
	}
	u, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	stack := seat.Stack
	delete(m.seats, key)
	before := u.Balance
	u.Balance += stack
	m.appendTransactionLocked(&Transaction{
		UserID:        userID,
		RoomID:        roomID,
		Type:          TxnCashOut,
		Amount:        stack,
		BalanceBefore: before,
		BalanceAfter:  before + stack,
	})
	return stack, nil
}

func (m *Memory) SettleHand(_ context.Context, settlement *Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled[settlement.HandID] {
		return nil
	}
	if err := m.appendGameHistoryLocked(&GameHistory{
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
		if seat, ok := m.seats[seatKey{settlement.RoomID, userID}]; ok {
			seat.Stack = stack
			seat.Status = SeatWaiting
		}
	}
	for _, w := range settlement.Winners {
		u, ok := m.users[w.UserID]
		if !ok {
			continue
		}
		m.appendTransactionLocked(&Transaction{
			UserID:        w.UserID,
			RoomID:        settlement.RoomID,
			Type:          TxnWin,
			Amount:        w.Amount,
			BalanceBefore: u.Balance,
			BalanceAfter:  u.Balance,
		})
	}
	for _, userID := range settlement.Busted {
		delete(m.seats, seatKey{settlement.RoomID, userID})
	}
	return nil
}
