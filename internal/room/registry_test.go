package room

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdem/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Memory, *quartz.Mock) {
	t.Helper()
	st := store.NewMemory()
	mc := quartz.NewMock(t)
	reg := NewRegistry(st, log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel}), Options{
		Clock: mc,
	})
	t.Cleanup(reg.Stop)
	return reg, st, mc
}

func createRoom(t *testing.T, st store.Store, status store.RoomStatus) *store.Room {
	t.Helper()
	room, err := st.CreateRoom(context.Background(), &store.Room{
		Name:       "main",
		SmallBlind: 10,
		BigBlind:   20,
		MinBuyIn:   200,
		MaxBuyIn:   2000,
		MaxPlayers: 6,
		Status:     status,
	})
	require.NoError(t, err)
	return room
}

func createSeatedUser(t *testing.T, st store.Store, roomID int64) *store.User {
	t.Helper()
	ctx := context.Background()
	u, err := st.CreateUser(ctx, "alice@example.com", "alice", "hash", testBalance, false)
	require.NoError(t, err)
	_, err = st.ReserveSeat(ctx, roomID, u.ID, 1, testBuyIn)
	require.NoError(t, err)
	return u
}

func TestGetOrCreateReturnsSameRoom(t *testing.T) {
	reg, st, _ := newTestRegistry(t)
	cfg := createRoom(t, st, store.RoomWaiting)

	ctx := context.Background()
	r1, err := reg.GetOrCreate(ctx, cfg.ID)
	require.NoError(t, err)
	r2, err := reg.GetOrCreate(ctx, cfg.ID)
	require.NoError(t, err)
	require.Same(t, r1, r2)
}

func TestGetOrCreateUnknownRoom(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	_, err := reg.GetOrCreate(context.Background(), 999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetOrCreateClosedRoom(t *testing.T) {
	reg, st, _ := newTestRegistry(t)
	cfg := createRoom(t, st, store.RoomClosed)
	_, err := reg.GetOrCreate(context.Background(), cfg.ID)
	require.ErrorIs(t, err, ErrRoomClosed)
}

func TestStaleSeatReclaimedAfterRestart(t *testing.T) {
	reg, st, mc := newTestRegistry(t)
	ctx := context.Background()
	cfg := createRoom(t, st, store.RoomWaiting)
	u := createSeatedUser(t, st, cfg.ID)

	// A seat persisted before a restart is released once its owner
	// fails to reconnect within the window.
	require.NoError(t, reg.Start(ctx))
	mc.Advance(DefaultReclaimWindow).MustWait(ctx)

	_, err := st.SeatByUser(ctx, cfg.ID, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	user, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(testBalance), user.Balance)
}

func TestReconnectCancelsReclamation(t *testing.T) {
	reg, st, mc := newTestRegistry(t)
	ctx := context.Background()
	cfg := createRoom(t, st, store.RoomWaiting)
	u := createSeatedUser(t, st, cfg.ID)

	require.NoError(t, reg.Start(ctx))
	reg.CancelReclaim(cfg.ID, u.ID)
	mc.Advance(DefaultReclaimWindow).MustWait(ctx)

	seat, err := st.SeatByUser(ctx, cfg.ID, u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(testBuyIn), seat.Stack)
}

func TestCashOutWithoutLiveRoom(t *testing.T) {
	reg, st, _ := newTestRegistry(t)
	ctx := context.Background()
	cfg := createRoom(t, st, store.RoomWaiting)
	u := createSeatedUser(t, st, cfg.ID)

	chips, err := reg.CashOut(ctx, cfg.ID, u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(testBuyIn), chips)

	user, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(testBalance), user.Balance)
}

func TestCashOutRoutesThroughLiveRoom(t *testing.T) {
	reg, st, mc := newTestRegistry(t)
	ctx := context.Background()
	cfg := createRoom(t, st, store.RoomWaiting)
	u := createSeatedUser(t, st, cfg.ID)

	room, err := reg.GetOrCreate(ctx, cfg.ID)
	require.NoError(t, err)
	_, err = room.Join(ctx, &fakeSession{}, u.ID, u.Username)
	require.NoError(t, err)

	chips, err := reg.CashOut(ctx, cfg.ID, u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(testBuyIn), chips)

	// The seat is gone from the actor too, not just the store.
	mc.Advance(time.Second).MustWait(ctx)
	require.Empty(t, room.Snapshot().Players)
}

func TestCashOutNotSeated(t *testing.T) {
	reg, st, _ := newTestRegistry(t)
	cfg := createRoom(t, st, store.RoomWaiting)

	_, err := reg.CashOut(context.Background(), cfg.ID, 42)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStopShutsDownRooms(t *testing.T) {
	reg, st, _ := newTestRegistry(t)
	cfg := createRoom(t, st, store.RoomWaiting)

	room, err := reg.GetOrCreate(context.Background(), cfg.ID)
	require.NoError(t, err)

	reg.Stop()
	require.ErrorIs(t, room.Spectate(&fakeSession{}), ErrStopped)

	_, err = reg.GetOrCreate(context.Background(), cfg.ID)
	require.ErrorIs(t, err, ErrStopped)
}
