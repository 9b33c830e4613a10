package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdem/internal/auth"
	"github.com/lox/holdem/internal/client"
	"github.com/lox/holdem/internal/protocol"
	"github.com/lox/holdem/internal/room"
	"github.com/lox/holdem/internal/store"
)

type gatewayEnv struct {
	t     *testing.T
	st    *store.Memory
	auth  *auth.Service
	clock *quartz.Mock
	ts    *httptest.Server
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()
	st := store.NewMemory()
	mc := quartz.NewMock(t)
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})

	authService := auth.NewService(st, "test-secret")
	registry := room.NewRegistry(st, logger, room.Options{Clock: mc, Logger: logger})

	srv := New("127.0.0.1:0", authService, registry, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
		registry.Stop()
	})

	return &gatewayEnv{t: t, st: st, auth: authService, clock: mc, ts: ts}
}

func (e *gatewayEnv) connect() *client.Client {
	e.t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	c, err := client.Dial(context.Background(), e.ts.URL, logger)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = c.Close() })
	return c
}

// registerUser creates an account and returns the user with a token.
func (e *gatewayEnv) registerUser(username string) (*store.User, string) {
	e.t.Helper()
	user, token, err := e.auth.Register(context.Background(), username+"@example.com", username, "secret123")
	require.NoError(e.t, err)
	return user, token
}

func (e *gatewayEnv) createRoom() *store.Room {
	e.t.Helper()
	created, err := e.st.CreateRoom(context.Background(), &store.Room{
		Name:       "test",
		SmallBlind: 10,
		BigBlind:   20,
		MinBuyIn:   200,
		MaxBuyIn:   2000,
		MaxPlayers: 6,
		Status:     store.RoomWaiting,
	})
	require.NoError(e.t, err)
	return created
}

func (e *gatewayEnv) reserveSeat(roomID int64, user *store.User, seat int) {
	e.t.Helper()
	_, err := e.st.ReserveSeat(context.Background(), roomID, user.ID, seat, 1000)
	require.NoError(e.t, err)
}

// waitFrame reads frames until one of the wanted type arrives.
func waitFrame(t *testing.T, c *client.Client, typ protocol.Type) *protocol.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-c.Messages():
			require.True(t, ok, "connection closed waiting for %s", typ)
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", typ)
		}
	}
}

func waitError(t *testing.T, c *client.Client) string {
	t.Helper()
	var p protocol.Error
	require.NoError(t, json.Unmarshal(waitFrame(t, c, protocol.TypeError).Payload, &p))
	return p.Message
}

func TestHealthEndpoint(t *testing.T) {
	env := newGatewayEnv(t)
	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFlow(t *testing.T) {
	env := newGatewayEnv(t)
	user, token := env.registerUser("alice")
	c := env.connect()

	require.NoError(t, c.Authenticate("bogus-token"))
	require.Equal(t, "Invalid token", waitError(t, c))

	require.NoError(t, c.Authenticate(token))
	var success protocol.AuthSuccess
	require.NoError(t, json.Unmarshal(waitFrame(t, c, protocol.TypeAuthSuccess).Payload, &success))
	require.Equal(t, user.ID, success.UserID)
	require.Equal(t, "alice", success.Username)
}

func TestRequiresAuthBeforeJoin(t *testing.T) {
	env := newGatewayEnv(t)
	c := env.connect()

	require.NoError(t, c.JoinRoom(1))
	require.Equal(t, "Not authenticated", waitError(t, c))

	require.NoError(t, c.Act("fold", 0))
	require.Equal(t, "Not authenticated", waitError(t, c))
}

func TestUnknownMessageType(t *testing.T) {
	env := newGatewayEnv(t)
	c := env.connect()

	msg, err := protocol.NewMessage(protocol.Type("teleport"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Send(msg))
	require.Equal(t, "Unknown message type: teleport", waitError(t, c))
}

func TestJoinRoomErrors(t *testing.T) {
	env := newGatewayEnv(t)
	_, token := env.registerUser("alice")
	c := env.connect()
	require.NoError(t, c.Authenticate(token))
	waitFrame(t, c, protocol.TypeAuthSuccess)

	require.NoError(t, c.JoinRoom(999))
	require.Equal(t, "Room not found", waitError(t, c))

	created := env.createRoom()
	require.NoError(t, env.st.UpdateRoomStatus(context.Background(), created.ID, store.RoomClosed))
	require.NoError(t, c.JoinRoom(created.ID))
	require.Equal(t, "Room is closed", waitError(t, c))

	open := env.createRoom()
	require.NoError(t, c.JoinRoom(open.ID))
	require.Equal(t, "must join via Lobby first", waitError(t, c))
}

func TestJoinActAndLeave(t *testing.T) {
	env := newGatewayEnv(t)
	created := env.createRoom()
	u1, t1 := env.registerUser("alice")
	u2, t2 := env.registerUser("bob")
	env.reserveSeat(created.ID, u1, 1)
	env.reserveSeat(created.ID, u2, 2)

	c1 := env.connect()
	require.NoError(t, c1.Authenticate(t1))
	waitFrame(t, c1, protocol.TypeAuthSuccess)
	c2 := env.connect()
	require.NoError(t, c2.Authenticate(t2))
	waitFrame(t, c2, protocol.TypeAuthSuccess)

	require.NoError(t, c1.JoinRoom(created.ID))
	var joined protocol.JoinedRoom
	require.NoError(t, json.Unmarshal(waitFrame(t, c1, protocol.TypeJoinedRoom).Payload, &joined))
	require.Equal(t, created.ID, joined.RoomID)
	require.Equal(t, 1, joined.SeatNumber)
	require.Equal(t, int64(1000), joined.Stack)

	require.NoError(t, c2.JoinRoom(created.ID))
	waitFrame(t, c2, protocol.TypeJoinedRoom)

	// Both seated; the start grace elapses and the hand begins.
	ctx := context.Background()
	env.clock.Advance(time.Second).MustWait(ctx)
	env.clock.Advance(time.Second).MustWait(ctx)

	var s1, s2 protocol.GameState
	require.NoError(t, json.Unmarshal(waitFrame(t, c1, protocol.TypeNewRound).Payload, &s1))
	require.NoError(t, json.Unmarshal(waitFrame(t, c2, protocol.TypeNewRound).Payload, &s2))
	require.Equal(t, "preflop", s1.Phase)
	require.Len(t, s1.YourCards, 2)
	require.Len(t, s2.YourCards, 2)
	require.NotEqual(t, s1.YourCards, s2.YourCards)

	// Heads-up: alice is the dealer and acts first; bob acting now is
	// rejected.
	require.Equal(t, u1.ID, s1.CurrentActorID)
	require.NoError(t, c2.Act("check", 0))
	require.Equal(t, "Invalid action", waitError(t, c2))

	require.NoError(t, c1.Act("gibberish", 0))
	require.Equal(t, "Invalid action", waitError(t, c1))

	// Alice folds; bob collects the blinds.
	require.NoError(t, c1.Act("fold", 0))
	var result protocol.HandResult
	require.NoError(t, json.Unmarshal(waitFrame(t, c2, protocol.TypeHandResult).Payload, &result))
	require.Equal(t, int64(30), result.Pot)
	require.Equal(t, u2.ID, result.Winners[0].UserID)

	require.NoError(t, c1.LeaveRoom())
	waitFrame(t, c1, protocol.TypeLeftRoom)

	var left protocol.PlayerLeft
	require.NoError(t, json.Unmarshal(waitFrame(t, c2, protocol.TypePlayerLeft).Payload, &left))
	require.Equal(t, u1.ID, left.UserID)

	// Acting with no seat bound fails.
	require.NoError(t, c1.Act("fold", 0))
	require.Equal(t, "Not in a room", waitError(t, c1))
}

func TestSpectatorSeesNoHoleCards(t *testing.T) {
	env := newGatewayEnv(t)
	created := env.createRoom()
	u1, t1 := env.registerUser("alice")
	u2, t2 := env.registerUser("bob")
	env.reserveSeat(created.ID, u1, 1)
	env.reserveSeat(created.ID, u2, 2)

	c1 := env.connect()
	require.NoError(t, c1.Authenticate(t1))
	waitFrame(t, c1, protocol.TypeAuthSuccess)
	require.NoError(t, c1.JoinRoom(created.ID))
	waitFrame(t, c1, protocol.TypeJoinedRoom)

	c2 := env.connect()
	require.NoError(t, c2.Authenticate(t2))
	waitFrame(t, c2, protocol.TypeAuthSuccess)
	require.NoError(t, c2.JoinRoom(created.ID))
	waitFrame(t, c2, protocol.TypeJoinedRoom)

	// Spectating needs no authentication.
	spec := env.connect()
	require.NoError(t, spec.Spectate(created.ID))
	var spectating protocol.Spectating
	require.NoError(t, json.Unmarshal(waitFrame(t, spec, protocol.TypeSpectating).Payload, &spectating))
	require.Equal(t, created.ID, spectating.RoomID)

	ctx := context.Background()
	env.clock.Advance(time.Second).MustWait(ctx)
	env.clock.Advance(time.Second).MustWait(ctx)

	var public protocol.GameState
	require.NoError(t, json.Unmarshal(waitFrame(t, spec, protocol.TypeNewRound).Payload, &public))
	require.Equal(t, "preflop", public.Phase)
	require.Empty(t, public.YourCards)
	require.Len(t, public.Players, 2)
}

func TestChatRelay(t *testing.T) {
	env := newGatewayEnv(t)
	created := env.createRoom()
	u1, t1 := env.registerUser("alice")
	u2, t2 := env.registerUser("bob")
	env.reserveSeat(created.ID, u1, 1)
	env.reserveSeat(created.ID, u2, 2)

	c1 := env.connect()
	require.NoError(t, c1.Authenticate(t1))
	waitFrame(t, c1, protocol.TypeAuthSuccess)
	require.NoError(t, c1.JoinRoom(created.ID))
	waitFrame(t, c1, protocol.TypeJoinedRoom)

	c2 := env.connect()
	require.NoError(t, c2.Authenticate(t2))
	waitFrame(t, c2, protocol.TypeAuthSuccess)
	require.NoError(t, c2.JoinRoom(created.ID))
	waitFrame(t, c2, protocol.TypeJoinedRoom)

	require.NoError(t, c1.Chat("good luck"))

	var chat protocol.ChatBroadcast
	require.NoError(t, json.Unmarshal(waitFrame(t, c2, protocol.TypeChatMessage).Payload, &chat))
	require.Equal(t, "alice", chat.Username)
	require.Equal(t, "good luck", chat.Message)
}
