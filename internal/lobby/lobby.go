// Package lobby is the HTTP side of the system: account registration
// and login, the room catalog, buy-ins and cash-outs, and the admin
// room management endpoints. It gates entry to a seat; the real-time
// engine only ever sees players the lobby has already seated.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lox/holdem/internal/auth"
	"github.com/lox/holdem/internal/store"
)

// RoomLeaver releases a seat, folding the player out of a live hand
// first when one is running. The room registry implements it.
type RoomLeaver interface {
	CashOut(ctx context.Context, roomID, userID int64) (int64, error)
}

// Lobby serves the HTTP API.
type Lobby struct {
	st     store.Store
	auth   *auth.Service
	rooms  RoomLeaver
	logger *log.Logger
}

// New creates the lobby service.
func New(st store.Store, authService *auth.Service, rooms RoomLeaver, logger *log.Logger) *Lobby {
	return &Lobby{
		st:     st,
		auth:   authService,
		rooms:  rooms,
		logger: logger.WithPrefix("lobby"),
	}
}

// Handler returns the lobby's route table.
func (l *Lobby) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", l.handleRegister)
	mux.HandleFunc("POST /auth/login", l.handleLogin)
	mux.HandleFunc("GET /rooms", l.handleListRooms)
	mux.HandleFunc("GET /rooms/{id}", l.handleGetRoom)
	mux.HandleFunc("POST /rooms/{id}/join", l.authed(l.handleJoinRoom))
	mux.HandleFunc("POST /rooms/{id}/leave", l.authed(l.handleLeaveRoom))
	mux.HandleFunc("POST /admin/rooms", l.admin(l.handleCreateRoom))
	mux.HandleFunc("PATCH /admin/rooms/{id}", l.admin(l.handleUpdateRoom))
	mux.HandleFunc("DELETE /admin/rooms/{id}", l.admin(l.handleDeleteRoom))
	return mux
}

// ListenAndServe runs the lobby until the context is cancelled.
func (l *Lobby) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: l.Handler()}
	errc := make(chan error, 1)
	go func() {
		l.logger.Info("lobby server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("lobby server: %w", err)
		}
		return nil
	}
}

// envelope is the standard response wrapper.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (l *Lobby) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		l.logger.Error("encoding response", "error", err)
	}
}

func (l *Lobby) fail(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: message})
}

func (l *Lobby) internalError(w http.ResponseWriter, err error) {
	l.logger.Error("internal error", "error", err)
	l.fail(w, http.StatusInternalServerError, "Internal server error")
}

type identityKey struct{}

// authed wraps a handler with bearer-token authentication.
func (l *Lobby) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			l.fail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		identity, err := l.auth.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				l.fail(w, http.StatusUnauthorized, "Invalid token")
			} else {
				l.internalError(w, err)
			}
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next(w, r.WithContext(ctx))
	}
}

// admin additionally requires the admin flag.
func (l *Lobby) admin(next http.HandlerFunc) http.HandlerFunc {
	return l.authed(func(w http.ResponseWriter, r *http.Request) {
		if !identityFrom(r).IsAdmin {
			l.fail(w, http.StatusForbidden, "Admin access required")
			return
		}
		next(w, r)
	})
}

func identityFrom(r *http.Request) auth.Identity {
	identity, _ := r.Context().Value(identityKey{}).(auth.Identity)
	return identity
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// userJSON is the public shape of a user record.
type userJSON struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Balance   int64     `json:"balance"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

func userToJSON(u *store.User) userJSON {
	return userJSON{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Balance:   u.Balance,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
	}
}

// roomJSON is the public shape of a room record.
type roomJSON struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	SmallBlind int64  `json:"smallBlind"`
	BigBlind   int64  `json:"bigBlind"`
	MinBuyIn   int64  `json:"minBuyIn"`
	MaxBuyIn   int64  `json:"maxBuyIn"`
	MaxPlayers int    `json:"maxPlayers"`
	Status     string `json:"status"`
	SeatCount  int    `json:"seatCount"`
}

func roomToJSON(room *store.Room) roomJSON {
	return roomJSON{
		ID:         room.ID,
		Name:       room.Name,
		SmallBlind: room.SmallBlind,
		BigBlind:   room.BigBlind,
		MinBuyIn:   room.MinBuyIn,
		MaxBuyIn:   room.MaxBuyIn,
		MaxPlayers: room.MaxPlayers,
		Status:     string(room.Status),
		SeatCount:  room.SeatCount,
	}
}

func (l *Lobby) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := l.auth.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			l.fail(w, http.StatusBadRequest, "Email or username already taken")
		case errors.Is(err, auth.ErrValidation):
			l.fail(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "auth: validation failed: "))
		default:
			l.internalError(w, err)
		}
		return
	}

	l.respond(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  userToJSON(user),
	})
}

func (l *Lobby) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := l.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			l.fail(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		l.internalError(w, err)
		return
	}

	l.respond(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userToJSON(user),
	})
}

func (l *Lobby) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := l.st.ListRooms(r.Context(), store.RoomWaiting)
	if err != nil {
		l.internalError(w, err)
		return
	}
	out := make([]roomJSON, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, roomToJSON(room))
	}
	l.respond(w, http.StatusOK, out)
}

func (l *Lobby) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		l.fail(w, http.StatusBadRequest, "Invalid room id")
		return
	}
	room, err := l.st.RoomByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.fail(w, http.StatusNotFound, "Room not found")
			return
		}
		l.internalError(w, err)
		return
	}
	l.respond(w, http.StatusOK, roomToJSON(room))
}

func (l *Lobby) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	id, err := pathID(r)
	if err != nil {
		l.fail(w, http.StatusBadRequest, "Invalid room id")
		return
	}
	var req struct {
		BuyIn int64 `json:"buyIn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	room, err := l.st.RoomByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.fail(w, http.StatusNotFound, "Room not found")
			return
		}
		l.internalError(w, err)
		return
	}
	if room.Status == store.RoomClosed {
		l.fail(w, http.StatusBadRequest, "Room is closed")
		return
	}
	if req.BuyIn < room.MinBuyIn || req.BuyIn > room.MaxBuyIn {
		l.fail(w, http.StatusBadRequest,
			fmt.Sprintf("Buy-in must be between %d and %d", room.MinBuyIn, room.MaxBuyIn))
		return
	}

	user, err := l.st.UserByID(r.Context(), identity.UserID)
	if err != nil {
		l.internalError(w, err)
		return
	}
	// The buy-in must leave the player able to post blinds; a wallet
	// below three big blinds cannot sit down.
	if user.Balance < req.BuyIn || user.Balance < 3*room.BigBlind {
		l.fail(w, http.StatusBadRequest, "Insufficient balance")
		return
	}

	seatNumber, err := l.freeSeat(r.Context(), room)
	if err != nil {
		if errors.Is(err, errRoomFull) {
			l.fail(w, http.StatusBadRequest, "Room is full")
			return
		}
		l.internalError(w, err)
		return
	}

	seat, err := l.st.ReserveSeat(r.Context(), id, identity.UserID, seatNumber, req.BuyIn)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadySeated):
			l.fail(w, http.StatusBadRequest, "Already seated in this room")
		case errors.Is(err, store.ErrSeatTaken):
			l.fail(w, http.StatusBadRequest, "Seat already taken")
		case errors.Is(err, store.ErrInsufficientBalance):
			l.fail(w, http.StatusBadRequest, "Insufficient balance")
		default:
			l.internalError(w, err)
		}
		return
	}

	l.logger.Info("player bought in", "room", id, "user", identity.UserID, "buyIn", req.BuyIn, "seat", seatNumber)
	l.respond(w, http.StatusOK, map[string]any{
		"roomId":     id,
		"seatNumber": seat.SeatNumber,
		"stack":      seat.Stack,
	})
}

var errRoomFull = errors.New("lobby: room is full")

// freeSeat picks the lowest unoccupied seat number.
func (l *Lobby) freeSeat(ctx context.Context, room *store.Room) (int, error) {
	seats, err := l.st.SeatsByRoom(ctx, room.ID)
	if err != nil {
		return 0, err
	}
	taken := make(map[int]bool, len(seats))
	for _, seat := range seats {
		taken[seat.SeatNumber] = true
	}
	for n := 0; n < room.MaxPlayers; n++ {
		if !taken[n] {
			return n, nil
		}
	}
	return 0, errRoomFull
}

func (l *Lobby) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	id, err := pathID(r)
	if err != nil {
		l.fail(w, http.StatusBadRequest, "Invalid room id")
		return
	}

	chips, err := l.rooms.CashOut(r.Context(), id, identity.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.fail(w, http.StatusNotFound, "Not seated in this room")
			return
		}
		l.internalError(w, err)
		return
	}

	l.logger.Info("player cashed out", "room", id, "user", identity.UserID, "chips", chips)
	l.respond(w, http.StatusOK, map[string]any{"chipsReturned": chips})
}

func (l *Lobby) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	var req struct {
		Name       string `json:"name"`
		SmallBlind int64  `json:"smallBlind"`
		MinBuyIn   int64  `json:"minBuyIn"`
		MaxBuyIn   int64  `json:"maxBuyIn"`
		MaxPlayers int    `json:"maxPlayers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		l.fail(w, http.StatusBadRequest, "Room name is required")
		return
	}
	if req.SmallBlind <= 0 {
		l.fail(w, http.StatusBadRequest, "Small blind must be positive")
		return
	}
	bigBlind := 2 * req.SmallBlind
	if req.MinBuyIn == 0 {
		req.MinBuyIn = 10 * bigBlind
	}
	if req.MinBuyIn < 10*bigBlind {
		l.fail(w, http.StatusBadRequest, "Minimum buy-in must be at least 10 big blinds")
		return
	}
	if req.MaxBuyIn == 0 {
		req.MaxBuyIn = 100 * bigBlind
	}
	if req.MaxBuyIn < req.MinBuyIn {
		l.fail(w, http.StatusBadRequest, "Maximum buy-in must be at least the minimum")
		return
	}
	if req.MaxPlayers < 2 || req.MaxPlayers > 9 {
		l.fail(w, http.StatusBadRequest, "Max players must be between 2 and 9")
		return
	}

	room, err := l.st.CreateRoom(r.Context(), &store.Room{
		Name:       req.Name,
		SmallBlind: req.SmallBlind,
		BigBlind:   bigBlind,
		MinBuyIn:   req.MinBuyIn,
		MaxBuyIn:   req.MaxBuyIn,
		MaxPlayers: req.MaxPlayers,
		Status:     store.RoomWaiting,
		CreatedBy:  identity.UserID,
	})
	if err != nil {
		l.internalError(w, err)
		return
	}
	l.respond(w, http.StatusCreated, roomToJSON(room))
}

func (l *Lobby) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		l.fail(w, http.StatusBadRequest, "Invalid room id")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status := store.RoomStatus(req.Status)
	switch status {
	case store.RoomWaiting, store.RoomPlaying, store.RoomClosed:
	default:
		l.fail(w, http.StatusBadRequest, "Status must be waiting, playing, or closed")
		return
	}

	if err := l.st.UpdateRoomStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.fail(w, http.StatusNotFound, "Room not found")
			return
		}
		l.internalError(w, err)
		return
	}
	l.respond(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

func (l *Lobby) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		l.fail(w, http.StatusBadRequest, "Invalid room id")
		return
	}
	if err := l.st.DeleteRoom(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			l.fail(w, http.StatusNotFound, "Room not found")
		case errors.Is(err, store.ErrRoomNotEmpty):
			l.fail(w, http.StatusBadRequest, "Room still has seated players")
		default:
			l.internalError(w, err)
		}
		return
	}
	l.respond(w, http.StatusOK, map[string]any{"id": id})
}
