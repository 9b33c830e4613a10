package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/holdem/internal/store"
)

// DefaultReclaimWindow is how long a persisted seat survives without a
// live session before its chips go back to the owner's wallet.
const DefaultReclaimWindow = 60 * time.Second

// ErrRoomClosed rejects joins and spectates on closed rooms.
var ErrRoomClosed = errors.New("room: closed")

type reclaimKey struct {
	roomID int64
	userID int64
}

// Registry owns the live rooms. It materialises a Room from the store
// on first use and reclaims seats whose owners never reconnect.
type Registry struct {
	st     store.Store
	logger *log.Logger
	clock  quartz.Clock
	opts   Options

	mu       sync.Mutex
	rooms    map[int64]*Room
	reclaims map[reclaimKey]*quartz.Timer
	stopped  bool
}

// NewRegistry creates a registry. The options are applied to every
// room it creates.
func NewRegistry(st store.Store, logger *log.Logger, opts Options) *Registry {
	opts.withDefaults()
	return &Registry{
		st:       st,
		logger:   logger.WithPrefix("registry"),
		clock:    opts.Clock,
		opts:     opts,
		rooms:    make(map[int64]*Room),
		reclaims: make(map[reclaimKey]*quartz.Timer),
	}
}

// Start scans the store for open rooms and arms a reclamation timer
// for every persisted seat of a waiting room. Seats whose owners have
// not rebound a session by the deadline are released back to the
// wallet.
func (r *Registry) Start(ctx context.Context) error {
	rooms, err := r.st.ListOpenRoomsWithSeats(ctx)
	if err != nil {
		return fmt.Errorf("listing rooms: %w", err)
	}
	for _, rs := range rooms {
		if rs.Room.Status != store.RoomWaiting {
			continue
		}
		for _, seat := range rs.Seats {
			r.armReclaim(rs.Room.ID, seat.UserID)
		}
	}
	r.logger.Info("registry started", "rooms", len(rooms))
	return nil
}

// GetOrCreate returns the live room, materialising it from the store
// row on first use. Closed or missing rooms fail.
func (r *Registry) GetOrCreate(ctx context.Context, roomID int64) (*Room, error) {
	r.mu.Lock()
	if room, ok := r.rooms[roomID]; ok {
		r.mu.Unlock()
		return room, nil
	}
	r.mu.Unlock()

	cfg, err := r.st.RoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if cfg.Status == store.RoomClosed {
		return nil, ErrRoomClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok {
		return room, nil
	}
	if r.stopped {
		return nil, ErrStopped
	}
	room := New(cfg, r.st, r.opts)
	r.rooms[roomID] = room
	r.logger.Info("room created", "room", roomID, "name", cfg.Name)
	return room, nil
}

// CancelReclaim stops a pending stale-seat reclamation, if any. Called
// on every successful join_room.
func (r *Registry) CancelReclaim(roomID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := reclaimKey{roomID, userID}
	if timer, ok := r.reclaims[key]; ok {
		timer.Stop()
		delete(r.reclaims, key)
	}
}

// CashOut releases a user's seat, routing through the live room actor
// when one exists so a mid-hand leave folds them first. Returns the
// chips credited to the wallet.
func (r *Registry) CashOut(ctx context.Context, roomID, userID int64) (int64, error) {
	r.CancelReclaim(roomID, userID)

	r.mu.Lock()
	room := r.rooms[roomID]
	r.mu.Unlock()

	if room != nil {
		chips, err := room.Leave(ctx, userID)
		if err == nil {
			return chips, nil
		}
		if !errors.Is(err, ErrNotSeated) {
			return 0, err
		}
		// Seated in the store but never connected; release directly.
	}
	return r.st.ReleaseSeat(ctx, roomID, userID)
}

// Stop shuts down every live room and pending timer.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for key, timer := range r.reclaims {
		timer.Stop()
		delete(r.reclaims, key)
	}
	for id, room := range r.rooms {
		room.Stop()
		delete(r.rooms, id)
	}
}

func (r *Registry) armReclaim(roomID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := reclaimKey{roomID, userID}
	if _, ok := r.reclaims[key]; ok {
		return
	}
	r.reclaims[key] = r.clock.AfterFunc(r.opts.ReclaimWindow, func() {
		r.mu.Lock()
		delete(r.reclaims, key)
		r.mu.Unlock()

		chips, err := r.st.ReleaseSeat(context.Background(), roomID, userID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				r.logger.Error("reclaiming seat", "room", roomID, "user", userID, "error", err)
			}
			return
		}
		r.logger.Info("stale seat reclaimed", "room", roomID, "user", userID, "chips", chips)
	})
}
