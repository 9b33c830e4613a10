// Package room hosts the authoritative game engine. Each Room is a
// single-writer actor: every mutation of the live hand and the seated
// roster happens on the actor goroutine, fed by a mailbox and a
// one-second clock tick that drives turn deadlines and inter-hand
// delays.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/holdem/internal/game"
	"github.com/lox/holdem/internal/protocol"
	"github.com/lox/holdem/internal/store"
	"github.com/lox/holdem/poker"
)

var (
	// ErrNotSeated means no seat is reserved for the user; they must
	// buy in through the lobby first.
	ErrNotSeated = errors.New("room: no seat reserved")

	// ErrStopped means the room actor has shut down.
	ErrStopped = errors.New("room: stopped")

	// ErrInvalidAction covers out-of-turn and rule-violating actions.
	ErrInvalidAction = errors.New("room: invalid action")
)

// Default timings. All of them are overridable through Options.
const (
	DefaultTurnTimeout    = 30 * time.Second
	DefaultInterHandDelay = 5 * time.Second
	DefaultStartGrace     = 2 * time.Second

	maxChatLength = 200
)

// Session is an attached client connection. Send must not block the
// caller; the gateway buffers per connection and drops slow consumers.
type Session interface {
	Send(msg *protocol.Message)
}

// Options tune a room's timers and inject test doubles.
type Options struct {
	TurnTimeout    time.Duration
	InterHandDelay time.Duration
	StartGrace     time.Duration
	ReclaimWindow  time.Duration
	Clock          quartz.Clock
	Rand           *rand.Rand
	Logger         *log.Logger
}

func (o *Options) withDefaults() {
	if o.TurnTimeout == 0 {
		o.TurnTimeout = DefaultTurnTimeout
	}
	if o.InterHandDelay == 0 {
		o.InterHandDelay = DefaultInterHandDelay
	}
	if o.StartGrace == 0 {
		o.StartGrace = DefaultStartGrace
	}
	if o.ReclaimWindow == 0 {
		o.ReclaimWindow = DefaultReclaimWindow
	}
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	if o.Rand == nil {
		o.Rand = poker.NewShuffleSource()
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr)
	}
}

// seatedPlayer is one occupied seat. The session is nil while the
// player is disconnected; the seat survives until the reclamation
// window or the turn timer removes it.
type seatedPlayer struct {
	userID   int64
	username string
	seat     int
	stack    int64
	session  Session
	// reclaimAt is the deadline for a disconnected player to return.
	// Zero while connected.
	reclaimAt time.Time
}

// Room drives the hands of one table.
type Room struct {
	cfg    *store.Room
	st     store.Store
	logger *log.Logger
	clock  quartz.Clock
	rng    *rand.Rand
	opts   Options

	mailbox  chan func()
	done     chan struct{}
	stopOnce sync.Once

	// Actor-owned state. Only the run goroutine touches it.
	seats      map[int64]*seatedPlayer
	spectators map[Session]struct{}
	hand       *game.HandState
	buttonSeat int // seat of the previous dealer, -1 before the first hand

	startAt      time.Time // pending first-hand grace deadline
	nextHandAt   time.Time // inter-hand delay deadline
	turnDeadline time.Time // zero when no turn timer is armed
	chatSeq      int64
}

// New creates a room for the given config and starts its actor.
func New(cfg *store.Room, st store.Store, opts Options) *Room {
	opts.withDefaults()
	r := &Room{
		cfg:        cfg,
		st:         st,
		logger:     opts.Logger.WithPrefix("room").With("room", cfg.ID),
		clock:      opts.Clock,
		rng:        opts.Rand,
		opts:       opts,
		mailbox:    make(chan func(), 256),
		done:       make(chan struct{}),
		seats:      make(map[int64]*seatedPlayer),
		spectators: make(map[Session]struct{}),
		buttonSeat: -1,
	}
	go r.run()
	return r
}

// ID returns the room's identifier.
func (r *Room) ID() int64 { return r.cfg.ID }

// Config returns the immutable room configuration.
func (r *Room) Config() *store.Room { return r.cfg }

// Stop shuts the actor down. Pending commands fail with ErrStopped.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// do runs fn on the actor goroutine and returns its error.
func (r *Room) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case r.mailbox <- func() { errc <- fn() }:
	case <-r.done:
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-r.done:
		return ErrStopped
	}
}

func (r *Room) run() {
	ticker := r.clock.NewTicker(time.Second, "room", "tick")
	defer ticker.Stop()
	for {
		select {
		case fn := <-r.mailbox:
			fn()
		case <-ticker.C:
			r.tick()
		case <-r.done:
			return
		}
	}
}

// Join binds a connection to the user's reserved seat. The seat must
// already exist in the store (created by the lobby buy-in).
func (r *Room) Join(ctx context.Context, sess Session, userID int64, username string) (*protocol.JoinedRoom, error) {
	var out *protocol.JoinedRoom
	err := r.do(func() error {
		sp := r.seats[userID]
		if sp == nil {
			seat, err := r.st.SeatByUser(ctx, r.cfg.ID, userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return ErrNotSeated
				}
				return err
			}
			sp = &seatedPlayer{
				userID:   userID,
				username: username,
				seat:     seat.SeatNumber,
				stack:    seat.Stack,
			}
			r.seats[userID] = sp
		}
		sp.session = sess
		sp.reclaimAt = time.Time{}

		r.broadcast(protocol.MustMessage(protocol.TypePlayerJoined, protocol.PlayerJoined{
			UserID:     sp.userID,
			Username:   sp.username,
			SeatNumber: sp.seat,
			Stack:      sp.stack,
		}))
		sess.Send(r.stateMessage(protocol.TypeGameState, sp.userID))

		r.maybeScheduleStart()

		out = &protocol.JoinedRoom{RoomID: r.cfg.ID, SeatNumber: sp.seat, Stack: sp.stack}
		return nil
	})
	return out, err
}

// Leave removes the player's seat, folding them out of a live hand
// first, and credits their remaining stack back to their wallet. It
// returns the chips credited.
func (r *Room) Leave(ctx context.Context, userID int64) (int64, error) {
	var credited int64
	err := r.do(func() error {
		sp := r.seats[userID]
		if sp == nil {
			return ErrNotSeated
		}
		r.foldOutOfHand(userID)
		chips, err := r.releaseSeat(ctx, sp)
		if err != nil {
			return err
		}
		credited = chips
		delete(r.seats, userID)
		r.broadcast(protocol.MustMessage(protocol.TypePlayerLeft, protocol.PlayerLeft{UserID: userID}))
		r.afterForcedFold()
		return nil
	})
	return credited, err
}

// Act applies a player action to the live hand.
func (r *Room) Act(userID int64, action game.Action, amount int64) error {
	return r.do(func() error {
		if r.hand == nil || r.hand.IsComplete() {
			return fmt.Errorf("%w: no hand in progress", ErrInvalidAction)
		}
		actor := r.hand.CurrentActor()
		if actor == nil || actor.UserID != userID {
			return fmt.Errorf("%w: not your turn", ErrInvalidAction)
		}
		if err := r.hand.ProcessAction(action, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
		r.turnDeadline = time.Time{}

		r.broadcast(protocol.MustMessage(protocol.TypeActionResult, protocol.ActionResult{
			UserID: userID,
			Action: action.String(),
			Amount: amount,
			Stack:  actor.Stack,
		}))
		r.broadcastState(protocol.TypeGameState)

		if r.hand.IsComplete() {
			r.finishHand()
		} else {
			r.armTurnTimer()
		}
		return nil
	})
}

// Spectate attaches a read-only observer.
func (r *Room) Spectate(sess Session) error {
	return r.do(func() error {
		r.spectators[sess] = struct{}{}
		sess.Send(protocol.MustMessage(protocol.TypeSpectating, protocol.Spectating{RoomID: r.cfg.ID}))
		sess.Send(r.stateMessage(protocol.TypeGameState, 0))
		return nil
	})
}

// Chat broadcasts a chat line to everyone bound to the room.
func (r *Room) Chat(userID int64, username, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	if len(message) > maxChatLength {
		message = message[:maxChatLength]
	}
	return r.do(func() error {
		r.chatSeq++
		r.broadcast(protocol.MustMessage(protocol.TypeChatMessage, protocol.ChatBroadcast{
			ID:        r.chatSeq,
			UserID:    userID,
			Username:  username,
			Message:   message,
			Timestamp: r.clock.Now(),
		}))
		return nil
	})
}

// Detach records a closed connection. A seated player keeps their seat
// for the reclamation window; the turn timer is unaffected, so a
// disconnected actor still times out on schedule.
func (r *Room) Detach(sess Session) {
	_ = r.do(func() error {
		delete(r.spectators, sess)
		for _, sp := range r.seats {
			if sp.session == sess {
				sp.session = nil
				sp.reclaimAt = r.clock.Now().Add(r.opts.ReclaimWindow)
				r.logger.Info("player disconnected", "user", sp.userID)
			}
		}
		return nil
	})
}

// Snapshot returns the public view of the room's state.
func (r *Room) Snapshot() *protocol.GameState {
	var state *protocol.GameState
	_ = r.do(func() error {
		state = r.publicState()
		return nil
	})
	return state
}

// tick drives every deadline in the room: the pre-start grace, the
// per-turn countdown, the inter-hand delay, and disconnected-seat
// reclamation.
func (r *Room) tick() {
	now := r.clock.Now()

	if !r.startAt.IsZero() && !now.Before(r.startAt) {
		r.startAt = time.Time{}
		r.startHand()
	}

	if !r.nextHandAt.IsZero() && !now.Before(r.nextHandAt) {
		r.nextHandAt = time.Time{}
		r.startHand()
	}

	if !r.turnDeadline.IsZero() && r.hand != nil {
		actor := r.hand.CurrentActor()
		if actor == nil {
			r.turnDeadline = time.Time{}
		} else if now.Before(r.turnDeadline) {
			r.broadcast(protocol.MustMessage(protocol.TypeTimerUpdate, protocol.TimerUpdate{
				UserID:      actor.UserID,
				RemainingMS: r.turnDeadline.Sub(now).Milliseconds(),
			}))
		} else {
			r.turnDeadline = time.Time{}
			r.broadcast(protocol.MustMessage(protocol.TypeTimerUpdate, protocol.TimerUpdate{
				UserID:   actor.UserID,
				TimedOut: true,
			}))
			reason := "timeout"
			if sp := r.seats[actor.UserID]; sp != nil && sp.session == nil {
				reason = "disconnect"
			}
			r.satOut(actor.UserID, reason)
		}
	}

	// Reclaim disconnected seats once they are out of any live hand.
	for userID, sp := range r.seats {
		if sp.session != nil || sp.reclaimAt.IsZero() || now.Before(sp.reclaimAt) {
			continue
		}
		if r.hand != nil && !r.hand.IsComplete() && r.hand.PlayerIndex(userID) != -1 {
			continue // the turn timer governs in-hand responsiveness
		}
		r.satOut(userID, "disconnect")
	}
}

// maybeScheduleStart arms the pre-start grace when enough players are
// ready and nothing else is pending.
func (r *Room) maybeScheduleStart() {
	if r.hand != nil || !r.startAt.IsZero() || !r.nextHandAt.IsZero() {
		return
	}
	if len(r.eligiblePlayers()) < 2 {
		return
	}
	r.startAt = r.clock.Now().Add(r.opts.StartGrace)
}

// eligiblePlayers returns seated players able to play a hand, ordered
// by seat number.
func (r *Room) eligiblePlayers() []*seatedPlayer {
	var out []*seatedPlayer
	for _, sp := range r.seats {
		if sp.stack > 0 {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seat < out[j].seat })
	return out
}

func (r *Room) startHand() {
	eligible := r.eligiblePlayers()
	if len(eligible) < 2 {
		return // back to idle; the next join reschedules
	}

	// Rotate the button to the next occupied seat.
	button := 0
	for i, sp := range eligible {
		if sp.seat > r.buttonSeat {
			button = i
			break
		}
	}

	players := make([]*game.Player, len(eligible))
	for i, sp := range eligible {
		players[i] = &game.Player{
			UserID:   sp.userID,
			Username: sp.username,
			Seat:     sp.seat,
			Stack:    sp.stack,
		}
	}

	r.hand = game.NewHand(r.rng, players, button, r.cfg.SmallBlind, r.cfg.BigBlind)
	r.buttonSeat = eligible[button].seat
	r.logger.Info("hand started", "hand", r.hand.ID, "players", len(players))

	r.broadcastState(protocol.TypeNewRound)

	if r.hand.IsComplete() {
		// Blinds alone can put everyone all-in.
		r.finishHand()
		return
	}
	r.armTurnTimer()
}

func (r *Room) armTurnTimer() {
	r.turnDeadline = r.clock.Now().Add(r.opts.TurnTimeout)
}

// foldOutOfHand folds the user if a hand is live; their committed
// chips stay in the pot.
func (r *Room) foldOutOfHand(userID int64) {
	if r.hand == nil || r.hand.IsComplete() {
		return
	}
	idx := r.hand.PlayerIndex(userID)
	if idx == -1 {
		return
	}
	r.hand.ForceFold(idx)
	r.broadcastState(protocol.TypeGameState)
}

// afterForcedFold settles the hand if a forced fold ended it, or
// re-arms the timer for whoever acts now.
func (r *Room) afterForcedFold() {
	if r.hand == nil {
		return
	}
	if r.hand.IsComplete() {
		r.finishHand()
		return
	}
	r.armTurnTimer()
}

// satOut removes a seat on timeout or extended disconnect: the player
// is folded out of any live hand and their remaining stack goes back
// to their wallet.
func (r *Room) satOut(userID int64, reason string) {
	sp := r.seats[userID]
	if sp == nil {
		return
	}
	r.foldOutOfHand(userID)
	chips, err := r.releaseSeat(context.Background(), sp)
	if err != nil {
		r.logger.Error("releasing seat", "user", userID, "error", err)
	}
	delete(r.seats, userID)
	r.broadcast(protocol.MustMessage(protocol.TypePlayerSatOut, protocol.PlayerSatOut{
		UserID:        sp.userID,
		Username:      sp.username,
		Reason:        reason,
		ChipsReturned: chips,
	}))
	r.logger.Info("player sat out", "user", userID, "reason", reason, "chips", chips)
	r.afterForcedFold()
}

// releaseSeat flushes the authoritative in-memory stack to the seat
// row, then releases it so the wallet credit matches what the player
// actually had.
func (r *Room) releaseSeat(ctx context.Context, sp *seatedPlayer) (int64, error) {
	if r.hand != nil {
		if idx := r.hand.PlayerIndex(sp.userID); idx != -1 {
			sp.stack = r.hand.Players[idx].Stack
		}
	}
	err := r.st.UpsertSeat(ctx, &store.Seat{
		RoomID:     r.cfg.ID,
		UserID:     sp.userID,
		SeatNumber: sp.seat,
		Stack:      sp.stack,
		Status:     store.SeatWaiting,
	})
	if err != nil {
		return 0, err
	}
	return r.st.ReleaseSeat(ctx, r.cfg.ID, sp.userID)
}

// finishHand resolves the pot, reports the result, persists the
// outcome, and schedules the next hand.
func (r *Room) finishHand() {
	h := r.hand
	res, err := h.Resolve()
	if err != nil {
		r.logger.Error("resolving hand", "hand", h.ID, "error", err)
		r.hand = nil
		return
	}
	r.turnDeadline = time.Time{}

	// The in-memory stacks become authoritative for seats again.
	for _, p := range h.Players {
		if sp := r.seats[p.UserID]; sp != nil {
			sp.stack = p.Stack
		}
	}

	result := protocol.HandResult{Pot: res.Pot}
	for _, w := range res.Winners {
		hw := protocol.HandWinner{
			UserID:   w.Player.UserID,
			Username: w.Player.Username,
			Amount:   w.Amount,
		}
		if w.Hand != nil {
			hw.Hand = &protocol.HandInfo{
				Rank:        w.Hand.Category.String(),
				Description: w.Hand.Description(),
				Cards:       w.Hand.Cards,
			}
		}
		result.Winners = append(result.Winners, hw)
	}
	if res.Showdown {
		result.RevealedHands = h.RevealedHands()
		result.CommunityCards = res.Board
	}
	r.broadcast(protocol.MustMessage(protocol.TypeHandResult, result))

	r.persistHand(h, res)

	// Busted players leave the table; SettleHand removed their seats.
	for _, p := range h.Players {
		sp := r.seats[p.UserID]
		if sp == nil || sp.stack > 0 {
			continue
		}
		delete(r.seats, p.UserID)
		r.broadcast(protocol.MustMessage(protocol.TypePlayerLeft, protocol.PlayerLeft{
			UserID: p.UserID,
			Reason: "busted",
		}))
	}

	r.hand = nil
	if len(r.eligiblePlayers()) >= 2 {
		r.nextHandAt = r.clock.Now().Add(r.opts.InterHandDelay)
	}
}

// persistHand writes the settlement. Pot resolution never rolls back:
// stacks were already credited in memory, so a write failure is logged
// and the next hand end retries with fresh absolute stacks.
func (r *Room) persistHand(h *game.HandState, res *game.Result) {
	board, err := json.Marshal(res.Board)
	if err != nil {
		r.logger.Error("encoding board", "error", err)
		return
	}
	record, err := game.EncodeRecord(h.Record())
	if err != nil {
		r.logger.Error("encoding hand record", "error", err)
		return
	}

	settlement := &store.Settlement{
		RoomID:         r.cfg.ID,
		HandID:         h.ID,
		WinnerID:       res.Winners[0].Player.UserID,
		Pot:            res.Pot,
		CommunityCards: string(board),
		HandData:       record,
		Stacks:         make(map[int64]int64),
	}
	for _, p := range h.Players {
		sp := r.seats[p.UserID]
		if sp == nil {
			continue // left mid-hand; their seat is already released
		}
		settlement.Stacks[p.UserID] = p.Stack
		if p.Stack == 0 {
			settlement.Busted = append(settlement.Busted, p.UserID)
		}
	}
	for _, w := range res.Winners {
		settlement.Winners = append(settlement.Winners, store.HandWinner{
			UserID: w.Player.UserID,
			Amount: w.Amount,
		})
	}

	if err := r.st.SettleHand(context.Background(), settlement); err != nil {
		r.logger.Error("persisting hand", "hand", h.ID, "error", err)
	}
}

// broadcast sends a frame to every seated player and spectator.
func (r *Room) broadcast(msg *protocol.Message) {
	for _, sp := range r.seats {
		if sp.session != nil {
			sp.session.Send(msg)
		}
	}
	for sess := range r.spectators {
		sess.Send(msg)
	}
}

// broadcastState sends the public state to spectators and a private
// copy, carrying their own hole cards, to each seated player.
func (r *Room) broadcastState(t protocol.Type) {
	for _, sp := range r.seats {
		if sp.session != nil {
			sp.session.Send(r.stateMessage(t, sp.userID))
		}
	}
	public := r.stateMessage(t, 0)
	for sess := range r.spectators {
		sess.Send(public)
	}
}

// stateMessage builds a game_state/new_round frame. A non-zero forUser
// adds that player's own hole cards.
func (r *Room) stateMessage(t protocol.Type, forUser int64) *protocol.Message {
	state := r.publicState()
	if forUser != 0 && r.hand != nil {
		if idx := r.hand.PlayerIndex(forUser); idx != -1 {
			state.YourCards = r.hand.Players[idx].HoleCards
		}
	}
	return protocol.MustMessage(t, state)
}

// publicState composes the game state everyone may see.
func (r *Room) publicState() *protocol.GameState {
	state := &protocol.GameState{
		RoomID:         r.cfg.ID,
		Phase:          "waiting",
		CommunityCards: []poker.Card{},
	}

	dealer, sb, bb := -1, -1, -1
	if r.hand != nil {
		state.HandID = r.hand.ID
		state.Phase = r.hand.Street.String()
		state.Pot = r.hand.Pot()
		state.CurrentBet = r.hand.Betting.CurrentBet
		state.MinRaise = r.hand.Betting.MinRaise
		state.CommunityCards = r.hand.Board
		if actor := r.hand.CurrentActor(); actor != nil {
			state.CurrentActorID = actor.UserID
		}
		dealer, sb, bb = r.hand.Positions()
	}

	for _, sp := range r.sortedSeats() {
		ps := protocol.PlayerState{
			UserID:     sp.userID,
			Username:   sp.username,
			SeatNumber: sp.seat,
			Stack:      sp.stack,
			Status:     "waiting",
		}
		if r.hand != nil {
			if idx := r.hand.PlayerIndex(sp.userID); idx != -1 {
				p := r.hand.Players[idx]
				ps.Stack = p.Stack
				ps.CurrentBet = p.Bet
				ps.Status = p.Status.String()
				ps.IsDealer = idx == dealer
				ps.IsSmallBlind = idx == sb
				ps.IsBigBlind = idx == bb
			}
		}
		state.Players = append(state.Players, ps)
	}
	return state
}

func (r *Room) sortedSeats() []*seatedPlayer {
	out := make([]*seatedPlayer, 0, len(r.seats))
	for _, sp := range r.seats {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seat < out[j].seat })
	return out
}
