package game

import (
	"fmt"
	"math/rand/v2"

	"github.com/lox/holdem/poker"
)

// HandState is the authoritative state of a single hand being played.
// It is not safe for concurrent use; the owning room serializes access.
type HandState struct {
	ID           string
	Players      []*Player
	Button       int // index into Players
	SmallBlind   int64
	BigBlind     int64
	Street       Street
	Board        []poker.Card
	Deck         *poker.Deck
	Betting      *BettingRound
	ActivePlayer int // index into Players, -1 when nobody can act

	collected   int64 // chips swept from completed streets
	presetBoard []poker.Card
	resolved    bool
	record      *HandRecord
}

// HandOption configures a HandState during creation.
type HandOption func(*handConfig)

type handConfig struct {
	id    string
	deck  *poker.Deck
	hole  [][]poker.Card
	board []poker.Card
}

// WithID sets the hand identifier instead of generating one.
func WithID(id string) HandOption {
	return func(c *handConfig) {
		c.id = id
	}
}

// WithDeck sets a specific pre-shuffled deck, overriding the RNG for
// deck creation.
func WithDeck(deck *poker.Deck) HandOption {
	return func(c *handConfig) {
		c.deck = deck
	}
}

// WithCards fixes the hole cards per player and the board run-out
// instead of dealing from a deck. Used for replays and deterministic
// tests. The board may hold fewer than five cards if the hand is
// expected to end before they are needed.
func WithCards(hole [][]poker.Card, board []poker.Card) HandOption {
	return func(c *handConfig) {
		c.hole = hole
		c.board = board
	}
}

// NewHand creates a hand for the given players and posts the blinds.
// Players are ordered by seat; button is an index into that slice.
// The RNG drives the deck shuffle and may only be nil when the cards
// are fixed via options.
func NewHand(rng *rand.Rand, players []*Player, button int, smallBlind, bigBlind int64, opts ...HandOption) *HandState {
	if len(players) < 2 {
		panic("at least 2 players required")
	}
	if button < 0 || button >= len(players) {
		panic("button position out of range")
	}

	cfg := &handConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	deck := cfg.deck
	if deck == nil && (cfg.hole == nil || cfg.board == nil) {
		if rng == nil {
			panic("rng is required for hand creation")
		}
		deck = poker.NewDeck(rng)
	}

	id := cfg.id
	if id == "" && rng != nil {
		id = NewHandID(rng)
	}

	for _, p := range players {
		p.Status = StatusActive
		p.Bet = 0
		p.TotalBet = 0
		p.HoleCards = nil
	}

	h := &HandState{
		ID:          id,
		Players:     players,
		Button:      button,
		SmallBlind:  smallBlind,
		BigBlind:    bigBlind,
		Street:      Preflop,
		Deck:        deck,
		Betting:     NewBettingRound(len(players), bigBlind),
		presetBoard: cfg.board,
	}

	h.postBlinds()
	h.dealHoleCards(cfg.hole)
	h.startRecord()

	// First to act preflop: the dealer in heads-up play, otherwise the
	// seat after the big blind.
	_, _, bb := h.Positions()
	if len(players) == 2 {
		h.ActivePlayer = h.nextActivePlayer(h.Button)
	} else {
		h.ActivePlayer = h.nextActivePlayer((bb + 1) % len(players))
	}

	// Blinds can put players all-in before anyone acts.
	if h.ActivePlayer == -1 {
		h.NextStreet()
	}

	return h
}

// Positions returns the dealer, small blind, and big blind indices.
// In heads-up play the dealer posts the small blind.
func (h *HandState) Positions() (dealer, sb, bb int) {
	n := len(h.Players)
	if n == 2 {
		return h.Button, h.Button, (h.Button + 1) % n
	}
	return h.Button, (h.Button + 1) % n, (h.Button + 2) % n
}

func (h *HandState) postBlinds() {
	_, sb, bb := h.Positions()
	h.commit(h.Players[sb], min(h.SmallBlind, h.Players[sb].Stack))
	h.commit(h.Players[bb], min(h.BigBlind, h.Players[bb].Stack))
	h.Betting.CurrentBet = max(h.Players[sb].Bet, h.Players[bb].Bet)
}

func (h *HandState) dealHoleCards(preset [][]poker.Card) {
	for i, p := range h.Players {
		if preset != nil {
			p.HoleCards = append([]poker.Card(nil), preset[i]...)
			continue
		}
		p.HoleCards = h.Deck.Deal(2)
	}
}

// dealBoard appends n community cards, from the preset run-out when
// one was supplied, otherwise burning and dealing from the deck.
func (h *HandState) dealBoard(n int) {
	if h.presetBoard != nil {
		have := len(h.Board)
		for i := 0; i < n && have+i < len(h.presetBoard); i++ {
			h.Board = append(h.Board, h.presetBoard[have+i])
		}
		return
	}
	h.Deck.Burn()
	h.Board = append(h.Board, h.Deck.Deal(n)...)
}

// commit moves chips from the player's stack into their street bet.
func (h *HandState) commit(p *Player, chips int64) {
	if chips > p.Stack {
		chips = p.Stack
	}
	p.Stack -= chips
	p.Bet += chips
	p.TotalBet += chips
	if p.Stack == 0 {
		p.Status = StatusAllIn
	}
}

// CurrentActor returns the player whose turn it is, or nil.
func (h *HandState) CurrentActor() *Player {
	if h.ActivePlayer < 0 || h.ActivePlayer >= len(h.Players) {
		return nil
	}
	return h.Players[h.ActivePlayer]
}

// PlayerIndex returns the index of the player with the given user id,
// or -1 if they are not in the hand.
func (h *HandState) PlayerIndex(userID int64) int {
	for i, p := range h.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// ProcessAction applies the current actor's action. For raises, amount
// is the increment above the table bet; other actions ignore it.
func (h *HandState) ProcessAction(action Action, amount int64) error {
	p := h.CurrentActor()
	if p == nil || h.Street == Showdown || h.IsComplete() {
		return fmt.Errorf("no action expected")
	}

	toCall := h.Betting.CurrentBet - p.Bet

	switch action {
	case Fold:
		p.Status = StatusFolded
		h.Betting.MarkActed(h.ActivePlayer)
		if h.Betting.LastAggressor == h.ActivePlayer {
			h.Betting.LastAggressor = -1
		}

	case Check:
		if toCall != 0 {
			return fmt.Errorf("cannot check, must call %d", toCall)
		}
		h.Betting.MarkActed(h.ActivePlayer)

	case Call:
		if toCall <= 0 {
			return fmt.Errorf("nothing to call")
		}
		h.commit(p, min(toCall, p.Stack))
		h.Betting.MarkActed(h.ActivePlayer)

	case Raise:
		if amount <= 0 {
			return fmt.Errorf("raise requires a positive amount")
		}
		if toCall+amount > p.Stack {
			return fmt.Errorf("insufficient chips")
		}
		shortAllIn := toCall+amount == p.Stack
		if amount < h.Betting.MinRaise && !shortAllIn {
			return fmt.Errorf("raise too small, minimum %d", h.Betting.MinRaise)
		}
		h.commit(p, toCall+amount)
		// A short all-in below the minimum does not lower the bar for
		// later raises.
		if amount >= h.Betting.MinRaise {
			h.Betting.MinRaise = amount
		}
		h.Betting.CurrentBet = p.Bet
		h.Betting.RecordAggression(h.ActivePlayer)

	case AllIn:
		if p.Stack <= 0 {
			return fmt.Errorf("no chips to bet")
		}
		h.commit(p, p.Stack)
		if p.Bet > h.Betting.CurrentBet {
			portion := p.Bet - h.Betting.CurrentBet
			if portion >= h.Betting.MinRaise {
				h.Betting.MinRaise = portion
			}
			h.Betting.CurrentBet = p.Bet
			h.Betting.RecordAggression(h.ActivePlayer)
		} else {
			h.Betting.MarkActed(h.ActivePlayer)
		}

	default:
		return fmt.Errorf("unknown action %d", action)
	}

	h.recordAction(p.UserID, action, amount, false)
	h.advance()
	return nil
}

// ForceFold folds the given player immediately, regardless of turn
// order. Used when a player times out, disconnects for good, or leaves
// mid-hand.
func (h *HandState) ForceFold(idx int) {
	if idx < 0 || idx >= len(h.Players) {
		return
	}
	p := h.Players[idx]
	if p.Status == StatusFolded || h.resolved {
		return
	}

	p.Status = StatusFolded
	h.Betting.MarkActed(idx)
	if h.Betting.LastAggressor == idx {
		h.Betting.LastAggressor = -1
	}
	h.recordAction(p.UserID, Fold, 0, true)

	if h.nonFoldedCount() <= 1 {
		h.ActivePlayer = -1
		return
	}

	if idx == h.ActivePlayer {
		h.ActivePlayer = h.nextActivePlayer(idx + 1)
	}
	if h.ActivePlayer == -1 || h.Betting.Complete(h.Players) {
		h.NextStreet()
	}
}

// advance moves the turn along after an action and rolls the street
// when the betting round has closed.
func (h *HandState) advance() {
	if h.nonFoldedCount() <= 1 {
		h.ActivePlayer = -1
		return
	}
	next := h.nextActivePlayer(h.ActivePlayer + 1)
	if next == -1 || h.Betting.Complete(h.Players) {
		h.NextStreet()
		return
	}
	h.ActivePlayer = next
}

func (h *HandState) nextActivePlayer(from int) int {
	n := len(h.Players)
	for i := 0; i < n; i++ {
		pos := (from + i) % n
		if h.Players[pos].CanAct() {
			return pos
		}
	}
	return -1
}

// NextStreet sweeps the street's bets into the pot, advances the
// phase, and deals community cards.
func (h *HandState) NextStreet() {
	for _, p := range h.Players {
		h.collected += p.Bet
		p.Bet = 0
	}
	h.Betting.ResetForNewStreet(len(h.Players))

	if h.Street == Showdown {
		return
	}
	if h.nonFoldedCount() <= 1 {
		h.ActivePlayer = -1
		return
	}

	switch h.Street {
	case Preflop:
		h.Street = Flop
		h.dealBoard(3)
	case Flop:
		h.Street = Turn
		h.dealBoard(1)
	case Turn:
		h.Street = River
		h.dealBoard(1)
	case River:
		h.Street = Showdown
		h.ActivePlayer = -1
		return
	}

	// First to act post-flop is the first player left of the button
	// who can still bet.
	h.ActivePlayer = h.nextActivePlayer((h.Button + 1) % len(h.Players))

	// All-in shortcut: with at most one player able to act there is no
	// more betting, so run the board out.
	if h.activeCount() <= 1 {
		h.NextStreet()
	}
}

func (h *HandState) nonFoldedCount() int {
	n := 0
	for _, p := range h.Players {
		if p.Status != StatusFolded {
			n++
		}
	}
	return n
}

func (h *HandState) activeCount() int {
	n := 0
	for _, p := range h.Players {
		if p.CanAct() {
			n++
		}
	}
	return n
}

// Pot returns the total pot including bets not yet swept from the
// current street.
func (h *HandState) Pot() int64 {
	total := h.collected
	for _, p := range h.Players {
		total += p.Bet
	}
	return total
}

// IsComplete returns true once the hand has reached showdown or been
// folded down to a single player.
func (h *HandState) IsComplete() bool {
	return h.Street == Showdown || h.nonFoldedCount() <= 1
}

// Result is the outcome of a completed hand.
type Result struct {
	Winners  []Winner
	Pot      int64
	Showdown bool
	Board    []poker.Card
}

// Winner is one pot recipient.
type Winner struct {
	Player *Player
	Amount int64
	Hand   *poker.Hand // nil when the pot was won without showdown
}

// Resolve finishes the hand: it determines the winners, credits their
// stacks, and returns the outcome. It is valid exactly once, after
// IsComplete reports true.
func (h *HandState) Resolve() (*Result, error) {
	if h.resolved {
		return nil, fmt.Errorf("hand already resolved")
	}
	if !h.IsComplete() {
		return nil, fmt.Errorf("hand is not complete")
	}
	h.resolved = true

	// Sweep any outstanding bets from the final street.
	for _, p := range h.Players {
		h.collected += p.Bet
		p.Bet = 0
	}
	pot := h.collected
	res := &Result{Pot: pot, Board: h.Board}

	var contenders []*Player
	for _, p := range h.Players {
		if p.Status != StatusFolded {
			contenders = append(contenders, p)
		}
	}

	if len(contenders) == 1 {
		// Won by fold; hole cards stay hidden.
		w := contenders[0]
		w.Stack += pot
		res.Winners = []Winner{{Player: w, Amount: pot}}
		h.finishRecord(res)
		return res, nil
	}

	// Showdown: best evaluator value takes the pot; ties split it
	// equally and any remainder is discarded.
	res.Showdown = true
	hands := make(map[*Player]poker.Hand, len(contenders))
	var best uint32
	for _, p := range contenders {
		hand := poker.EvaluateHoldem(p.HoleCards, h.Board)
		hands[p] = hand
		if v := hand.Value(); v > best {
			best = v
		}
	}

	var top []*Player
	for _, p := range contenders {
		if hands[p].Value() == best {
			top = append(top, p)
		}
	}

	share := pot / int64(len(top))
	for _, p := range top {
		p.Stack += share
		hand := hands[p]
		res.Winners = append(res.Winners, Winner{Player: p, Amount: share, Hand: &hand})
	}

	h.finishRecord(res)
	return res, nil
}

// RevealedHands returns each non-folded player's hole cards, keyed by
// user id. Only meaningful at showdown.
func (h *HandState) RevealedHands() map[int64][]poker.Card {
	revealed := make(map[int64][]poker.Card)
	for _, p := range h.Players {
		if p.Status != StatusFolded {
			revealed[p.UserID] = p.HoleCards
		}
	}
	return revealed
}
