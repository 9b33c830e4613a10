package game

import "fmt"

// Street represents the betting round
type Street int

const (
	Preflop Street = iota
	Flop
	Turn
	River
	Showdown
)

func (s Street) String() string {
	return [...]string{"preflop", "flop", "turn", "river", "showdown"}[s]
}

// Action represents a player action
type Action int

const (
	Fold Action = iota
	Check
	Call
	Raise
	AllIn
)

func (a Action) String() string {
	return [...]string{"fold", "check", "call", "raise", "all-in"}[a]
}

// ParseAction parses the wire form of an action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "fold":
		return Fold, nil
	case "check":
		return Check, nil
	case "call":
		return Call, nil
	case "raise":
		return Raise, nil
	case "all-in":
		return AllIn, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

// BettingRound encapsulates the state for a single betting round
type BettingRound struct {
	CurrentBet     int64
	MinRaise       int64
	LastAggressor  int // index of the last player to raise, -1 when none
	ActedThisRound []bool
	BigBlind       int64 // for resetting min raise on new streets
}

// NewBettingRound creates a new betting round
func NewBettingRound(numPlayers int, bigBlind int64) *BettingRound {
	return &BettingRound{
		CurrentBet:     0,
		MinRaise:       bigBlind,
		LastAggressor:  -1,
		ActedThisRound: make([]bool, numPlayers),
		BigBlind:       bigBlind,
	}
}

// MarkActed records that a player has acted in this round
func (br *BettingRound) MarkActed(idx int) {
	if idx >= 0 && idx < len(br.ActedThisRound) {
		br.ActedThisRound[idx] = true
	}
}

// RecordAggression resets the acted set to only the aggressor.
// Everyone else must act again before the round can close.
func (br *BettingRound) RecordAggression(idx int) {
	for i := range br.ActedThisRound {
		br.ActedThisRound[i] = false
	}
	br.MarkActed(idx)
	br.LastAggressor = idx
}

// ResetForNewStreet resets the betting round for a new street
func (br *BettingRound) ResetForNewStreet(numPlayers int) {
	br.CurrentBet = 0
	br.MinRaise = br.BigBlind
	br.LastAggressor = -1
	br.ActedThisRound = make([]bool, numPlayers)
}

// Complete reports whether betting is complete for this round: every
// player who can still act has acted and matched the current bet.
func (br *BettingRound) Complete(players []*Player) bool {
	for i, p := range players {
		if !p.CanAct() {
			continue
		}
		if !br.ActedThisRound[i] || p.Bet != br.CurrentBet {
			return false
		}
	}
	return true
}

// ValidActions returns the legal actions for a player
func (br *BettingRound) ValidActions(p *Player) []Action {
	if !p.CanAct() {
		return nil
	}

	actions := []Action{Fold}
	toCall := br.CurrentBet - p.Bet

	if toCall == 0 {
		actions = append(actions, Check)
	} else {
		actions = append(actions, Call)
	}
	if p.Stack > toCall {
		// Enough behind to raise; a raise below the minimum is still
		// legal as a short all-in.
		actions = append(actions, Raise)
	}
	if p.Stack > 0 {
		actions = append(actions, AllIn)
	}

	return actions
}
