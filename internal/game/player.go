package game

import (
	"github.com/lox/holdem/poker"
)

// Status describes a player's standing within the current hand.
// Folded and all-in are sticky for the remainder of the hand.
type Status int

const (
	StatusActive Status = iota
	StatusFolded
	StatusAllIn
)

func (s Status) String() string {
	return [...]string{"active", "folded", "all-in"}[s]
}

// Player represents a player dealt into a hand
type Player struct {
	UserID    int64
	Username  string
	Seat      int // seat number at the table
	Stack     int64
	HoleCards []poker.Card
	Status    Status
	Bet       int64 // chips committed this street
	TotalBet  int64 // chips committed across the whole hand
}

// CanAct returns true if the player can still act in this hand
func (p *Player) CanAct() bool {
	return p.Status == StatusActive
}
