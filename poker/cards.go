package poker

import (
	"encoding/json"
	"fmt"
)

// Suit represents a card suit
type Suit int

const (
	Spades Suit = iota
	Hearts
	Diamonds
	Clubs
)

// String returns the string representation of a suit
func (s Suit) String() string {
	switch s {
	case Spades:
		return "♠"
	case Hearts:
		return "♥"
	case Diamonds:
		return "♦"
	case Clubs:
		return "♣"
	default:
		return "?"
	}
}

// IsRed returns true if the suit is red (Hearts or Diamonds)
func (s Suit) IsRed() bool {
	return s == Hearts || s == Diamonds
}

// ParseSuit parses a suit from its symbol or single-letter form ("♠" or "s").
func ParseSuit(s string) (Suit, error) {
	switch s {
	case "♠", "s", "S":
		return Spades, nil
	case "♥", "h", "H":
		return Hearts, nil
	case "♦", "d", "D":
		return Diamonds, nil
	case "♣", "c", "C":
		return Clubs, nil
	default:
		return 0, fmt.Errorf("invalid suit %q", s)
	}
}

// Rank represents a card rank. Aces are high.
type Rank int

const (
	Two Rank = iota + 2
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

// String returns the string representation of a rank
func (r Rank) String() string {
	switch r {
	case Two:
		return "2"
	case Three:
		return "3"
	case Four:
		return "4"
	case Five:
		return "5"
	case Six:
		return "6"
	case Seven:
		return "7"
	case Eight:
		return "8"
	case Nine:
		return "9"
	case Ten:
		return "T"
	case Jack:
		return "J"
	case Queen:
		return "Q"
	case King:
		return "K"
	case Ace:
		return "A"
	default:
		return "?"
	}
}

// Name returns the spoken name of a rank ("A" becomes "Ace", "5" stays "5").
func (r Rank) Name() string {
	switch r {
	case Ten:
		return "10"
	case Jack:
		return "Jack"
	case Queen:
		return "Queen"
	case King:
		return "King"
	case Ace:
		return "Ace"
	default:
		return r.String()
	}
}

// ParseRank parses a rank from its string form ("A", "T", "10", "5").
func ParseRank(s string) (Rank, error) {
	switch s {
	case "2":
		return Two, nil
	case "3":
		return Three, nil
	case "4":
		return Four, nil
	case "5":
		return Five, nil
	case "6":
		return Six, nil
	case "7":
		return Seven, nil
	case "8":
		return Eight, nil
	case "9":
		return Nine, nil
	case "T", "t", "10":
		return Ten, nil
	case "J", "j":
		return Jack, nil
	case "Q", "q":
		return Queen, nil
	case "K", "k":
		return King, nil
	case "A", "a":
		return Ace, nil
	default:
		return 0, fmt.Errorf("invalid rank %q", s)
	}
}

// Card represents a playing card
type Card struct {
	Suit Suit
	Rank Rank
}

// NewCard creates a new card
func NewCard(rank Rank, suit Suit) Card {
	return Card{Suit: suit, Rank: rank}
}

// String returns the string representation of a card (e.g., "A♠")
func (c Card) String() string {
	return fmt.Sprintf("%s%s", c.Rank, c.Suit)
}

// IsRed returns true if the card is red
func (c Card) IsRed() bool {
	return c.Suit.IsRed()
}

// cardJSON is the wire form of a card.
type cardJSON struct {
	Suit string `json:"suit"`
	Rank string `json:"rank"`
}

// MarshalJSON encodes the card as {"suit":"♠","rank":"A"}.
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(cardJSON{Suit: c.Suit.String(), Rank: c.Rank.String()})
}

// UnmarshalJSON decodes a card from its wire form.
func (c *Card) UnmarshalJSON(data []byte) error {
	var raw cardJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	suit, err := ParseSuit(raw.Suit)
	if err != nil {
		return err
	}
	rank, err := ParseRank(raw.Rank)
	if err != nil {
		return err
	}
	c.Suit = suit
	c.Rank = rank
	return nil
}

// ParseCard parses a card from compact notation ("As", "Td") or
// symbol notation ("A♠").
func ParseCard(s string) (Card, error) {
	runes := []rune(s)
	if len(runes) < 2 {
		return Card{}, fmt.Errorf("invalid card %q", s)
	}
	suit, err := ParseSuit(string(runes[len(runes)-1]))
	if err != nil {
		return Card{}, fmt.Errorf("invalid card %q: %w", s, err)
	}
	rank, err := ParseRank(string(runes[:len(runes)-1]))
	if err != nil {
		return Card{}, fmt.Errorf("invalid card %q: %w", s, err)
	}
	return Card{Suit: suit, Rank: rank}, nil
}

// MustParseCard parses a card and panics on failure. Intended for tests
// and static tables.
func MustParseCard(s string) Card {
	c, err := ParseCard(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCards parses a space-separated list of cards.
func ParseCards(s string) ([]Card, error) {
	var cards []Card
	start := -1
	runes := []rune(s)
	flush := func(end int) error {
		if start < 0 {
			return nil
		}
		c, err := ParseCard(string(runes[start:end]))
		if err != nil {
			return err
		}
		cards = append(cards, c)
		start = -1
		return nil
	}
	for i, r := range runes {
		if r == ' ' || r == ',' {
			if err := flush(i); err != nil {
				return nil, err
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if err := flush(len(runes)); err != nil {
		return nil, err
	}
	return cards, nil
}
