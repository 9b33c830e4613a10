package poker

import (
	"fmt"
	"sort"
)

// Category enumerates the classes of poker hands ordered from weakest
// to strongest.
type Category int

const (
	HighCard Category = iota
	Pair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
	RoyalFlush
)

// String returns the wire identifier of the category.
func (c Category) String() string {
	switch c {
	case HighCard:
		return "high-card"
	case Pair:
		return "pair"
	case TwoPair:
		return "two-pair"
	case ThreeOfAKind:
		return "three-of-a-kind"
	case Straight:
		return "straight"
	case Flush:
		return "flush"
	case FullHouse:
		return "full-house"
	case FourOfAKind:
		return "four-of-a-kind"
	case StraightFlush:
		return "straight-flush"
	case RoyalFlush:
		return "royal-flush"
	default:
		return "unknown"
	}
}

// Hand is an evaluated five-card poker hand.
type Hand struct {
	Category Category
	Kickers  []Rank // tie-break ranks, most significant first
	Cards    []Card // the five cards forming the hand
}

// Value packs the hand into a single orderable key. Higher values are
// stronger hands. The category occupies the top bits and each kicker
// a four-bit nibble below it, so comparing values compares hands.
func (h Hand) Value() uint32 {
	v := uint32(h.Category) << 20
	shift := 16
	for _, k := range h.Kickers {
		if shift < 0 {
			break
		}
		v |= uint32(k) << shift
		shift -= 4
	}
	return v
}

// Compare returns 1 if h beats other, -1 if other beats h, 0 on a tie.
func (h Hand) Compare(other Hand) int {
	hv, ov := h.Value(), other.Value()
	if hv > ov {
		return 1
	} else if hv < ov {
		return -1
	}
	return 0
}

// Description returns a short human-readable summary of the hand,
// such as "Full House, Kings full of 5s" or "Pair of Queens".
func (h Hand) Description() string {
	k := func(i int) Rank {
		if i < len(h.Kickers) {
			return h.Kickers[i]
		}
		return 0
	}
	switch h.Category {
	case RoyalFlush:
		return "Royal Flush"
	case StraightFlush:
		return fmt.Sprintf("Straight Flush, %s high", k(0).Name())
	case FourOfAKind:
		return fmt.Sprintf("Four of a Kind, %s", plural(k(0)))
	case FullHouse:
		return fmt.Sprintf("Full House, %s full of %s", plural(k(0)), plural(k(1)))
	case Flush:
		return fmt.Sprintf("Flush, %s high", k(0).Name())
	case Straight:
		return fmt.Sprintf("Straight, %s high", k(0).Name())
	case ThreeOfAKind:
		return fmt.Sprintf("Three of a Kind, %s", plural(k(0)))
	case TwoPair:
		return fmt.Sprintf("Two Pair, %s and %s", plural(k(0)), plural(k(1)))
	case Pair:
		return fmt.Sprintf("Pair of %s", plural(k(0)))
	default:
		return fmt.Sprintf("High Card, %s", k(0).Name())
	}
}

// plural returns the plural spoken form of a rank ("Kings", "5s").
func plural(r Rank) string {
	return r.Name() + "s"
}

// Evaluate returns the strongest five-card hand that can be made from
// the given cards. Between five and seven cards are expected; with
// fewer than five the zero hand is returned.
func Evaluate(cards []Card) Hand {
	switch {
	case len(cards) < 5:
		return Hand{}
	case len(cards) == 5:
		five := [5]Card{cards[0], cards[1], cards[2], cards[3], cards[4]}
		return evaluate5(five)
	}

	var best Hand
	bestSet := false
	consider := func(five [5]Card) {
		h := evaluate5(five)
		if !bestSet || h.Value() > best.Value() {
			best = h
			bestSet = true
		}
	}

	n := len(cards)
	if n == 6 {
		for skip := 0; skip < n; skip++ {
			var five [5]Card
			w := 0
			for i, c := range cards {
				if i == skip {
					continue
				}
				five[w] = c
				w++
			}
			consider(five)
		}
		return best
	}

	// Seven cards: leave out every pair of indices.
	for a := 0; a < n-1; a++ {
		for b := a + 1; b < n; b++ {
			var five [5]Card
			w := 0
			for i, c := range cards {
				if i == a || i == b {
					continue
				}
				five[w] = c
				w++
			}
			consider(five)
		}
	}
	return best
}

// EvaluateHoldem evaluates the best hand from two hole cards and the
// community cards.
func EvaluateHoldem(hole []Card, community []Card) Hand {
	all := make([]Card, 0, len(hole)+len(community))
	all = append(all, hole...)
	all = append(all, community...)
	return Evaluate(all)
}

// evaluate5 classifies exactly five cards.
func evaluate5(five [5]Card) Hand {
	var rankMask uint16
	counts := make(map[Rank]int, 5)
	flush := true
	for i, c := range five {
		counts[c.Rank]++
		rankMask |= 1 << (c.Rank - Two)
		if i > 0 && c.Suit != five[0].Suit {
			flush = false
		}
	}
	straightHighRank := straightHigh(rankMask)

	h := Hand{Cards: make([]Card, 5)}
	copy(h.Cards, five[:])

	switch {
	case flush && straightHighRank == Ace:
		h.Category = RoyalFlush
		h.Kickers = []Rank{Ace}
	case flush && straightHighRank != 0:
		h.Category = StraightFlush
		h.Kickers = []Rank{straightHighRank}
	case flush:
		h.Category = Flush
		h.Kickers = ranksDescending(counts)
	case straightHighRank != 0:
		h.Category = Straight
		h.Kickers = []Rank{straightHighRank}
	default:
		h.Category, h.Kickers = classifyGroups(counts)
	}

	sortForDisplay(h.Cards, counts, straightHighRank)
	return h
}

// classifyGroups handles the paired categories using rank frequencies.
func classifyGroups(counts map[Rank]int) (Category, []Rank) {
	var quad, trip Rank
	var pairs []Rank
	for r, n := range counts {
		switch n {
		case 4:
			quad = r
		case 3:
			trip = r
		case 2:
			pairs = append(pairs, r)
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i] > pairs[j] })

	switch {
	case quad != 0:
		return FourOfAKind, append([]Rank{quad}, singlesDescending(counts, quad)...)
	case trip != 0 && len(pairs) == 1:
		return FullHouse, []Rank{trip, pairs[0]}
	case trip != 0:
		return ThreeOfAKind, append([]Rank{trip}, singlesDescending(counts, trip)...)
	case len(pairs) == 2:
		kickers := []Rank{pairs[0], pairs[1]}
		return TwoPair, append(kickers, singlesDescending(counts, pairs[0], pairs[1])...)
	case len(pairs) == 1:
		return Pair, append([]Rank{pairs[0]}, singlesDescending(counts, pairs[0])...)
	default:
		return HighCard, ranksDescending(counts)
	}
}

// straightHigh returns the high rank of a straight present in the rank
// mask, or zero when there is none. The wheel A-2-3-4-5 reports Five.
func straightHigh(mask uint16) Rank {
	// A-K-Q-J-T first, then shift the window down one rank at a time.
	window := uint16(0x1F00)
	for high := Ace; high >= Six; high-- {
		if mask&window == window {
			return high
		}
		window >>= 1
	}
	if mask&0x100F == 0x100F { // Ace plus 2-3-4-5
		return Five
	}
	return 0
}

// ranksDescending returns all distinct ranks in descending order.
func ranksDescending(counts map[Rank]int) []Rank {
	ranks := make([]Rank, 0, len(counts))
	for r := range counts {
		ranks = append(ranks, r)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] > ranks[j] })
	return ranks
}

// singlesDescending returns the unpaired ranks in descending order,
// skipping the excluded group ranks.
func singlesDescending(counts map[Rank]int, exclude ...Rank) []Rank {
	var singles []Rank
	for r := range counts {
		skip := false
		for _, ex := range exclude {
			if r == ex {
				skip = true
				break
			}
		}
		if !skip {
			singles = append(singles, r)
		}
	}
	sort.Slice(singles, func(i, j int) bool { return singles[i] > singles[j] })
	return singles
}

// sortForDisplay orders the five cards with grouped ranks first, then
// by rank. The wheel displays as 5-4-3-2-A.
func sortForDisplay(cards []Card, counts map[Rank]int, straightHighRank Rank) {
	if straightHighRank == Five {
		sort.Slice(cards, func(i, j int) bool {
			vi, vj := int(cards[i].Rank), int(cards[j].Rank)
			if cards[i].Rank == Ace {
				vi = 1
			}
			if cards[j].Rank == Ace {
				vj = 1
			}
			return vi > vj
		})
		return
	}
	sort.Slice(cards, func(i, j int) bool {
		ci, cj := counts[cards[i].Rank], counts[cards[j].Rank]
		if ci != cj {
			return ci > cj
		}
		return cards[i].Rank > cards[j].Rank
	})
}
