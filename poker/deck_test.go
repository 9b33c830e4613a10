package poker

import (
	"math/rand/v2"
	"testing"
)

func newTestRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func TestDeckContainsAllCards(t *testing.T) {
	t.Parallel()

	d := NewDeck(newTestRand(1))
	seen := make(map[Card]bool)
	for d.CardsRemaining() > 0 {
		c := d.DealOne()
		if seen[c] {
			t.Fatalf("Card %v dealt twice", c)
		}
		seen[c] = true
	}
	if len(seen) != 52 {
		t.Errorf("Expected 52 unique cards, got %d", len(seen))
	}
}

func TestDeckDeterministicWithSeed(t *testing.T) {
	t.Parallel()

	d1 := NewDeck(newTestRand(42))
	d2 := NewDeck(newTestRand(42))
	for i := 0; i < 52; i++ {
		c1, c2 := d1.DealOne(), d2.DealOne()
		if c1 != c2 {
			t.Fatalf("Decks with same seed diverged at card %d: %v vs %v", i, c1, c2)
		}
	}

	d3 := NewDeck(newTestRand(7))
	d4 := NewDeck(newTestRand(8))
	same := true
	for i := 0; i < 52; i++ {
		if d3.DealOne() != d4.DealOne() {
			same = false
			break
		}
	}
	if same {
		t.Error("Decks with different seeds produced identical order")
	}
}

func TestDeckDeal(t *testing.T) {
	t.Parallel()

	d := NewDeck(newTestRand(3))
	hole := d.Deal(2)
	if len(hole) != 2 {
		t.Fatalf("Expected 2 cards, got %d", len(hole))
	}
	if d.CardsRemaining() != 50 {
		t.Errorf("Expected 50 remaining, got %d", d.CardsRemaining())
	}

	d.Burn()
	if d.CardsRemaining() != 49 {
		t.Errorf("Expected 49 remaining after burn, got %d", d.CardsRemaining())
	}

	flop := d.Deal(3)
	if len(flop) != 3 {
		t.Fatalf("Expected 3 cards, got %d", len(flop))
	}
	for _, h := range hole {
		for _, f := range flop {
			if h == f {
				t.Errorf("Card %v dealt twice", h)
			}
		}
	}

	// Overdraw returns nil.
	if got := d.Deal(53); got != nil {
		t.Errorf("Expected nil for overdraw, got %d cards", len(got))
	}
}

func TestDeckShuffleResets(t *testing.T) {
	t.Parallel()

	d := NewDeck(newTestRand(5))
	d.Deal(10)
	d.Shuffle()
	if d.CardsRemaining() != 52 {
		t.Errorf("Expected full deck after shuffle, got %d", d.CardsRemaining())
	}
}

func TestNewShuffleSource(t *testing.T) {
	t.Parallel()

	// Two independently seeded sources should essentially never agree
	// on a full deck order.
	d1 := NewDeck(NewShuffleSource())
	d2 := NewDeck(NewShuffleSource())
	same := true
	for i := 0; i < 52; i++ {
		if d1.DealOne() != d2.DealOne() {
			same = false
			break
		}
	}
	if same {
		t.Error("Independently seeded decks produced identical order")
	}
}
