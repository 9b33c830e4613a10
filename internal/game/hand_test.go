package game

import (
	"fmt"
	"testing"

	"github.com/lox/holdem/poker"
)

func testPlayers(stacks ...int64) []*Player {
	players := make([]*Player, len(stacks))
	for i, s := range stacks {
		players[i] = &Player{
			UserID:   int64(i + 1),
			Username: fmt.Sprintf("player%d", i+1),
			Seat:     i,
			Stack:    s,
		}
	}
	return players
}

func cards(t *testing.T, s string) []poker.Card {
	t.Helper()
	parsed, err := poker.ParseCards(s)
	if err != nil {
		t.Fatalf("ParseCards(%q): %v", s, err)
	}
	return parsed
}

// headsUpHand deals a deterministic heads-up hand: player 1 holds aces,
// player 2 holds seven-deuce, the board pairs neither draw.
func headsUpHand(t *testing.T, stacks ...int64) *HandState {
	t.Helper()
	if len(stacks) == 0 {
		stacks = []int64{1000, 1000}
	}
	hole := [][]poker.Card{
		cards(t, "As Ah"),
		cards(t, "7c 2d"),
	}
	board := cards(t, "Kd 8s 4h Jc 9d")
	return NewHand(nil, testPlayers(stacks...), 0, 10, 20,
		WithID("testhand"), WithCards(hole, board))
}

func TestBlindsAndFirstToActHeadsUp(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t)

	dealer, sb, bb := h.Positions()
	if dealer != 0 || sb != 0 || bb != 1 {
		t.Errorf("Heads-up positions: dealer=%d sb=%d bb=%d, want 0/0/1", dealer, sb, bb)
	}
	if h.Players[0].Bet != 10 {
		t.Errorf("Dealer should post small blind 10, got %d", h.Players[0].Bet)
	}
	if h.Players[1].Bet != 20 {
		t.Errorf("Big blind should post 20, got %d", h.Players[1].Bet)
	}
	if h.Betting.CurrentBet != 20 {
		t.Errorf("Current bet should be 20, got %d", h.Betting.CurrentBet)
	}
	if h.Betting.MinRaise != 20 {
		t.Errorf("Min raise should equal big blind, got %d", h.Betting.MinRaise)
	}

	// Dealer acts first preflop in heads-up play.
	if h.ActivePlayer != 0 {
		t.Errorf("Dealer should act first preflop, got player %d", h.ActivePlayer)
	}
}

func TestFirstToActMultiway(t *testing.T) {
	t.Parallel()

	hole := [][]poker.Card{
		cards(t, "As Ah"),
		cards(t, "Ks Kh"),
		cards(t, "Qs Qh"),
		cards(t, "Js Jh"),
	}
	board := cards(t, "9d 8s 4h 2c 3d")
	h := NewHand(nil, testPlayers(1000, 1000, 1000, 1000), 0, 10, 20,
		WithCards(hole, board))

	dealer, sb, bb := h.Positions()
	if dealer != 0 || sb != 1 || bb != 2 {
		t.Errorf("Positions: dealer=%d sb=%d bb=%d, want 0/1/2", dealer, sb, bb)
	}
	// Under the gun is the seat after the big blind.
	if h.ActivePlayer != 3 {
		t.Errorf("First to act should be player index 3, got %d", h.ActivePlayer)
	}
}

func TestFoldToOne(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t)

	if err := h.ProcessAction(Fold, 0); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}
	if !h.IsComplete() {
		t.Fatal("Hand should be complete after fold to one")
	}

	res, err := h.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Pot != 30 {
		t.Errorf("Pot should be 30, got %d", res.Pot)
	}
	if res.Showdown {
		t.Error("Fold-to-one must not be a showdown")
	}
	if len(res.Winners) != 1 || res.Winners[0].Player.UserID != 2 {
		t.Fatalf("Player 2 should win, got %+v", res.Winners)
	}
	if res.Winners[0].Hand != nil {
		t.Error("No hand should be revealed on a fold")
	}
	if h.Players[0].Stack != 990 {
		t.Errorf("Folder's stack should be 990, got %d", h.Players[0].Stack)
	}
	if h.Players[1].Stack != 1010 {
		t.Errorf("Winner's stack should be 1010, got %d", h.Players[1].Stack)
	}
}

func TestBlindsOnlyCheckdown(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t)

	// Preflop: dealer calls, big blind checks.
	if err := h.ProcessAction(Call, 0); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if err := h.ProcessAction(Check, 0); err != nil {
		t.Fatalf("BB check failed: %v", err)
	}
	if h.Street != Flop {
		t.Fatalf("Should be on the flop, got %v", h.Street)
	}
	if len(h.Board) != 3 {
		t.Fatalf("Flop should have 3 cards, got %d", len(h.Board))
	}

	// Big blind acts first on every post-flop street.
	if h.ActivePlayer != 1 {
		t.Errorf("Big blind should act first post-flop, got player %d", h.ActivePlayer)
	}

	for _, street := range []Street{Turn, River, Showdown} {
		if err := h.ProcessAction(Check, 0); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if err := h.ProcessAction(Check, 0); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if h.Street != street {
			t.Fatalf("Expected street %v, got %v", street, h.Street)
		}
	}
	if len(h.Board) != 5 {
		t.Fatalf("Board should have 5 cards, got %d", len(h.Board))
	}

	res, err := h.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Pot != 40 {
		t.Errorf("Pot should be 40, got %d", res.Pot)
	}
	if !res.Showdown {
		t.Error("Checkdown should reach showdown")
	}
	// Aces hold up on this board.
	if len(res.Winners) != 1 || res.Winners[0].Player.UserID != 1 {
		t.Fatalf("Player 1 should win, got %+v", res.Winners)
	}
	if res.Winners[0].Amount != 40 {
		t.Errorf("Winner should collect 40, got %d", res.Winners[0].Amount)
	}
	if got := h.Players[0].Stack; got != 1020 {
		t.Errorf("Winner's stack should be 1020, got %d", got)
	}

	revealed := h.RevealedHands()
	if len(revealed) != 2 {
		t.Errorf("Both hands should be revealed at showdown, got %d", len(revealed))
	}
}

func TestRaiseAndCall(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t)

	// Dealer raises by 40 on top of the 20 to call: total bet 60.
	if err := h.ProcessAction(Raise, 40); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	if h.Betting.CurrentBet != 60 {
		t.Errorf("Table bet should be 60, got %d", h.Betting.CurrentBet)
	}
	if h.Betting.MinRaise != 40 {
		t.Errorf("Min raise should be 40, got %d", h.Betting.MinRaise)
	}
	if h.Betting.LastAggressor != 0 {
		t.Errorf("Last aggressor should be player 0, got %d", h.Betting.LastAggressor)
	}

	if err := h.ProcessAction(Call, 0); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if h.Street != Flop {
		t.Fatalf("Should be on the flop, got %v", h.Street)
	}
	if h.Pot() != 120 {
		t.Errorf("Pot should be 120 on the flop, got %d", h.Pot())
	}
	if h.Betting.CurrentBet != 0 {
		t.Errorf("Table bet should reset to 0, got %d", h.Betting.CurrentBet)
	}
	for _, p := range h.Players {
		if p.Bet != 0 {
			t.Errorf("Player %d bet should reset to 0, got %d", p.UserID, p.Bet)
		}
	}
}

func TestRaiseValidation(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t)

	// Below the minimum and not an all-in.
	if err := h.ProcessAction(Raise, 10); err == nil {
		t.Error("Raise below minimum should fail")
	}
	// More chips than the player holds.
	if err := h.ProcessAction(Raise, 10000); err == nil {
		t.Error("Raise beyond stack should fail")
	}
	// Zero or negative.
	if err := h.ProcessAction(Raise, 0); err == nil {
		t.Error("Raise of zero should fail")
	}
	// A failed raise must not advance the turn.
	if h.ActivePlayer != 0 {
		t.Errorf("Turn should not advance on invalid action, got %d", h.ActivePlayer)
	}

	// Checking while facing a bet is illegal.
	if err := h.ProcessAction(Check, 0); err == nil {
		t.Error("Check while facing a bet should fail")
	}
}

func TestAllInRunout(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t, 200, 200)

	// Dealer shoves, big blind calls; board runs out with no betting.
	if err := h.ProcessAction(AllIn, 0); err != nil {
		t.Fatalf("All-in failed: %v", err)
	}
	if h.Betting.CurrentBet != 200 {
		t.Errorf("Table bet should be 200, got %d", h.Betting.CurrentBet)
	}
	if err := h.ProcessAction(Call, 0); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if h.Street != Showdown {
		t.Fatalf("Board should run out to showdown, got %v", h.Street)
	}
	if len(h.Board) != 5 {
		t.Fatalf("Board should have 5 cards, got %d", len(h.Board))
	}

	res, err := h.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Pot != 400 {
		t.Errorf("Pot should be 400, got %d", res.Pot)
	}
	if h.Players[0].Stack != 400 {
		t.Errorf("Winner's stack should be 400, got %d", h.Players[0].Stack)
	}
	if h.Players[1].Stack != 0 {
		t.Errorf("Loser's stack should be 0, got %d", h.Players[1].Stack)
	}
}

func TestShortAllInDoesNotLowerMinRaise(t *testing.T) {
	t.Parallel()

	hole := [][]poker.Card{
		cards(t, "As Ah"),
		cards(t, "Ks Kh"),
		cards(t, "Qs Qh"),
	}
	board := cards(t, "9d 8s 4h 2c 3d")
	// Player 3 is short-stacked.
	h := NewHand(nil, testPlayers(1000, 1000, 70), 0, 10, 20,
		WithCards(hole, board))

	// Player 3 is under the gun preflop (after the big blind).
	if h.ActivePlayer != 0 {
		t.Fatalf("UTG should be player index 0, got %d", h.ActivePlayer)
	}

	// P1 raises by 40 (to 60), P2 calls.
	if err := h.ProcessAction(Raise, 40); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	if err := h.ProcessAction(Call, 0); err != nil {
		t.Fatalf("SB call failed: %v", err)
	}

	// P3 (big blind, 70 total) goes all-in: a raise of 10, below the
	// min raise of 40.
	if err := h.ProcessAction(AllIn, 0); err != nil {
		t.Fatalf("All-in failed: %v", err)
	}
	if h.Betting.CurrentBet != 70 {
		t.Errorf("Table bet should be 70, got %d", h.Betting.CurrentBet)
	}
	if h.Betting.MinRaise != 40 {
		t.Errorf("Short all-in must not lower the min raise: got %d, want 40", h.Betting.MinRaise)
	}

	// P1 may call the extra 10, but raising still requires 40 on top.
	if err := h.ProcessAction(Raise, 20); err == nil {
		t.Error("Raise below the preserved minimum should fail")
	}
	if err := h.ProcessAction(Call, 0); err != nil {
		t.Fatalf("Call of the short all-in failed: %v", err)
	}
	if err := h.ProcessAction(Call, 0); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if h.Street != Flop {
		t.Fatalf("Should be on the flop, got %v", h.Street)
	}
	if h.Pot() != 210 {
		t.Errorf("Pot should be 210, got %d", h.Pot())
	}
}

func TestShortRaiseAsAllInIsLegal(t *testing.T) {
	t.Parallel()

	hole := [][]poker.Card{
		cards(t, "As Ah"),
		cards(t, "Ks Kh"),
	}
	board := cards(t, "9d 8s 4h 2c 3d")
	h := NewHand(nil, testPlayers(35, 1000), 0, 10, 20,
		WithCards(hole, board))

	// Dealer has 25 behind after the small blind and 10 to call. A raise
	// of 15 is below the minimum of 20 but puts them exactly all-in, so
	// it must be accepted.
	if err := h.ProcessAction(Raise, 15); err != nil {
		t.Fatalf("Short all-in raise should be legal: %v", err)
	}
	if h.Players[0].Status != StatusAllIn {
		t.Errorf("Player should be all-in, got %v", h.Players[0].Status)
	}
	if h.Betting.CurrentBet != 35 {
		t.Errorf("Table bet should be 35, got %d", h.Betting.CurrentBet)
	}
	if h.Betting.MinRaise != 20 {
		t.Errorf("Min raise should stay 20, got %d", h.Betting.MinRaise)
	}
}

func TestBigBlindOption(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t)

	// Dealer limps; the big blind must still get an option.
	if err := h.ProcessAction(Call, 0); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if h.Street != Preflop {
		t.Fatalf("Street advanced before the big blind's option, now %v", h.Street)
	}
	if h.ActivePlayer != 1 {
		t.Fatalf("Big blind should have the option, active=%d", h.ActivePlayer)
	}

	// The option includes raising.
	if err := h.ProcessAction(Raise, 20); err != nil {
		t.Fatalf("BB raise failed: %v", err)
	}
	if h.Street != Preflop {
		t.Fatalf("Raise should keep the street open, now %v", h.Street)
	}
	if h.ActivePlayer != 0 {
		t.Errorf("Action should return to the dealer, got %d", h.ActivePlayer)
	}
}

func TestShortBlindPostsAllIn(t *testing.T) {
	t.Parallel()

	hole := [][]poker.Card{
		cards(t, "As Ah"),
		cards(t, "Ks Kh"),
	}
	board := cards(t, "9d 8s 4h 2c 3d")
	h := NewHand(nil, testPlayers(1000, 12), 0, 10, 20,
		WithCards(hole, board))

	bb := h.Players[1]
	if bb.Bet != 12 {
		t.Errorf("Short big blind should post their stack, got %d", bb.Bet)
	}
	if bb.Status != StatusAllIn {
		t.Errorf("Short big blind should be all-in, got %v", bb.Status)
	}
	// The dealer can still act; table bet stays at the larger posted
	// blind so chips are never owed backwards.
	if h.ActivePlayer != 0 {
		t.Errorf("Dealer should be first to act, got %d", h.ActivePlayer)
	}
}

func TestForceFoldActorAwardsPot(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t)

	// The dealer is the actor; removing them folds the hand to the BB.
	h.ForceFold(0)
	if !h.IsComplete() {
		t.Fatal("Hand should complete when the actor is force-folded")
	}
	res, err := h.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.Winners) != 1 || res.Winners[0].Player.UserID != 2 {
		t.Fatalf("Player 2 should win, got %+v", res.Winners)
	}
	if res.Pot != 30 {
		t.Errorf("Pot should be 30, got %d", res.Pot)
	}
}

func TestForceFoldNonActorClosesRound(t *testing.T) {
	t.Parallel()

	hole := [][]poker.Card{
		cards(t, "As Ah"),
		cards(t, "Ks Kh"),
		cards(t, "Qs Qh"),
	}
	board := cards(t, "9d 8s 4h 2c 3d")
	h := NewHand(nil, testPlayers(1000, 1000, 1000), 0, 10, 20,
		WithCards(hole, board))

	// UTG (index 0) calls, SB (index 1) calls; BB (index 2) is due to
	// act but is removed out of turn.
	if err := h.ProcessAction(Call, 0); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if err := h.ProcessAction(Call, 0); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	h.ForceFold(2)

	if h.Street != Flop {
		t.Fatalf("Round should close when the last pending player folds, street=%v", h.Street)
	}
	if h.Players[2].Status != StatusFolded {
		t.Errorf("Player 3 should be folded, got %v", h.Players[2].Status)
	}
	// The blind stays in the pot.
	if h.Pot() != 60 {
		t.Errorf("Pot should be 60, got %d", h.Pot())
	}
}

func TestChipConservation(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t)
	total := func() int64 {
		sum := h.Pot()
		for _, p := range h.Players {
			sum += p.Stack
		}
		return sum
	}

	want := total()
	actions := []struct {
		action Action
		amount int64
	}{
		{Raise, 40}, {Call, 0}, // preflop
		{Check, 0}, {Raise, 60}, {Call, 0}, // flop
		{Check, 0}, {Check, 0}, // turn
		{Check, 0}, {Check, 0}, // river
	}
	for i, a := range actions {
		if err := h.ProcessAction(a.action, a.amount); err != nil {
			t.Fatalf("Action %d (%v) failed: %v", i, a.action, err)
		}
		if got := total(); got != want {
			t.Fatalf("Chips not conserved after action %d: got %d, want %d", i, got, want)
		}
	}

	if _, err := h.Resolve(); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := total(); got != want {
		t.Errorf("Chips not conserved after resolve: got %d, want %d", got, want)
	}
}

func TestSplitPotDiscardRemainder(t *testing.T) {
	t.Parallel()

	// Players 1 and 3 both play the board, a guaranteed split. The small
	// blind folds with 5 committed, leaving an odd pot of 45.
	hole := [][]poker.Card{
		cards(t, "2c 3c"),
		cards(t, "8d 9d"),
		cards(t, "2h 3h"),
	}
	board := cards(t, "As Ks Qs Js Ts")
	h := NewHand(nil, testPlayers(1000, 1000, 1000), 0, 5, 10,
		WithCards(hole, board))

	// UTG raises to 20, SB folds, BB calls.
	if err := h.ProcessAction(Raise, 10); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	if err := h.ProcessAction(Fold, 0); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}
	if err := h.ProcessAction(Call, 0); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := h.ProcessAction(Check, 0); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}

	res, err := h.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Pot != 45 {
		t.Errorf("Pot should be 45, got %d", res.Pot)
	}
	if len(res.Winners) != 2 {
		t.Fatalf("Both survivors should split, got %d winners", len(res.Winners))
	}
	for _, w := range res.Winners {
		if w.Amount != 22 {
			t.Errorf("Each winner should take 22, got %d", w.Amount)
		}
	}
	// The odd chip is discarded, not awarded.
	if h.Players[0].Stack != 1002 {
		t.Errorf("Player 1 stack should be 1002, got %d", h.Players[0].Stack)
	}
	if h.Players[1].Stack != 995 {
		t.Errorf("Player 2 stack should be 995, got %d", h.Players[1].Stack)
	}
	if h.Players[2].Stack != 1002 {
		t.Errorf("Player 3 stack should be 1002, got %d", h.Players[2].Stack)
	}
}

func TestResolveGuards(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t)
	if _, err := h.Resolve(); err == nil {
		t.Error("Resolve before completion should fail")
	}

	if err := h.ProcessAction(Fold, 0); err != nil {
		t.Fatalf("Fold failed: %v", err)
	}
	if _, err := h.Resolve(); err != nil {
		t.Fatalf("First resolve failed: %v", err)
	}
	if _, err := h.Resolve(); err == nil {
		t.Error("Second resolve should fail")
	}
	if err := h.ProcessAction(Check, 0); err == nil {
		t.Error("Actions after completion should fail")
	}
}

func TestNoDuplicateCards(t *testing.T) {
	t.Parallel()

	h := NewHand(poker.NewShuffleSource(), testPlayers(1000, 1000, 1000, 1000), 0, 10, 20)

	// Check all the way to the river.
	for h.Street != Showdown {
		if err := h.ProcessAction(Check, 0); err != nil {
			// Preflop needs calls, not checks.
			if err := h.ProcessAction(Call, 0); err != nil {
				t.Fatalf("Neither check nor call accepted: %v", err)
			}
		}
	}

	seen := make(map[poker.Card]bool)
	record := func(c poker.Card) {
		if seen[c] {
			t.Errorf("Card %v appears twice in the hand", c)
		}
		seen[c] = true
	}
	for _, p := range h.Players {
		for _, c := range p.HoleCards {
			record(c)
		}
	}
	for _, c := range h.Board {
		record(c)
	}
	if len(seen) != 13 {
		t.Errorf("Expected 13 distinct cards (8 hole + 5 board), got %d", len(seen))
	}
}

func TestValidActionsFacingBet(t *testing.T) {
	t.Parallel()

	h := headsUpHand(t)
	actions := h.Betting.ValidActions(h.Players[0])
	want := []Action{Fold, Call, Raise, AllIn}
	if len(actions) != len(want) {
		t.Fatalf("ValidActions = %v, want %v", actions, want)
	}
	for i, a := range want {
		if actions[i] != a {
			t.Errorf("ValidActions[%d] = %v, want %v", i, actions[i], a)
		}
	}

	if got := h.Betting.ValidActions(&Player{Status: StatusFolded}); got != nil {
		t.Errorf("Folded player should have no actions, got %v", got)
	}
}
