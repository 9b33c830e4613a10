package game

import (
	"encoding/json"
	"fmt"

	"github.com/lox/holdem/poker"
)

// HandRecord captures everything needed to replay a finished hand:
// the table configuration, every player's starting stack and hole
// cards, and the action sequence. Replaying it against the same
// betting rules reproduces the winners and final stacks.
type HandRecord struct {
	HandID     string         `json:"handId"`
	SmallBlind int64          `json:"smallBlind"`
	BigBlind   int64          `json:"bigBlind"`
	Button     int            `json:"dealerIndex"`
	Players    []SeatRecord   `json:"players"`
	Actions    []ActionRecord `json:"actions"`
	Board      []poker.Card   `json:"communityCards"`
	Pot        int64          `json:"pot"`
	Winners    []WinnerRecord `json:"winners"`
}

// SeatRecord is a player's state at the start of the hand.
type SeatRecord struct {
	UserID    int64        `json:"userId"`
	Username  string       `json:"username"`
	Seat      int          `json:"seatNumber"`
	Stack     int64        `json:"startingStack"`
	HoleCards []poker.Card `json:"holeCards"`
}

// ActionRecord is a single action in sequence. Forced marks folds the
// engine applied itself (timeout, disconnect, leave).
type ActionRecord struct {
	UserID int64  `json:"userId"`
	Action string `json:"action"`
	Amount int64  `json:"amount,omitempty"`
	Forced bool   `json:"forced,omitempty"`
}

// WinnerRecord is one pot recipient.
type WinnerRecord struct {
	UserID int64 `json:"userId"`
	Amount int64 `json:"amount"`
}

func (h *HandState) startRecord() {
	rec := &HandRecord{
		HandID:     h.ID,
		SmallBlind: h.SmallBlind,
		BigBlind:   h.BigBlind,
		Button:     h.Button,
	}
	for _, p := range h.Players {
		rec.Players = append(rec.Players, SeatRecord{
			UserID:    p.UserID,
			Username:  p.Username,
			Seat:      p.Seat,
			Stack:     p.Stack + p.TotalBet, // stack before blinds
			HoleCards: p.HoleCards,
		})
	}
	h.record = rec
}

func (h *HandState) recordAction(userID int64, action Action, amount int64, forced bool) {
	if h.record == nil {
		return
	}
	rec := ActionRecord{UserID: userID, Action: action.String(), Forced: forced}
	if action == Raise {
		rec.Amount = amount
	}
	h.record.Actions = append(h.record.Actions, rec)
}

func (h *HandState) finishRecord(res *Result) {
	if h.record == nil {
		return
	}
	h.record.Board = h.Board
	h.record.Pot = res.Pot
	for _, w := range res.Winners {
		h.record.Winners = append(h.record.Winners, WinnerRecord{
			UserID: w.Player.UserID,
			Amount: w.Amount,
		})
	}
}

// Record returns the hand's replayable record. The winners and pot are
// only populated once the hand has been resolved.
func (h *HandState) Record() *HandRecord {
	return h.record
}

// EncodeRecord serializes a record for the game history store.
func EncodeRecord(rec *HandRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeRecord parses a stored hand record.
func DecodeRecord(data []byte) (*HandRecord, error) {
	var rec HandRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding hand record: %w", err)
	}
	return &rec, nil
}

// Replay reconstructs a hand from its record and plays it back,
// returning the replayed state and outcome. The result must match the
// recorded winners if the record is intact.
func Replay(rec *HandRecord) (*HandState, *Result, error) {
	if len(rec.Players) < 2 {
		return nil, nil, fmt.Errorf("record has %d players, need at least 2", len(rec.Players))
	}

	players := make([]*Player, len(rec.Players))
	hole := make([][]poker.Card, len(rec.Players))
	for i, sr := range rec.Players {
		players[i] = &Player{
			UserID:   sr.UserID,
			Username: sr.Username,
			Seat:     sr.Seat,
			Stack:    sr.Stack,
		}
		hole[i] = sr.HoleCards
	}

	h := NewHand(nil, players, rec.Button, rec.SmallBlind, rec.BigBlind,
		WithID(rec.HandID),
		WithCards(hole, rec.Board),
	)

	for i, ar := range rec.Actions {
		idx := h.PlayerIndex(ar.UserID)
		if idx == -1 {
			return nil, nil, fmt.Errorf("action %d: unknown player %d", i, ar.UserID)
		}
		if ar.Forced {
			h.ForceFold(idx)
			continue
		}
		action, err := ParseAction(ar.Action)
		if err != nil {
			return nil, nil, fmt.Errorf("action %d: %w", i, err)
		}
		if h.ActivePlayer != idx {
			return nil, nil, fmt.Errorf("action %d: player %d acted out of turn", i, ar.UserID)
		}
		if err := h.ProcessAction(action, ar.Amount); err != nil {
			return nil, nil, fmt.Errorf("action %d: %w", i, err)
		}
	}

	if !h.IsComplete() {
		return nil, nil, fmt.Errorf("replayed hand did not complete")
	}
	res, err := h.Resolve()
	if err != nil {
		return nil, nil, err
	}
	return h, res, nil
}
