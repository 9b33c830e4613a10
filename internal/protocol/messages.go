// Package protocol defines the JSON frames exchanged over the
// real-time connection. Every frame is {"type": ..., "payload": ...};
// payloads are typed per message so the gateway and clients never pass
// untyped maps around.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/lox/holdem/poker"
)

// Type identifies a frame.
type Type string

const (
	// Client -> Server
	TypeAuth         Type = "auth"
	TypeJoinRoom     Type = "join_room"
	TypeLeaveRoom    Type = "leave_room"
	TypePlayerAction Type = "player_action"
	TypeSpectate     Type = "spectate"
	TypeChatMessage  Type = "chat_message"

	// Server -> Client
	TypeAuthSuccess  Type = "auth_success"
	TypeJoinedRoom   Type = "joined_room"
	TypeLeftRoom     Type = "left_room"
	TypeSpectating   Type = "spectating"
	TypeNewRound     Type = "new_round"
	TypeGameState    Type = "game_state"
	TypePlayerJoined Type = "player_joined"
	TypePlayerLeft   Type = "player_left"
	TypePlayerSatOut Type = "player_sat_out"
	TypeActionResult Type = "action_result"
	TypeTimerUpdate  Type = "timer_update"
	TypeHandResult   Type = "hand_result"
	TypeError        Type = "error"
)

// Message is the frame envelope.
type Message struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a frame from a typed payload.
func NewMessage(t Type, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: t, Payload: data}, nil
}

// MustMessage builds a frame and panics on marshal failure. Payload
// types in this package cannot fail to marshal, so this is safe for
// server-constructed frames.
func MustMessage(t Type, payload any) *Message {
	msg, err := NewMessage(t, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Client -> Server payloads

type Auth struct {
	Token string `json:"token"`
}

type JoinRoom struct {
	RoomID int64 `json:"roomId"`
}

type PlayerAction struct {
	Action string `json:"action"`           // fold, check, call, raise, all-in
	Amount int64  `json:"amount,omitempty"` // raise increment above the table bet
}

type Spectate struct {
	RoomID int64 `json:"roomId"`
}

type Chat struct {
	Message string `json:"message"`
}

// Server -> Client payloads

type AuthSuccess struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

type JoinedRoom struct {
	RoomID     int64 `json:"roomId"`
	SeatNumber int   `json:"seatNumber"`
	Stack      int64 `json:"stack"`
}

type Spectating struct {
	RoomID int64 `json:"roomId"`
}

type PlayerJoined struct {
	UserID     int64  `json:"userId"`
	Username   string `json:"username"`
	SeatNumber int    `json:"seatNumber"`
	Stack      int64  `json:"stack"`
}

type PlayerLeft struct {
	UserID int64  `json:"userId"`
	Reason string `json:"reason,omitempty"` // "busted" when the stack hit zero
}

type PlayerSatOut struct {
	UserID        int64  `json:"userId"`
	Username      string `json:"username"`
	Reason        string `json:"reason"` // timeout or disconnect
	ChipsReturned int64  `json:"chipsReturned"`
}

type ActionResult struct {
	UserID int64  `json:"userId"`
	Action string `json:"action"`
	Amount int64  `json:"amount"`
	Stack  int64  `json:"stack"`
}

type TimerUpdate struct {
	UserID      int64 `json:"userId"`
	RemainingMS int64 `json:"remaining_ms"`
	TimedOut    bool  `json:"timedOut,omitempty"`
}

// PlayerState is one seat in the public game state. Hole cards are
// never part of it; a player's own cards travel in GameState.YourCards
// on their private copy only.
type PlayerState struct {
	UserID       int64  `json:"userId"`
	Username     string `json:"username"`
	SeatNumber   int    `json:"seatNumber"`
	Stack        int64  `json:"stack"`
	CurrentBet   int64  `json:"currentBet"`
	Status       string `json:"status"`
	IsDealer     bool   `json:"isDealer"`
	IsSmallBlind bool   `json:"isSmallBlind"`
	IsBigBlind   bool   `json:"isBigBlind"`
}

// GameState is the hand state as everyone may see it. The same shape
// is used for new_round and game_state frames.
type GameState struct {
	RoomID         int64         `json:"roomId"`
	HandID         string        `json:"handId,omitempty"`
	Phase          string        `json:"phase"`
	Pot            int64         `json:"pot"`
	CurrentBet     int64         `json:"currentBet"`
	MinRaise       int64         `json:"minRaise"`
	CommunityCards []poker.Card  `json:"communityCards"`
	CurrentActorID int64         `json:"currentActorId,omitempty"`
	Players        []PlayerState `json:"players"`

	// YourCards is set only on the unicast copy sent to each seated
	// player. Broadcast and spectator copies never carry it.
	YourCards []poker.Card `json:"yourCards,omitempty"`
}

// HandInfo describes a showdown hand.
type HandInfo struct {
	Rank        string       `json:"rank"`
	Description string       `json:"description"`
	Cards       []poker.Card `json:"cards"`
}

type HandWinner struct {
	UserID   int64     `json:"userId"`
	Username string    `json:"username"`
	Amount   int64     `json:"amount"`
	Hand     *HandInfo `json:"hand,omitempty"` // absent on fold wins
}

type HandResult struct {
	Winners []HandWinner `json:"winners"`
	Pot     int64        `json:"pot"`
	// RevealedHands holds the non-folded players' hole cards, keyed by
	// user id. Only present at showdown.
	RevealedHands  map[int64][]poker.Card `json:"revealedHands,omitempty"`
	CommunityCards []poker.Card           `json:"communityCards,omitempty"`
}

type ChatBroadcast struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
