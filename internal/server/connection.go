package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/holdem/internal/auth"
	"github.com/lox/holdem/internal/game"
	"github.com/lox/holdem/internal/protocol"
	"github.com/lox/holdem/internal/room"
	"github.com/lox/holdem/internal/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

// Connection is one client session. It carries the mutable context
// the protocol needs: an identity once authenticated and a room once
// joined or spectated. Writes are serialized through the send channel
// so frames are never interleaved.
type Connection struct {
	ws     *websocket.Conn
	server *Server
	logger *log.Logger
	send   chan *protocol.Message

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu        sync.RWMutex
	identity  *auth.Identity
	room      *room.Room // seated room
	spectRoom *room.Room // spectated room
}

func newConnection(ws *websocket.Conn, server *Server, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ws:     ws,
		server: server,
		logger: logger.WithPrefix("conn"),
		send:   make(chan *protocol.Message, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Connection) start() {
	go c.writePump()
	go c.readPump()
}

// Close shuts the connection down once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.ws.Close()
	})
	return err
}

// Send queues a frame for the client. It never blocks: a client that
// stops draining its buffer is dropped so one slow socket cannot stall
// a room broadcast.
func (c *Connection) Send(msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			// Closed during shutdown; nothing to deliver.
			c.logger.Debug("send on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("send buffer full, dropping connection")
		_ = c.Close()
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.detach()
		_ = c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.sendError("Invalid message format")
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Debug("writing frame", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// detach tells any bound room that this session is gone. The seat
// stays; the room's timers decide what happens next.
func (c *Connection) detach() {
	c.mu.Lock()
	seated, spectated := c.room, c.spectRoom
	c.room, c.spectRoom = nil, nil
	c.mu.Unlock()

	if seated != nil {
		seated.Detach(c)
	}
	if spectated != nil && spectated != seated {
		spectated.Detach(c)
	}
}

// handleMessage dispatches one inbound frame. Protocol errors produce
// a unicast error frame and never close the connection.
func (c *Connection) handleMessage(msg *protocol.Message) {
	c.logger.Debug("received frame", "type", msg.Type)

	switch msg.Type {
	case protocol.TypeAuth:
		var payload protocol.Auth
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("Invalid message format")
			return
		}
		c.handleAuth(payload)

	case protocol.TypeJoinRoom:
		var payload protocol.JoinRoom
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("Invalid message format")
			return
		}
		c.handleJoinRoom(payload)

	case protocol.TypeLeaveRoom:
		c.handleLeaveRoom()

	case protocol.TypePlayerAction:
		var payload protocol.PlayerAction
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("Invalid message format")
			return
		}
		c.handlePlayerAction(payload)

	case protocol.TypeSpectate:
		var payload protocol.Spectate
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("Invalid message format")
			return
		}
		c.handleSpectate(payload)

	case protocol.TypeChatMessage:
		var payload protocol.Chat
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("Invalid message format")
			return
		}
		c.handleChat(payload)

	default:
		c.sendError("Unknown message type: " + string(msg.Type))
	}
}

func (c *Connection) handleAuth(payload protocol.Auth) {
	identity, err := c.server.auth.Verify(c.ctx, payload.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			c.sendError("Invalid token")
		} else {
			c.logger.Error("verifying token", "error", err)
			c.sendError("Internal error")
		}
		return
	}

	c.mu.Lock()
	c.identity = &identity
	c.mu.Unlock()
	c.logger.Info("authenticated", "user", identity.UserID, "username", identity.Username)

	c.Send(protocol.MustMessage(protocol.TypeAuthSuccess, protocol.AuthSuccess{
		UserID:   identity.UserID,
		Username: identity.Username,
	}))
}

func (c *Connection) handleJoinRoom(payload protocol.JoinRoom) {
	identity := c.Identity()
	if identity == nil {
		c.sendError("Not authenticated")
		return
	}

	rm, err := c.server.registry.GetOrCreate(c.ctx, payload.RoomID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.sendError("Room not found")
		case errors.Is(err, room.ErrRoomClosed):
			c.sendError("Room is closed")
		default:
			c.logger.Error("loading room", "room", payload.RoomID, "error", err)
			c.sendError("Internal error")
		}
		return
	}

	joined, err := rm.Join(c.ctx, c, identity.UserID, identity.Username)
	if err != nil {
		if errors.Is(err, room.ErrNotSeated) {
			c.sendError("must join via Lobby first")
		} else {
			c.logger.Error("joining room", "room", payload.RoomID, "error", err)
			c.sendError("Internal error")
		}
		return
	}
	c.server.registry.CancelReclaim(payload.RoomID, identity.UserID)

	c.mu.Lock()
	c.room = rm
	c.mu.Unlock()

	c.Send(protocol.MustMessage(protocol.TypeJoinedRoom, *joined))
}

func (c *Connection) handleLeaveRoom() {
	identity := c.Identity()
	if identity == nil {
		c.sendError("Not authenticated")
		return
	}
	rm := c.seatedRoom()
	if rm == nil {
		c.sendError("Not in a room")
		return
	}

	if _, err := rm.Leave(c.ctx, identity.UserID); err != nil {
		c.logger.Error("leaving room", "error", err)
		c.sendError("Internal error")
		return
	}

	c.mu.Lock()
	c.room = nil
	c.mu.Unlock()

	c.Send(protocol.MustMessage(protocol.TypeLeftRoom, nil))
}

func (c *Connection) handlePlayerAction(payload protocol.PlayerAction) {
	identity := c.Identity()
	if identity == nil {
		c.sendError("Not authenticated")
		return
	}
	rm := c.seatedRoom()
	if rm == nil {
		c.sendError("Not in a room")
		return
	}

	action, err := game.ParseAction(payload.Action)
	if err != nil {
		c.sendError("Invalid action")
		return
	}
	if err := rm.Act(identity.UserID, action, payload.Amount); err != nil {
		if errors.Is(err, room.ErrInvalidAction) {
			c.sendError("Invalid action")
		} else {
			c.logger.Error("processing action", "error", err)
			c.sendError("Internal error")
		}
	}
}

func (c *Connection) handleSpectate(payload protocol.Spectate) {
	rm, err := c.server.registry.GetOrCreate(c.ctx, payload.RoomID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.sendError("Room not found")
		case errors.Is(err, room.ErrRoomClosed):
			c.sendError("Room is closed")
		default:
			c.logger.Error("loading room", "room", payload.RoomID, "error", err)
			c.sendError("Internal error")
		}
		return
	}

	if err := rm.Spectate(c); err != nil {
		c.logger.Error("spectating room", "error", err)
		c.sendError("Internal error")
		return
	}

	c.mu.Lock()
	c.spectRoom = rm
	c.mu.Unlock()
}

func (c *Connection) handleChat(payload protocol.Chat) {
	identity := c.Identity()
	if identity == nil {
		c.sendError("Not authenticated")
		return
	}
	rm := c.seatedRoom()
	if rm == nil {
		c.sendError("Not in a room")
		return
	}
	if err := rm.Chat(identity.UserID, identity.Username, payload.Message); err != nil {
		c.logger.Error("sending chat", "error", err)
	}
}

// Identity returns the authenticated identity, or nil.
func (c *Connection) Identity() *auth.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Connection) seatedRoom() *room.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Connection) sendError(message string) {
	c.Send(protocol.MustMessage(protocol.TypeError, protocol.Error{Message: message}))
}
