// Package client is a WebSocket client for the real-time protocol,
// used by the terminal client and integration tests.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/holdem/internal/protocol"
)

// Client maintains one connection to the gateway. Inbound frames are
// delivered on Messages in arrival order.
type Client struct {
	conn   *websocket.Conn
	logger *log.Logger

	messages chan *protocol.Message
	writeMu  sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the gateway's /ws endpoint. serverURL accepts
// ws://host:port, http://host:port, or a bare host:port.
func Dial(ctx context.Context, serverURL string, logger *log.Logger) (*Client, error) {
	wsURL, err := websocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	c := &Client{
		conn:     conn,
		logger:   logger.WithPrefix("client"),
		messages: make(chan *protocol.Message, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		u, err = url.Parse("ws://" + serverURL)
		if err != nil {
			return "", fmt.Errorf("parsing server URL: %w", err)
		}
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Messages returns the inbound frame stream. The channel closes when
// the connection drops.
func (c *Client) Messages() <-chan *protocol.Message {
	return c.messages
}

// Close tears the connection down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.messages)
	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("connection closed", "error", err)
			}
			return
		}
		select {
		case c.messages <- &msg:
		case <-c.done:
			return
		}
	}
}

// Send writes a raw frame. Most callers use the typed helpers below.
func (c *Client) Send(msg *protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *Client) send(t protocol.Type, payload any) error {
	msg, err := protocol.NewMessage(t, payload)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Authenticate presents a bearer token.
func (c *Client) Authenticate(token string) error {
	return c.send(protocol.TypeAuth, protocol.Auth{Token: token})
}

// JoinRoom binds the session to the user's reserved seat.
func (c *Client) JoinRoom(roomID int64) error {
	return c.send(protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: roomID})
}

// LeaveRoom gives the seat up and cashes out.
func (c *Client) LeaveRoom() error {
	return c.send(protocol.TypeLeaveRoom, nil)
}

// Spectate attaches as a read-only observer.
func (c *Client) Spectate(roomID int64) error {
	return c.send(protocol.TypeSpectate, protocol.Spectate{RoomID: roomID})
}

// Act submits a player action. Amount is the raise increment and is
// ignored for other actions.
func (c *Client) Act(action string, amount int64) error {
	return c.send(protocol.TypePlayerAction, protocol.PlayerAction{Action: action, Amount: amount})
}

// Chat sends a table chat line.
func (c *Client) Chat(message string) error {
	return c.send(protocol.TypeChatMessage, protocol.Chat{Message: message})
}
