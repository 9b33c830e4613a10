// Package server is the session gateway: it accepts WebSocket
// connections, authenticates them, and routes frames between clients
// and room actors.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/holdem/internal/auth"
	"github.com/lox/holdem/internal/room"
)

// Server terminates the real-time side of the system.
type Server struct {
	addr     string
	upgrader websocket.Upgrader
	auth     *auth.Service
	registry *room.Registry
	logger   *log.Logger

	mu          sync.RWMutex
	connections map[*Connection]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	http   *http.Server
}

// New creates a gateway bound to addr.
func New(addr string, authService *auth.Service, registry *room.Registry, logger *log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers connect from the lobby UI's origin; access
			// control happens at the auth frame, not the handshake.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		auth:        authService,
		registry:    registry,
		logger:      logger.WithPrefix("gateway"),
		connections: make(map[*Connection]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ListenAndServe runs the gateway until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.http = &http.Server{Addr: s.addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("realtime server listening", "addr", s.addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("realtime server: %w", err)
		}
		return nil
	}
}

// Handler returns the gateway's HTTP handler, for tests that mount it
// on an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Stop closes every connection and the listener.
func (s *Server) Stop() {
	s.cancel()
	s.mu.Lock()
	for conn := range s.connections {
		_ = conn.Close()
	}
	s.mu.Unlock()
	if s.http != nil {
		_ = s.http.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrading connection", "error", err)
		return
	}

	conn := newConnection(ws, s, s.logger)
	s.mu.Lock()
	s.connections[conn] = struct{}{}
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info("client connected", "total", total)

	conn.start()
	go func() {
		<-conn.ctx.Done()
		s.mu.Lock()
		delete(s.connections, conn)
		total := len(s.connections)
		s.mu.Unlock()
		s.logger.Info("client disconnected", "total", total)
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}
