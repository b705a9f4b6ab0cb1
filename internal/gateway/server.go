// Package gateway runs the MCBE-facing WebSocket server: it accepts
// game connections, routes chat commands, and pumps agent responses
// back into the game.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nevindra/mcbridge/internal/auth"
	"github.com/nevindra/mcbridge/internal/broker"
	"github.com/nevindra/mcbridge/internal/config"
	"github.com/nevindra/mcbridge/internal/conversation"
	"github.com/nevindra/mcbridge/internal/prompt"
	"github.com/nevindra/mcbridge/internal/protocol"
)

// Server accepts MCBE WebSocket sessions and owns one connection
// handler per session.
type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	broker   *broker.Broker
	auth     *auth.Handler
	prompts  *prompt.Manager
	sessions *conversation.Manager
	commands *protocol.CommandRegistry
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*connection

	httpServer *http.Server
}

func NewServer(
	cfg config.Config,
	b *broker.Broker,
	authHandler *auth.Handler,
	prompts *prompt.Manager,
	sessions *conversation.Manager,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		broker:   b,
		auth:     authHandler,
		prompts:  prompts,
		sessions: sessions,
		commands: protocol.NewCommandRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				// MCBE clients send no Origin header worth checking.
				return true
			},
		},
		conns: make(map[string]*connection),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := newConnection(s, ws)
	s.register(conn)
	conn.run()
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("websocket server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops senders, resolves outstanding command futures, and
// closes every socket before tearing down the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) register(c *connection) {
	s.broker.Register(c.id)
	s.mu.Lock()
	s.conns[c.id] = c
	count := len(s.conns)
	s.mu.Unlock()
	s.logger.Info("connection registered", "connection_id", c.id, "active", count)
}

func (s *Server) unregister(c *connection) {
	s.mu.Lock()
	delete(s.conns, c.id)
	count := len(s.conns)
	s.mu.Unlock()
	s.logger.Info("connection unregistered", "connection_id", c.id, "active", count)
}

// ConnectionCount reports active sessions.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
