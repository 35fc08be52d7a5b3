// Package ws is the realtime gateway: it upgrades HTTP requests to WebSocket
// connections, lets clients subscribe to channel groups and pushes moderated
// messages to the sender and to subscribers.
package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/protocol"
)

// UserHeader carries the connecting user's id. Browsers cannot set headers
// on a WebSocket handshake, so the user_id query parameter is accepted too.
const UserHeader = "X-User-ID"

// ServerConfig holds tunable parameters for the gateway.
type ServerConfig struct {
	MaxConnections int
	MaxFrameBytes  int64
	WriteTimeout   time.Duration
	Heartbeat      HeartbeatConfig
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections: 10000,
		MaxFrameBytes:  4096,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server runs one read goroutine per connection on top of gobwas/ws.
type Server struct {
	cfg        ServerConfig
	hub        *Hub
	dispatcher *Dispatcher
	log        zerolog.Logger

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewServer starts the heartbeat and returns a gateway serving hub.
func NewServer(cfg ServerConfig, hub *Hub, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		hub:        hub,
		dispatcher: NewDispatcher(hub, logger),
		log:        logger.With().Str("component", "ws").Logger(),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runHeartbeat(cfg.Heartbeat)
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if !chat.ValidUserID(userID) {
		http.Error(w, "missing or invalid user id", http.StatusBadRequest)
		return
	}
	if s.hub.Count() >= s.cfg.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if !s.enter() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	// Deadlines set by http.Server survive the hijack.
	_ = conn.SetDeadline(time.Time{})

	c := newConnection(uuid.New().String(), userID, conn, s.cfg.WriteTimeout)
	s.hub.Add(c)
	s.log.Info().Str("conn_id", c.ID).Str("user_id", userID).Int("total", s.hub.Count()).Msg("connection opened")

	s.readLoop(c)
}

// enter registers a connection goroutine unless shutdown has begun.
func (s *Server) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) readLoop(c *Connection) {
	defer func() {
		if s.hub.Remove(c) {
			s.log.Info().Str("conn_id", c.ID).Int("total", s.hub.Count()).Msg("connection closed")
		}
	}()

	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}
		c.touch(time.Now())

		if header.OpCode.IsControl() {
			payload, err := io.ReadAll(reader)
			if err != nil {
				return
			}
			switch header.OpCode {
			case ws.OpClose:
				_ = c.writeControl(ws.OpClose, nil)
				return
			case ws.OpPing:
				_ = c.writeControl(ws.OpPong, payload)
			}
			continue
		}

		if header.Length > s.cfg.MaxFrameBytes {
			_ = c.WriteMessage(protocol.Error(protocol.CodeBadRequest, "frame too large"))
			return
		}
		data, err := io.ReadAll(io.LimitReader(reader, s.cfg.MaxFrameBytes))
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		s.dispatcher.Dispatch(c, data)
	}
}

// Shutdown stops the heartbeat, closes every connection and waits for the
// read loops to exit or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
	s.mu.Unlock()

	for _, c := range s.hub.All() {
		s.hub.Remove(c)
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("ws: shutdown timed out"), ctx.Err())
	}
}
