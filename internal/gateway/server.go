// Package gateway exposes the device managers over a WebSocket endpoint.
// Inbound envelopes are {type, event, params}; outbound envelopes are
// {event, id, status, message, params}. One reader and one writer
// goroutine per session, a bounded outbound queue with progress
// coalescing, and a fixed routing table from (type, event) to manager
// calls.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/auth"
	"github.com/starbridge/observatoryd/internal/errs"
)

// Options tunes the WebSocket server.
type Options struct {
	// MaxConnections caps concurrent sessions. Default 10.
	MaxConnections int
	// QueueLimit bounds each session's outbound queue. Default 64.
	QueueLimit int
	// CallTimeout bounds synchronous manager calls made on behalf of a
	// request. Default 30s.
	CallTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 10
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = 64
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
}

// Server upgrades authenticated requests and services sessions.
type Server struct {
	hub         *Hub
	auth        auth.Provider
	routes      map[routeKey]route
	upgrader    websocket.Upgrader
	maxConns    int
	queueLimit  int
	callTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewServer builds the gateway around a hub and an auth provider.
func NewServer(hub *Hub, provider auth.Provider, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if provider == nil {
		provider = auth.Open{}
	}
	opts.withDefaults()
	s := &Server{
		hub:  hub,
		auth: provider,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		maxConns:    opts.MaxConnections,
		queueLimit:  opts.QueueLimit,
		callTimeout: opts.CallTimeout,
		logger:      logger.With(zap.String("component", "gateway")),
		sessions:    make(map[*session]struct{}),
	}
	s.routes = buildRoutes()
	return s
}

// ServeHTTP authenticates, upgrades and services one session. The call
// returns when the session ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Warn("upgrade refused", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(conn, user, s)
	if !s.add(sess) {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session limit reached")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		s.logger.Warn("session refused, limit reached", zap.String("remote", r.RemoteAddr))
		return
	}

	s.logger.Info("session opened",
		zap.String("session", sess.id),
		zap.String("user", user),
		zap.String("remote", r.RemoteAddr))
	sess.run()
}

func (s *Server) add(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) >= s.maxConns {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) remove(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// Close tears every session down and stops the managers' workers.
func (s *Server) Close(ctx context.Context) {
	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		sess.teardown()
	}
	s.hub.Shutdown(ctx)
}

func errInvalidJSON(err error) error {
	return errs.Wrap(errs.ProtocolError, err, "malformed message")
}

func errMissingRoute() error {
	return errs.New(errs.InvalidArgument, "message needs both type and event")
}
