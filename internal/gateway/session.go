package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/protocol"
)

const (
	writeTimeout    = 10 * time.Second
	maxInboundBytes = 1 << 20
)

// session is one dashboard WebSocket connection. A reader goroutine parses
// and routes inbound envelopes; a single writer goroutine drains the
// outbound queue. The session registers itself as a sink on every manager,
// so asynchronous job events reach it without further wiring.
type session struct {
	id     string
	user   string
	conn   *websocket.Conn
	server *Server
	logger *zap.Logger

	out     *outQueue
	eventID atomic.Uint64

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, user string, server *Server) *session {
	s := &session{
		id:     uuid.NewString(),
		user:   user,
		conn:   conn,
		server: server,
		out:    newOutQueue(server.queueLimit),
	}
	s.logger = server.logger.With(zap.String("session", s.id), zap.String("user", user))
	return s
}

// Emit implements manager.Sink. The response is copied so each session
// stamps its own monotonic event id without racing other sinks.
func (s *session) Emit(resp *protocol.Response) {
	stamped := *resp
	stamped.ID = s.eventID.Add(1)
	s.out.push(&stamped)
}

// run services the connection until either side goes away.
func (s *session) run() {
	for _, dev := range s.server.hub.devices() {
		dev.AddSink(s)
	}
	defer s.teardown()

	go s.writeLoop()
	s.readLoop()
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxInboundBytes)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("connection dropped", zap.Error(err))
			}
			return
		}
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.Emit(protocol.Err("malformedMessage", errInvalidJSON(err)))
			continue
		}
		if req.Type == "" || req.Event == "" {
			s.Emit(protocol.Err("malformedMessage", errMissingRoute()))
			continue
		}
		s.Emit(s.server.dispatch(s, &req))
	}
}

func (s *session) writeLoop() {
	for {
		resp, ok := s.out.pop()
		if !ok {
			return
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteJSON(resp); err != nil {
			s.logger.Warn("write failed, closing session", zap.Error(err))
			s.teardown()
			return
		}
	}
}

// teardown releases device claims, aborts jobs this session owned and
// unregisters its sink. Connected devices are left connected.
func (s *session) teardown() {
	s.closeOnce.Do(func() {
		for _, dev := range s.server.hub.devices() {
			dev.RemoveSink(s)
		}
		s.server.hub.releaseAll(s)
		s.out.close()
		s.conn.Close()
		s.server.remove(s)
		s.logger.Info("session closed")
	})
}
