package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victornm/codeduel/internal/protocol"
)

const (
	pingInterval = 15 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second

	maxFrameSize = 128 << 10
)

// session is one WebSocket connection bound to a room. Outbound messages are queued on send
// and written by a single writer goroutine.
type session struct {
	id          string
	conn        *websocket.Conn
	send        chan protocol.Message
	readTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id string, conn *websocket.Conn, buffer int, readTimeout time.Duration) *session {
	return &session{
		id:          id,
		conn:        conn,
		send:        make(chan protocol.Message, buffer),
		readTimeout: readTimeout,
		done:        make(chan struct{}),
	}
}

func (s *session) ID() string {
	return s.id
}

// Send queues msg without blocking. A session whose queue is full is closed.
func (s *session) Send(msg protocol.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- msg:
		return true
	default:
		slog.Warn("realtime: send buffer full, closing session", "session", s.id)
		s.close()
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// readPump passes every inbound data frame to handle until the connection fails or the
// session is closed.
func (s *session) readPump(handle func(frame []byte)) {
	defer s.close()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	for {
		typ, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("realtime: read failed", "session", s.id, "error", err)
			}
			return
		}

		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			handle(frame)
		}

		// Counted from when reading resumes, so a slow handler such as a verifier does not
		// use it up.
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
}

// writePump writes queued messages and keep-alive pings until the session is closed.
func (s *session) writePump() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				slog.Warn("realtime: write failed", "session", s.id, "event", msg.Event, "error", err)
				s.close()
				return
			}

		case <-t.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}

		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout),
			)
			return
		}
	}
}
