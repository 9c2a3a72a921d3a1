// Package realtime is the WebSocket session endpoint of battle rooms.
//
// A client connects to /ws?roomId=<key>. Each inbound frame is decoded into a protocol
// command and applied to the room; rejected commands are dropped without closing the session.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/errors"
	"github.com/victornm/codeduel/internal/protocol"
	"github.com/victornm/codeduel/internal/room"
	"github.com/victornm/codeduel/internal/telemetry"
)

const defaultSendBuffer = 64

// Checker decides whether a submitted solution is correct. It must not fail.
type Checker interface {
	Check(ctx context.Context, code, language string, tests []domain.TestCase) bool
}

type Config struct {
	Coordinator *room.Coordinator
	// Checker, when set, replaces the client's isCorrect claim on submitSolution.
	Checker    Checker
	SendBuffer int

	// ReadTimeout closes a session that sends nothing, not even a pong, for this long.
	ReadTimeout time.Duration
}

type Handler struct {
	co       *room.Coordinator
	checker  Checker
	buffer   int
	timeout  time.Duration
	upgrader websocket.Upgrader

	sessions sync.Map
}

func NewHandler(c Config) *Handler {
	h := &Handler{
		co:      c.Coordinator,
		checker: c.Checker,
		buffer:  c.SendBuffer,
		timeout: c.ReadTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if h.buffer <= 0 {
		h.buffer = defaultSendBuffer
	}
	if h.timeout <= 0 {
		h.timeout = readTimeout
	}

	return h
}

// ServeWS upgrades the request and serves the session until the connection closes.
func (h *Handler) ServeWS(c *gin.Context) {
	key := c.Query("roomId")
	if key == "" {
		e := errors.Convert(room.ErrMissingRoomKey)
		c.JSON(e.HTTPStatusCode(), e)
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		e := errors.Internal(fmt.Errorf("generate session id: %w", err))
		c.JSON(e.HTTPStatusCode(), e)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c, "realtime: upgrade failed", "room", key, "error", err)
		return
	}
	defer conn.Close()

	ctx := context.WithoutCancel(c.Request.Context())
	s := newSession(id.String(), conn, h.buffer, h.timeout)

	if _, err := h.co.Connect(ctx, key, s); err != nil {
		slog.ErrorContext(ctx, "realtime: connect failed", "room", key, "error", err)
		return
	}

	h.sessions.Store(s.id, s)
	telemetry.SessionsActive.Inc()
	slog.InfoContext(ctx, "realtime: session opened", "room", key, "session", s.id)

	defer func() {
		h.sessions.Delete(s.id)
		telemetry.SessionsActive.Dec()
		h.co.Disconnect(ctx, key, s)
		slog.InfoContext(ctx, "realtime: session closed", "room", key, "session", s.id)
	}()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readPump(func(frame []byte) {
			h.handleFrame(ctx, key, s, frame)
		})
	}()

	s.writePump()

	// Unblock the reader, and make sure no command is applied after Disconnect.
	conn.Close()
	<-readDone
}

func (h *Handler) handleFrame(ctx context.Context, key string, s *session, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "realtime: handler panic",
				"room", key,
				"session", s.id,
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
	}()

	cmd, err := protocol.Decode(frame)
	if err != nil {
		slog.DebugContext(ctx, "realtime: dropped frame", "room", key, "session", s.id, "error", err)
		return
	}

	if sub, ok := cmd.(protocol.SubmitSolution); ok {
		cmd = h.verify(ctx, key, sub)
	}

	if err := h.co.Handle(ctx, key, s, cmd); err != nil {
		slog.DebugContext(ctx, "realtime: command rejected",
			"room", key,
			"session", s.id,
			"event", cmd.Event(),
			"error", err,
		)
	}
}

// verify runs the configured checker outside the room lock.
func (h *Handler) verify(ctx context.Context, key string, sub protocol.SubmitSolution) protocol.SubmitSolution {
	if h.checker == nil {
		return sub
	}

	var tests []domain.TestCase
	if ch, err := h.co.Challenge(key); err == nil && ch != nil {
		tests = ch.TestCases
	}

	sub.IsCorrect = h.checker.Check(ctx, sub.Code, sub.Language, tests)
	return sub
}

// Shutdown closes every open session.
func (h *Handler) Shutdown() {
	h.sessions.Range(func(_, v any) bool {
		v.(*session).close()
		return true
	})
}
