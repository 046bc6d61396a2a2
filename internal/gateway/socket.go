// ABOUTME: Websocket live surface: join/leave/typing/read frames in, conversation events out
// ABOUTME: One reader goroutine dispatches frames; one writer goroutine owns all socket writes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/realtime"
)

const (
	frameTimeout = 5 * time.Second
	replyBuffer  = 16
)

// Frame types
const (
	FrameJoin      = "join"
	FrameLeave     = "leave"
	FrameTyping    = "typing"
	FrameRead      = "read"
	FrameConnected = "connected"
	FrameJoined    = "joined"
	FrameLeft      = "left"
	FrameMessage   = "message"
	FrameError     = "error"
)

// InboundFrame is a client-to-server websocket frame.
type InboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// OutboundFrame is a server-to-client websocket frame.
type OutboundFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ConnectedData is sent once after the upgrade.
type ConnectedData struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// AckData acknowledges join and leave.
type AckData struct {
	ConversationID string `json:"conversationId"`
}

// TypingData is the payload of a typing event.
type TypingData struct {
	ConversationID string `json:"conversationId"`
	User           string `json:"user"`
	IsTyping       bool   `json:"isTyping"`
}

// ReadData is the payload of a read event.
type ReadData struct {
	ConversationID string    `json:"conversationId"`
	Reader         string    `json:"reader"`
	Count          int64     `json:"count"`
	ReadAt         time.Time `json:"readAt"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// eventFrame converts a router event to its wire frame.
func eventFrame(ev *realtime.Event) (OutboundFrame, bool) {
	switch ev.Type {
	case realtime.EventMessage:
		if ev.Message == nil {
			return OutboundFrame{}, false
		}
		return OutboundFrame{Type: FrameMessage, Data: toMessageResponse(ev.Message)}, true
	case realtime.EventTyping:
		return OutboundFrame{Type: FrameTyping, Data: TypingData{
			ConversationID: ev.ConversationID,
			User:           ev.UserID,
			IsTyping:       ev.IsTyping,
		}}, true
	case realtime.EventRead:
		return OutboundFrame{Type: FrameRead, Data: ReadData{
			ConversationID: ev.ConversationID,
			Reader:         ev.UserID,
			Count:          ev.Count,
			ReadAt:         ev.At,
		}}, true
	default:
		return OutboundFrame{}, false
	}
}

// socketConn is one upgraded connection bound to a registry session.
type socketConn struct {
	ws      *websocket.Conn
	session *realtime.Session
	replies chan OutboundFrame
	closed  chan struct{}
	once    sync.Once

	pingInterval time.Duration
	writeWait    time.Duration
	logger       *slog.Logger
}

// reply queues a direct response to this client. It gives up once the writer
// has stopped.
func (c *socketConn) reply(frame OutboundFrame) {
	select {
	case c.replies <- frame:
	case <-c.closed:
	case <-c.session.Done():
	}
}

func (c *socketConn) replyError(code, message string) {
	c.reply(OutboundFrame{Type: FrameError, Data: ErrorData{Code: code, Error: message}})
}

func (c *socketConn) stop() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *socketConn) write(frame OutboundFrame) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(frame)
}

// writeLoop owns every write on the socket.
func (c *socketConn) writeLoop() {
	defer c.stop()

	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.closed:
			return
		case <-c.session.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(c.writeWait))
			return
		case frame := <-c.replies:
			if err := c.write(frame); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case ev := <-c.session.Events():
			frame, ok := eventFrame(ev)
			if !ok {
				continue
			}
			if err := c.write(frame); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				c.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// handleSocket handles GET /ws. The caller is already authenticated.
func (g *Gateway) handleSocket(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sessionID := uuid.New().String()
	session, err := g.registry.Register(sessionID, caller.UserID)
	if err != nil {
		g.logger.Error("failed to register session", "error", err)
		_ = ws.Close()
		return
	}

	cfg := g.config.Realtime
	conn := &socketConn{
		ws:           ws,
		session:      session,
		replies:      make(chan OutboundFrame, replyBuffer),
		closed:       make(chan struct{}),
		pingInterval: cfg.PingInterval,
		writeWait:    cfg.WriteWait,
		logger:       g.logger.With("session_id", sessionID, "user_id", caller.UserID),
	}
	if conn.writeWait <= 0 {
		conn.writeWait = 10 * time.Second
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writeLoop()
	}()

	defer func() {
		g.registry.Forget(sessionID)
		conn.stop()
		<-writerDone
		conn.logger.Info("websocket disconnected")
	}()

	conn.logger.Info("websocket connected")
	conn.reply(OutboundFrame{Type: FrameConnected, Data: ConnectedData{SessionID: sessionID, UserID: caller.UserID}})

	if cfg.MaxFrameBytes > 0 {
		ws.SetReadLimit(cfg.MaxFrameBytes)
	}
	if cfg.PongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				conn.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			conn.replyError("bad_request", "invalid payload")
			continue
		}
		g.dispatchFrame(r.Context(), conn, caller.UserID, frame)
	}
}

// dispatchFrame applies one client frame. The acting user is always the
// authenticated session user.
func (g *Gateway) dispatchFrame(ctx context.Context, conn *socketConn, userID string, frame InboundFrame) {
	if frame.Type != FrameJoin && frame.Type != FrameLeave && frame.Type != FrameTyping && frame.Type != FrameRead {
		conn.replyError("unsupported_type", "unknown frame type")
		return
	}
	if frame.ConversationID == "" {
		conn.replyError("bad_request", "conversationId is required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	sessionID := conn.session.ID

	switch frame.Type {
	case FrameJoin:
		if _, err := g.conversations.Authorize(ctx, frame.ConversationID, userID); err != nil {
			g.replyServiceError(conn, err)
			return
		}
		if err := g.registry.Join(sessionID, frame.ConversationID); err != nil {
			g.replyServiceError(conn, err)
			return
		}
		conn.reply(OutboundFrame{Type: FrameJoined, Data: AckData{ConversationID: frame.ConversationID}})

	case FrameLeave:
		if err := g.registry.Leave(sessionID, frame.ConversationID); err != nil {
			g.replyServiceError(conn, err)
			return
		}
		conn.reply(OutboundFrame{Type: FrameLeft, Data: AckData{ConversationID: frame.ConversationID}})

	case FrameTyping:
		if !g.registry.Joined(sessionID, frame.ConversationID) {
			conn.replyError("not_joined", "join the conversation before sending typing updates")
			return
		}
		g.router.PublishTyping(frame.ConversationID, userID, frame.IsTyping)

	case FrameRead:
		if _, err := g.conversations.MarkRead(ctx, frame.ConversationID, userID); err != nil {
			g.replyServiceError(conn, err)
		}
	}
}

func (g *Gateway) replyServiceError(conn *socketConn, err error) {
	status, code, msg := classifyError(err)
	if status >= http.StatusInternalServerError {
		conn.logger.Error("frame failed", "error", err)
	}
	conn.replyError(code, msg)
}
