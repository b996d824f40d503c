package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/talkbox/backend/internal/model/chat"
	chatService "github.com/zhouzirui/talkbox/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler serves the live chat channel over WebSocket.
type Handler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
}

// New creates a WebSocket handler. allowOrigin decides which browser origins
// may connect; nil accepts all.
func New(chatSvc *chatService.Service, allowOrigin func(origin string) bool) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowOrigin == nil {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin(origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type textMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serialises writes; gorilla allows one concurrent writer only.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *conn) send(msg outgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.chatSvc.State(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	events, cancelSub, err := h.chatSvc.Subscribe(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	defer cancelSub()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer ws.Close()

	c := &conn{ws: ws, sessionID: sessionID}
	slog.Info("websocket connected", "session", sessionID)
	defer slog.Info("websocket disconnected", "session", sessionID)

	// The request context is not cancelled when a hijacked connection closes.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	if err := c.send(outgoingMessage{
		Type:      "connected",
		SessionID: sessionID,
		Data:      map[string]any{"state": state},
		Timestamp: time.Now().Unix(),
	}); err != nil {
		slog.Warn("websocket write connected failed", "session", sessionID, "error", err)
		return
	}

	go h.pingLoop(ctx, c)
	go h.forwardEvents(ctx, cancel, c, events)

	h.readLoop(ctx, c)
}

func (h *Handler) readLoop(ctx context.Context, c *conn) {
	for {
		var msg inboundMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "session", c.sessionID, "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		h.handleMessage(ctx, c, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *conn, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		var text textMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(c, "invalid text payload")
			return
		}
		h.submit(ctx, c, text.Text)
	case "ping":
		if err := c.send(outgoingMessage{Type: "pong", SessionID: c.sessionID, Timestamp: time.Now().Unix()}); err != nil {
			slog.Warn("websocket write pong failed", "session", c.sessionID, "error", err)
		}
	default:
		h.sendError(c, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) submit(ctx context.Context, c *conn, text string) {
	_, err := h.chatSvc.Submit(ctx, c.sessionID, text)
	switch {
	case err == nil:
	case errors.Is(err, chatService.ErrEmptyMessage), errors.Is(err, chatService.ErrComposing):
		// Ignored like a disabled send button; the client already knows the state.
		slog.Debug("websocket submission ignored", "session", c.sessionID, "reason", err)
	default:
		h.sendError(c, err.Error())
	}
}

func (h *Handler) forwardEvents(ctx context.Context, cancel context.CancelFunc, c *conn, events <-chan chat.Event) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if err := c.send(outgoingMessage{Type: "end", SessionID: c.sessionID, Timestamp: time.Now().Unix()}); err != nil {
					slog.Debug("websocket write end failed", "session", c.sessionID, "error", err)
				}
				c.mu.Lock()
				err := c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(writeTimeout))
				c.mu.Unlock()
				if err != nil {
					slog.Debug("websocket close frame failed", "session", c.sessionID, "error", err)
				}
				// Unblocks readLoop.
				c.ws.Close()
				return
			}
			if err := c.send(outgoingMessage{
				Type:      "event",
				SessionID: c.sessionID,
				Data:      ev,
				Timestamp: ev.At.Unix(),
			}); err != nil {
				slog.Warn("websocket write failed", "session", c.sessionID, "error", err)
				return
			}
		}
	}
}

func (h *Handler) sendError(c *conn, message string) {
	if err := c.send(outgoingMessage{
		Type:      "error",
		SessionID: c.sessionID,
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}); err != nil {
		slog.Warn("websocket write error failed", "session", c.sessionID, "error", err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
