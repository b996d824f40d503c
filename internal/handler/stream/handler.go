package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/talkbox/backend/internal/model/chat"
	chatService "github.com/zhouzirui/talkbox/backend/internal/service/chat"
	"github.com/zhouzirui/talkbox/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler streams conversation events via Server-Sent Events.
type Handler struct {
	chatSvc   *chatService.Service
	heartbeat time.Duration
}

// New creates a stream handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc, heartbeat: heartbeatInterval}
}

// RegisterRoutes mounts the SSE route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel, err := h.chatSvc.Subscribe(sessionID)
	if err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cancel()

	state, err := h.chatSvc.State(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	slog.Info("sse stream opened", "session", sessionID)
	defer slog.Info("sse stream closed", "session", sessionID)

	if err := utils.SendSSEEvent(w, flusher, string(chat.EventState), chat.Event{
		Type:      chat.EventState,
		SessionID: sessionID,
		State:     state,
		At:        h.chatSvc.Now().UTC(),
	}); err != nil {
		return
	}

	h.pump(r.Context(), w, flusher, events)
}

// pump forwards events until the client leaves or the session ends.
func (h *Handler) pump(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan chat.Event) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "end", map[string]bool{"finished": true})
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				slog.Warn("sse write failed", "session", ev.SessionID, "error", err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
