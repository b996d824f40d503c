// Package telegram serves the chat bot to Telegram users. Each Telegram chat
// owns one session; the composing state shows up as the "typing" action.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"

	"github.com/zhouzirui/talkbox/backend/internal/model/chat"
	chatService "github.com/zhouzirui/talkbox/backend/internal/service/chat"
)

// Telegram clears a chat action after about five seconds.
const typingRefresh = 4 * time.Second

// API is the subset of *tgbotapi.BotAPI the bot relies on.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot bridges Telegram chats to chat sessions.
type Bot struct {
	api       API
	chatSvc   *chatService.Service
	profileID string

	mu       sync.Mutex
	sessions map[int64]*chatLink
	wg       sync.WaitGroup
}

type chatLink struct {
	sessionID string
	cancel    func()
}

// New creates a Telegram bridge answering with the given profile.
func New(api API, chatSvc *chatService.Service, profileID string) *Bot {
	return &Bot{
		api:       api,
		chatSvc:   chatSvc,
		profileID: profileID,
		sessions:  make(map[int64]*chatLink),
	}
}

// Run consumes updates until ctx is cancelled or the channel closes, then
// ends every session it opened.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate processes one Telegram update; anything but text is ignored.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	b.handleText(ctx, update.Message.Chat.ID, update.Message.Text)
}

func (b *Bot) handleText(ctx context.Context, chatID int64, text string) {
	restart := strings.HasPrefix(strings.TrimSpace(text), "/start")

	link, created, err := b.link(ctx, chatID, restart)
	if err != nil {
		slog.Error("telegram session setup failed", "chat", chatID, "error", err)
		return
	}
	if created {
		b.sendGreetings(ctx, chatID, link.sessionID)
	}
	if restart {
		return
	}

	_, err = b.chatSvc.Submit(ctx, link.sessionID, text)
	switch {
	case err == nil:
	case errors.Is(err, chatService.ErrEmptyMessage), errors.Is(err, chatService.ErrComposing):
		slog.Debug("telegram message ignored", "chat", chatID, "reason", err)
	default:
		slog.Error("telegram submit failed", "chat", chatID, "error", err)
	}
}

// link returns the session bound to chatID, opening one when missing or when
// restart is set.
func (b *Bot) link(ctx context.Context, chatID int64, restart bool) (*chatLink, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.sessions[chatID]; ok {
		if !restart {
			return existing, false, nil
		}
		b.unlinkLocked(ctx, chatID, existing)
	}

	session, err := b.chatSvc.CreateSession(ctx, b.profileID)
	if err != nil {
		return nil, false, err
	}
	events, cancel, err := b.chatSvc.Subscribe(session.ID)
	if err != nil {
		return nil, false, err
	}

	link := &chatLink{sessionID: session.ID, cancel: cancel}
	b.sessions[chatID] = link

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.forward(chatID, events)
	}()

	slog.Info("telegram chat linked", "chat", chatID, "session", session.ID)
	return link, true, nil
}

func (b *Bot) unlinkLocked(ctx context.Context, chatID int64, link *chatLink) {
	delete(b.sessions, chatID)
	link.cancel()
	if err := b.chatSvc.EndSession(ctx, link.sessionID); err != nil && !errors.Is(err, chatService.ErrSessionNotFound) {
		slog.Warn("telegram session end failed", "chat", chatID, "error", err)
	}
}

func (b *Bot) sendGreetings(ctx context.Context, chatID int64, sessionID string) {
	transcript, err := b.chatSvc.LoadTranscript(ctx, sessionID)
	if err != nil {
		slog.Error("telegram transcript load failed", "chat", chatID, "error", err)
		return
	}
	for _, msg := range transcript {
		if msg.IsBot() {
			b.sendText(chatID, msg.Text)
		}
	}
}

// forward relays bot replies and keeps the typing action alive while composing.
func (b *Bot) forward(chatID int64, events <-chan chat.Event) {
	var typing *time.Ticker
	var typingC <-chan time.Time
	stopTyping := func() {
		if typing != nil {
			typing.Stop()
			typing, typingC = nil, nil
		}
	}
	defer stopTyping()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch {
			case ev.Type == chat.EventState && ev.State == chat.StateComposing:
				b.sendTyping(chatID)
				if typing == nil {
					typing = time.NewTicker(typingRefresh)
					typingC = typing.C
				}
			case ev.Type == chat.EventState:
				stopTyping()
			case ev.Type == chat.EventMessage && ev.Message != nil && ev.Message.IsBot():
				b.sendText(chatID, ev.Message.Text)
			}
		case <-typingC:
			b.sendTyping(chatID)
		}
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		slog.Warn("telegram send failed", "chat", chatID, "error", err)
	}
}

func (b *Bot) sendTyping(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		slog.Warn("telegram chat action failed", "chat", chatID, "error", err)
	}
}

func (b *Bot) shutdown() {
	b.mu.Lock()
	for chatID, link := range b.sessions {
		b.unlinkLocked(context.Background(), chatID, link)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
