package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/talkbox/backend/internal/analysis/reply"
	"github.com/zhouzirui/talkbox/backend/internal/clock"
	"github.com/zhouzirui/talkbox/backend/internal/model/chat"
)

var (
	ErrEmptyMessage  = errors.New("message text is empty")
	ErrComposing     = errors.New("bot is still composing a reply")
	ErrExchangeEnded = errors.New("conversation has ended")
)

// failureReply stands in when the replier fails, so every exchange still
// ends with exactly one bot message.
const failureReply = "Sorry, I lost my train of thought. Could you say that again?"

// Replier produces the bot answer for input given the prior transcript.
type Replier interface {
	Reply(ctx context.Context, history []chat.Message, input string) (string, error)
}

// ReplierFunc adapts a plain function to Replier.
type ReplierFunc func(ctx context.Context, history []chat.Message, input string) (string, error)

// Reply calls f.
func (f ReplierFunc) Reply(ctx context.Context, history []chat.Message, input string) (string, error) {
	return f(ctx, history, input)
}

// Exchange drives the idle/composing cycle of a single conversation.
type Exchange struct {
	mu        sync.Mutex
	ctx       context.Context
	sessionID string
	conv      *Conversation
	state     chat.State
	timer     clock.Timer
	ended     bool

	replier Replier
	sched   clock.Scheduler
	delay   Delay
	rng     reply.RandSource
	events  *broker
}

func newExchange(ctx context.Context, sessionID string, conv *Conversation, replier Replier, sched clock.Scheduler, delay Delay, rng reply.RandSource) *Exchange {
	return &Exchange{
		ctx:       ctx,
		sessionID: sessionID,
		conv:      conv,
		state:     chat.StateIdle,
		replier:   replier,
		sched:     sched,
		delay:     delay,
		rng:       rng,
		events:    newBroker(),
	}
}

// State returns the current exchange state.
func (e *Exchange) State() chat.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Submit appends the user message as typed and schedules the bot reply.
// Blank text and submissions while composing are rejected without touching
// the conversation.
func (e *Exchange) Submit(text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		return chat.Message{}, ErrExchangeEnded
	}
	if e.state == chat.StateComposing {
		return chat.Message{}, ErrComposing
	}

	history := e.conv.All()
	msg := e.newMessage(chat.OriginUser, text)
	e.conv.Append(msg)
	e.publishMessage(msg)

	wait := e.delay.Pick(e.rng)
	e.state = chat.StateComposing
	e.timer = e.sched.AfterFunc(wait, func() {
		e.complete(history, text)
	})
	// Published once the reply is scheduled, so observers of the composing
	// state can rely on a pending timer.
	e.publishState()

	slog.Debug("exchange composing", "session", e.sessionID, "delay", wait)
	return msg, nil
}

func (e *Exchange) complete(history []chat.Message, input string) {
	text, err := e.replier.Reply(e.ctx, history, input)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Error("bot reply failed, using fallback", "session", e.sessionID, "error", err)
		text = failureReply
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		return
	}

	msg := e.newMessage(chat.OriginBot, text)
	e.conv.Append(msg)
	e.publishMessage(msg)

	e.timer = nil
	e.state = chat.StateIdle
	e.publishState()
}

// end tears the exchange down with its session; a pending reply is dropped.
func (e *Exchange) end() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		return
	}
	e.ended = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.events.close()
}

func (e *Exchange) newMessage(origin chat.Origin, text string) chat.Message {
	return chat.Message{
		ID:        newMessageID(),
		SessionID: e.sessionID,
		Origin:    origin,
		Text:      text,
		CreatedAt: e.sched.Now().UTC(),
	}
}

func (e *Exchange) publishMessage(msg chat.Message) {
	e.events.publish(chat.Event{
		Type:      chat.EventMessage,
		SessionID: e.sessionID,
		Message:   &msg,
		State:     e.state,
		At:        msg.CreatedAt,
	})
}

func (e *Exchange) publishState() {
	e.events.publish(chat.Event{
		Type:      chat.EventState,
		SessionID: e.sessionID,
		State:     e.state,
		At:        e.sched.Now().UTC(),
	})
}

// newMessageID returns a time-ordered identifier so ids sort in creation order.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
