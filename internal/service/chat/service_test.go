package chat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/talkbox/backend/internal/analysis/reply"
	"github.com/zhouzirui/talkbox/backend/internal/clock"
	"github.com/zhouzirui/talkbox/backend/internal/model/chat"
	"github.com/zhouzirui/talkbox/backend/internal/model/profile"
	"github.com/zhouzirui/talkbox/backend/internal/service/bot"
	chatservice "github.com/zhouzirui/talkbox/backend/internal/service/chat"
)

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

var epoch = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...chatservice.Option) (*chatservice.Service, *clock.Manual) {
	t.Helper()

	sched := clock.NewManual(epoch)
	replier, err := bot.NewService(context.Background(), reply.New(reply.WithRand(fixedRand(0)), reply.WithClock(sched.Now)))
	if err != nil {
		t.Fatalf("bot.NewService err: %v", err)
	}

	base := []chatservice.Option{
		chatservice.WithScheduler(sched),
		chatservice.WithRand(fixedRand(0)),
	}
	svc := chatservice.NewService(profile.NewMemoryStore(profile.Seed()), replier, append(base, opts...)...)
	return svc, sched
}

func TestServiceGetSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.ID != session.ID {
		t.Fatalf("unexpected session ID: got %s want %s", got.ID, session.ID)
	}
	if got.ProfileID != profile.DefaultID {
		t.Fatalf("unexpected profile ID: got %s", got.ProfileID)
	}
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.GetSession(context.Background(), "missing"); !errors.Is(err, chatservice.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceCreateSessionUnknownProfile(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.CreateSession(context.Background(), "pirate"); !errors.Is(err, chatservice.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestServiceSeedsGreetings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, _ := svc.CreateSession(ctx, profile.DefaultID)
	transcript, err := svc.LoadTranscript(ctx, session.ID)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}

	greetings := profile.Seed()[0].Greetings
	if len(transcript) != len(greetings) {
		t.Fatalf("expected %d greetings, got %d", len(greetings), len(transcript))
	}
	for i, msg := range transcript {
		if !msg.IsBot() || msg.Text != greetings[i] {
			t.Fatalf("greeting %d mismatch: %+v", i, msg)
		}
	}

	state, _ := svc.State(ctx, session.ID)
	if state != chat.StateIdle {
		t.Fatalf("new session should be idle, got %s", state)
	}
}

func TestServiceExchangeAppendsUserThenBot(t *testing.T) {
	svc, sched := newTestService(t)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	userMsg, err := svc.Submit(ctx, session.ID, "hi there")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if userMsg.Origin != chat.OriginUser || userMsg.Text != "hi there" {
		t.Fatalf("unexpected user message: %+v", userMsg)
	}

	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	if len(transcript) != 3 {
		t.Fatalf("expected user message appended immediately, got %d messages", len(transcript))
	}
	if state, _ := svc.State(ctx, session.ID); state != chat.StateComposing {
		t.Fatalf("expected composing, got %s", state)
	}

	// fixedRand(0) picks the lower bound of the delay range.
	sched.Advance(999 * time.Millisecond)
	if transcript, _ = svc.LoadTranscript(ctx, session.ID); len(transcript) != 3 {
		t.Fatalf("reply arrived before the delay elapsed")
	}

	sched.Advance(time.Millisecond)
	transcript, _ = svc.LoadTranscript(ctx, session.ID)
	if len(transcript) != 4 {
		t.Fatalf("expected bot reply after delay, got %d messages", len(transcript))
	}
	last := transcript[3]
	if !last.IsBot() || last.Text != reply.GreetingReply {
		t.Fatalf("unexpected bot reply: %+v", last)
	}
	if state, _ := svc.State(ctx, session.ID); state != chat.StateIdle {
		t.Fatalf("expected idle after reply, got %s", state)
	}
	if !last.CreatedAt.Equal(epoch.Add(time.Second)) {
		t.Fatalf("reply timestamp should follow the virtual clock, got %v", last.CreatedAt)
	}
}

func TestServiceStoresTextAsTyped(t *testing.T) {
	svc, sched := newTestService(t)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	typed := "  Hi there,\n  what's the weather?  "
	userMsg, err := svc.Submit(ctx, session.ID, typed)
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if userMsg.Text != typed {
		t.Fatalf("returned message altered text: %q", userMsg.Text)
	}

	sched.Advance(chatservice.DefaultDelay.Max)
	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	if transcript[2].Text != typed {
		t.Fatalf("stored message altered text: %q", transcript[2].Text)
	}
	if transcript[3].Text != reply.GreetingReply {
		t.Fatalf("unexpected reply %q", transcript[3].Text)
	}
}

func TestServiceSubmitBlankIsNoop(t *testing.T) {
	svc, sched := newTestService(t)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	for _, input := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Submit(ctx, session.ID, input); !errors.Is(err, chatservice.ErrEmptyMessage) {
			t.Fatalf("Submit(%q) expected ErrEmptyMessage, got %v", input, err)
		}
	}

	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	if len(transcript) != 2 {
		t.Fatalf("blank submissions must not append, got %d messages", len(transcript))
	}
	if state, _ := svc.State(ctx, session.ID); state != chat.StateIdle {
		t.Fatalf("blank submission changed state to %s", state)
	}
	if sched.Pending() != 0 {
		t.Fatalf("blank submission scheduled a reply")
	}
}

func TestServiceSubmitWhileComposingIsNoop(t *testing.T) {
	svc, sched := newTestService(t)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	if _, err := svc.Submit(ctx, session.ID, "what's the weather"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if _, err := svc.Submit(ctx, session.ID, "hello?"); !errors.Is(err, chatservice.ErrComposing) {
		t.Fatalf("expected ErrComposing, got %v", err)
	}
	if sched.Pending() != 1 {
		t.Fatalf("expected exactly one outstanding reply, got %d", sched.Pending())
	}

	sched.Advance(2 * time.Second)

	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	if len(transcript) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(transcript))
	}
	if transcript[3].Text != reply.WeatherReply {
		t.Fatalf("unexpected reply: %q", transcript[3].Text)
	}

	// Accepted again once idle.
	if _, err := svc.Submit(ctx, session.ID, "thanks"); err != nil {
		t.Fatalf("Submit after reply err: %v", err)
	}
}

func TestServiceCountGrowsByTwoPerExchange(t *testing.T) {
	svc, sched := newTestService(t, chatservice.WithDelay(chatservice.Delay{Min: time.Second, Max: 2 * time.Second}))
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	inputs := []string{"hello", "I like turtles", "help", "what time is it"}
	for i, input := range inputs {
		if _, err := svc.Submit(ctx, session.ID, input); err != nil {
			t.Fatalf("Submit(%q) err: %v", input, err)
		}
		sched.Advance(2 * time.Second)

		transcript, _ := svc.LoadTranscript(ctx, session.ID)
		if want := 2 + 2*(i+1); len(transcript) != want {
			t.Fatalf("after %d exchanges expected %d messages, got %d", i+1, want, len(transcript))
		}
	}

	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	for i := 2; i < len(transcript); i += 2 {
		if transcript[i].Origin != chat.OriginUser || transcript[i+1].Origin != chat.OriginBot {
			t.Fatalf("order broken at %d: %s then %s", i, transcript[i].Origin, transcript[i+1].Origin)
		}
		if transcript[i].Text != inputs[(i-2)/2] {
			t.Fatalf("user message %d out of order: %q", i, transcript[i].Text)
		}
	}
	for i := 1; i < len(transcript); i++ {
		if transcript[i].ID <= transcript[i-1].ID {
			t.Fatalf("message ids are not increasing at %d", i)
		}
	}
}

func TestServiceFallbackReplyIsMember(t *testing.T) {
	sched := clock.NewManual(epoch)
	selector := reply.New()
	replier, err := bot.NewService(context.Background(), selector)
	if err != nil {
		t.Fatalf("bot.NewService err: %v", err)
	}
	svc := chatservice.NewService(profile.NewMemoryStore(profile.Seed()), replier, chatservice.WithScheduler(sched))
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	if _, err := svc.Submit(ctx, session.ID, "tell me about octopuses"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	sched.Advance(chatservice.DefaultDelay.Max)

	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	got := transcript[len(transcript)-1].Text
	for _, f := range selector.Fallbacks() {
		if got == f {
			return
		}
	}
	t.Fatalf("reply %q is not one of the fallbacks", got)
}

func TestServiceReplierFailureStillReplies(t *testing.T) {
	sched := clock.NewManual(epoch)
	failing := chatservice.ReplierFunc(func(context.Context, []chat.Message, string) (string, error) {
		return "", errors.New("boom")
	})
	svc := chatservice.NewService(profile.NewMemoryStore(profile.Seed()), failing, chatservice.WithScheduler(sched))
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	svc.Submit(ctx, session.ID, "anything")
	sched.Advance(chatservice.DefaultDelay.Max)

	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	if len(transcript) != 4 || !transcript[3].IsBot() || transcript[3].Text == "" {
		t.Fatalf("expected a bot reply despite replier failure, got %+v", transcript)
	}
	if state, _ := svc.State(ctx, session.ID); state != chat.StateIdle {
		t.Fatalf("expected idle, got %s", state)
	}
}

func TestServiceReplierSeesPriorHistory(t *testing.T) {
	sched := clock.NewManual(epoch)
	var gotHistory []chat.Message
	var gotInput string
	recorder := chatservice.ReplierFunc(func(_ context.Context, history []chat.Message, input string) (string, error) {
		gotHistory, gotInput = history, input
		return "ok", nil
	})
	svc := chatservice.NewService(profile.NewMemoryStore(profile.Seed()), recorder, chatservice.WithScheduler(sched))
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	svc.Submit(ctx, session.ID, "  padded input  ")
	sched.Advance(chatservice.DefaultDelay.Max)

	if gotInput != "  padded input  " {
		t.Fatalf("replier should get the input as typed, got %q", gotInput)
	}
	if len(gotHistory) != 2 {
		t.Fatalf("history should hold the messages before the submission, got %d", len(gotHistory))
	}
}

func TestServiceSubscribeReceivesEventsInOrder(t *testing.T) {
	svc, sched := newTestService(t)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	events, cancel, err := svc.Subscribe(session.ID)
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	defer cancel()

	svc.Submit(ctx, session.ID, "help")
	sched.Advance(2 * time.Second)

	want := []struct {
		typ   chat.EventType
		state chat.State
		from  chat.Origin
	}{
		{chat.EventMessage, chat.StateIdle, chat.OriginUser},
		{chat.EventState, chat.StateComposing, ""},
		{chat.EventMessage, chat.StateComposing, chat.OriginBot},
		{chat.EventState, chat.StateIdle, ""},
	}

	for i, w := range want {
		select {
		case ev := <-events:
			if ev.Type != w.typ || ev.State != w.state {
				t.Fatalf("event %d: got %s/%s want %s/%s", i, ev.Type, ev.State, w.typ, w.state)
			}
			if w.from != "" && (ev.Message == nil || ev.Message.Origin != w.from) {
				t.Fatalf("event %d: unexpected message %+v", i, ev.Message)
			}
		default:
			t.Fatalf("event %d missing", i)
		}
	}
}

func TestServiceEndSessionDropsPendingReply(t *testing.T) {
	svc, sched := newTestService(t)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	events, _, _ := svc.Subscribe(session.ID)
	svc.Submit(ctx, session.ID, "hi")

	if err := svc.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession err: %v", err)
	}
	if sched.Pending() != 0 {
		t.Fatalf("ending the session should stop the pending reply")
	}
	sched.Advance(time.Minute)

	for range events {
		// drain until the broker closes the channel
	}

	if _, err := svc.LoadTranscript(ctx, session.ID); !errors.Is(err, chatservice.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after end, got %v", err)
	}
	if err := svc.EndSession(ctx, session.ID); !errors.Is(err, chatservice.ErrSessionNotFound) {
		t.Fatalf("second EndSession should fail, got %v", err)
	}
}
