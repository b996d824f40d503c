package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"

	"github.com/zhouzirui/talkbox/backend/internal/analysis/reply"
	"github.com/zhouzirui/talkbox/backend/internal/clock"
	"github.com/zhouzirui/talkbox/backend/internal/model/profile"
	"github.com/zhouzirui/talkbox/backend/internal/service/bot"
	chatservice "github.com/zhouzirui/talkbox/backend/internal/service/chat"
)

type fakeAPI struct {
	mu       sync.Mutex
	texts    []string
	actions  int
	outgoing chan string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{outgoing: make(chan string, 64)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.mu.Lock()
		f.texts = append(f.texts, msg.Text)
		f.mu.Unlock()
		f.outgoing <- "text:" + msg.Text
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if _, ok := c.(tgbotapi.ChatActionConfig); ok {
		f.mu.Lock()
		f.actions++
		f.mu.Unlock()
		f.outgoing <- "typing"
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-f.outgoing:
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func setup(t *testing.T) (*Bot, *fakeAPI, *chatservice.Service, *clock.Manual) {
	t.Helper()

	sched := clock.NewManual(time.Unix(0, 0))
	replier, err := bot.NewService(context.Background(), reply.New())
	if err != nil {
		t.Fatalf("bot.NewService err: %v", err)
	}
	store := profile.NewMemoryStore(profile.Seed())
	chatSvc := chatservice.NewService(store, replier, chatservice.WithScheduler(sched))
	api := newFakeAPI()
	b := New(api, chatSvc, profile.DefaultID)
	t.Cleanup(b.shutdown)
	return b, api, chatSvc, sched
}

func TestFirstMessageGreetsThenReplies(t *testing.T) {
	b, api, _, sched := setup(t)
	ctx := context.Background()
	greetings := profile.Seed()[0].Greetings

	b.handleText(ctx, 42, "what's the weather")

	api.expect(t, "text:"+greetings[0])
	api.expect(t, "text:"+greetings[1])
	api.expect(t, "typing")

	sched.Advance(2 * time.Second)
	api.expect(t, "text:"+reply.WeatherReply)
}

func TestStartCommandOnlyGreets(t *testing.T) {
	b, api, chatSvc, _ := setup(t)
	ctx := context.Background()

	b.handleText(ctx, 7, "/start")
	api.expect(t, "text:"+profile.Seed()[0].Greetings[0])
	api.expect(t, "text:"+profile.Seed()[0].Greetings[1])

	b.mu.Lock()
	link := b.sessions[7]
	b.mu.Unlock()

	transcript, err := chatSvc.LoadTranscript(ctx, link.sessionID)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(transcript) != 2 {
		t.Fatalf("/start must not be submitted as user text, got %d messages", len(transcript))
	}
}

func TestStartCommandReplacesSession(t *testing.T) {
	b, api, chatSvc, _ := setup(t)
	ctx := context.Background()

	b.handleText(ctx, 9, "/start")
	b.mu.Lock()
	first := b.sessions[9].sessionID
	b.mu.Unlock()

	b.handleText(ctx, 9, "/start")
	b.mu.Lock()
	second := b.sessions[9].sessionID
	b.mu.Unlock()

	if first == second {
		t.Fatal("expected a fresh session after /start")
	}
	if _, err := chatSvc.GetSession(ctx, first); err == nil {
		t.Fatal("previous session should have ended")
	}
	for i := 0; i < 4; i++ {
		<-api.outgoing
	}
}

func TestMessagesWhileComposingAreIgnored(t *testing.T) {
	b, api, chatSvc, sched := setup(t)
	ctx := context.Background()

	b.handleText(ctx, 5, "help")
	b.handleText(ctx, 5, "are you there?")
	b.handleText(ctx, 5, "   ")

	b.mu.Lock()
	sessionID := b.sessions[5].sessionID
	b.mu.Unlock()

	transcript, _ := chatSvc.LoadTranscript(ctx, sessionID)
	if len(transcript) != 3 {
		t.Fatalf("expected greetings plus one user message, got %d", len(transcript))
	}

	sched.Advance(2 * time.Second)
	api.expect(t, "text:"+profile.Seed()[0].Greetings[0])
	api.expect(t, "text:"+profile.Seed()[0].Greetings[1])
	api.expect(t, "typing")
	api.expect(t, "text:"+reply.HelpReply)
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	b, _, _, _ := setup(t)
	updates := make(chan tgbotapi.Update)
	close(updates)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the update channel closed")
	}
}

func TestHandleUpdateIgnoresNonMessages(t *testing.T) {
	b, _, _, _ := setup(t)
	b.HandleUpdate(context.Background(), tgbotapi.Update{})

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sessions) != 0 {
		t.Fatal("non-message update must not open a session")
	}
}
