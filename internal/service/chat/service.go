package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/talkbox/backend/internal/analysis/reply"
	"github.com/zhouzirui/talkbox/backend/internal/clock"
	"github.com/zhouzirui/talkbox/backend/internal/model/chat"
	"github.com/zhouzirui/talkbox/backend/internal/model/profile"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrProfileNotFound = errors.New("profile not found")
)

// Service owns the live sessions and their conversations.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	convs    map[string]*Exchange

	ctx      context.Context
	profiles profile.Store
	replier  Replier
	sched    clock.Scheduler
	delay    Delay
	rng      reply.RandSource
}

// Option customises a Service.
type Option func(*Service)

// WithScheduler replaces the wall clock, e.g. with clock.Manual in tests.
func WithScheduler(sched clock.Scheduler) Option {
	return func(s *Service) {
		if sched != nil {
			s.sched = sched
		}
	}
}

// WithDelay sets the typing delay range.
func WithDelay(delay Delay) Option {
	return func(s *Service) {
		s.delay = delay
	}
}

// WithRand injects the random source used to pick delays.
func WithRand(rng reply.RandSource) Option {
	return func(s *Service) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithContext sets the context handed to the replier; it outlives requests.
func WithContext(ctx context.Context) Option {
	return func(s *Service) {
		if ctx != nil {
			s.ctx = ctx
		}
	}
}

// NewService bootstraps the in-memory chat service.
func NewService(profiles profile.Store, replier Replier, opts ...Option) *Service {
	s := &Service{
		sessions: make(map[string]chat.Session),
		convs:    make(map[string]*Exchange),
		ctx:      context.Background(),
		profiles: profiles,
		replier:  replier,
		sched:    clock.Real(),
		delay:    DefaultDelay,
		rng:      defaultRand{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession opens a conversation seeded with the profile greetings. An
// empty profileID selects the default profile.
func (s *Service) CreateSession(_ context.Context, profileID string) (chat.Session, error) {
	if profileID == "" {
		profileID = profile.DefaultID
	}
	p, ok := s.profiles.FindByID(profileID)
	if !ok {
		return chat.Session{}, ErrProfileNotFound
	}

	now := s.sched.Now().UTC()
	session := chat.Session{
		ID:        uuid.NewString(),
		ProfileID: p.ID,
		CreatedAt: now,
	}

	seed := make([]chat.Message, 0, len(p.Greetings))
	for _, line := range p.Greetings {
		seed = append(seed, chat.Message{
			ID:        newMessageID(),
			SessionID: session.ID,
			Origin:    chat.OriginBot,
			Text:      line,
			CreatedAt: now,
		})
	}

	exchange := newExchange(s.ctx, session.ID, NewConversation(seed), s.replier, s.sched, s.delay, s.rng)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.convs[session.ID] = exchange
	s.mu.Unlock()

	slog.Info("chat session created", "session", session.ID, "profile", p.ID)
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// EndSession discards the session and its conversation.
func (s *Service) EndSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	exchange, ok := s.convs[sessionID]
	delete(s.convs, sessionID)
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	exchange.end()
	slog.Info("chat session ended", "session", sessionID)
	return nil
}

// LoadTranscript returns the session messages in order.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	exchange, err := s.exchange(sessionID)
	if err != nil {
		return nil, err
	}
	return exchange.conv.All(), nil
}

// Submit hands user text to the session exchange.
func (s *Service) Submit(_ context.Context, sessionID, text string) (chat.Message, error) {
	exchange, err := s.exchange(sessionID)
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := exchange.Submit(text)
	if errors.Is(err, ErrExchangeEnded) {
		return chat.Message{}, ErrSessionNotFound
	}
	return msg, err
}

// State reports whether the session is idle or composing.
func (s *Service) State(_ context.Context, sessionID string) (chat.State, error) {
	exchange, err := s.exchange(sessionID)
	if err != nil {
		return "", err
	}
	return exchange.State(), nil
}

// Subscribe streams the session events until cancel is called or the session
// ends, at which point the channel is closed.
func (s *Service) Subscribe(sessionID string) (<-chan chat.Event, func(), error) {
	exchange, err := s.exchange(sessionID)
	if err != nil {
		return nil, nil, err
	}
	events, cancel := exchange.events.subscribe()
	return events, cancel, nil
}

// Now exposes the service clock so transports stamp events consistently.
func (s *Service) Now() time.Time {
	return s.sched.Now()
}

func (s *Service) exchange(sessionID string) (*Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exchange, ok := s.convs[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return exchange, nil
}
