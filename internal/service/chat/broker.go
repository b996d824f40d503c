package chat

import (
	"log/slog"
	"sync"

	"github.com/zhouzirui/talkbox/backend/internal/model/chat"
)

const subscriberBuffer = 32

// broker fans conversation events out to live subscribers of one session.
type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan chat.Event
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan chat.Event)}
}

func (b *broker) subscribe() (<-chan chat.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan chat.Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// publish never blocks; a subscriber with a full buffer misses the event.
func (b *broker) publish(event chat.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			slog.Warn("dropping conversation event for slow subscriber", "session", event.SessionID, "subscriber", id, "type", event.Type)
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
