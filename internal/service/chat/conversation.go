package chat

import (
	"sync"

	"github.com/zhouzirui/talkbox/backend/internal/model/chat"
)

// Conversation is the append-only, ordered message log of one session.
type Conversation struct {
	mu       sync.RWMutex
	messages []chat.Message
}

// NewConversation returns a conversation seeded with the given messages.
func NewConversation(seed []chat.Message) *Conversation {
	messages := make([]chat.Message, 0, len(seed)+16)
	messages = append(messages, seed...)
	return &Conversation{messages: messages}
}

// Append adds msg after every message already stored.
func (c *Conversation) Append(msg chat.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
}

// All returns the messages in insertion order.
func (c *Conversation) All() []chat.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copied := make([]chat.Message, len(c.messages))
	copy(copied, c.messages)
	return copied
}

// Len reports how many messages are stored.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
