package chat

import "time"

// Origin identifies who authored a message.
type Origin string

const (
	OriginBot  Origin = "bot"
	OriginUser Origin = "user"
)

// Message is one immutable turn of a conversation.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Origin    Origin    `json:"origin"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsBot reports whether the bot authored the message.
func (m Message) IsBot() bool {
	return m.Origin == OriginBot
}
