package chat

import "time"

// EventType distinguishes conversation events pushed to live subscribers.
type EventType string

const (
	EventMessage EventType = "message"
	EventState   EventType = "state"
)

// Event is published whenever a message is appended or the state changes.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Message   *Message  `json:"message,omitempty"`
	State     State     `json:"state"`
	At        time.Time `json:"at"`
}
