package chat

import "time"

// Session captures one open chat widget and the profile answering in it.
type Session struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profileId"`
	CreatedAt time.Time `json:"createdAt"`
}

// State is the exchange state of a session.
type State string

const (
	// StateIdle accepts a new submission.
	StateIdle State = "idle"
	// StateComposing waits for the pending bot reply; submissions are ignored.
	StateComposing State = "composing"
)
