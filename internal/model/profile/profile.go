package profile

// DefaultID names the profile used when a session does not pick one.
const DefaultID = "assistant"

// Profile describes the bot shown in the chat header and the lines it opens with.
type Profile struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Status     string   `json:"status"`
	Greetings  []string `json:"greetings"`
	Disclaimer string   `json:"disclaimer,omitempty"`
}

// Seed provides the built-in assistant profile.
func Seed() []Profile {
	return []Profile{
		{
			ID:     DefaultID,
			Name:   "AI Assistant",
			Status: "Online",
			Greetings: []string{
				"Hello! I'm your AI assistant. How can I help you today?",
				"I can help you with questions, provide information, or just have a friendly conversation!",
			},
			Disclaimer: "AI responses may not always be accurate. Please verify important information.",
		},
	}
}

// WithGreetings returns a copy of p that opens with the supplied lines.
// An empty list keeps the existing greetings.
func (p Profile) WithGreetings(lines []string) Profile {
	if len(lines) == 0 {
		return p
	}
	p.Greetings = append([]string(nil), lines...)
	return p
}
