// Package reply picks the canned bot answer for a line of user input.
package reply

import (
	"math/rand/v2"
	"strings"
	"time"
)

// Rule maps a set of trigger words to a reply. Triggers match as
// case-insensitive substrings of the input.
type Rule struct {
	Name     string
	Triggers []string
	Reply    func(now time.Time) string
}

// Matches reports whether any trigger occurs in the lowered input.
func (r Rule) Matches(lowered string) bool {
	for _, trigger := range r.Triggers {
		if trigger == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

// Fixed replies of the built-in rules.
const (
	GreetingReply = "Hello! It's great to meet you. What would you like to talk about?"
	HelpReply     = "I'm here to help! You can ask me questions about various topics, get advice, or just have a conversation."
	WeatherReply  = "I don't have access to real-time weather data, but I'd recommend checking a weather app for current conditions!"
)

// TimeLayout renders the clock in the time rule.
const TimeLayout = "3:04:05 PM"

func fixed(text string) func(time.Time) string {
	return func(time.Time) string { return text }
}

// DefaultRules returns the built-in rules in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "greeting", Triggers: []string{"hello", "hi"}, Reply: fixed(GreetingReply)},
		{Name: "help", Triggers: []string{"help"}, Reply: fixed(HelpReply)},
		{Name: "weather", Triggers: []string{"weather"}, Reply: fixed(WeatherReply)},
		{Name: "time", Triggers: []string{"time"}, Reply: func(now time.Time) string {
			return "The current time is " + now.Format(TimeLayout) + "."
		}},
	}
}

// DefaultFallbacks returns the replies used when no rule matches.
func DefaultFallbacks() []string {
	return []string{
		"That's interesting! Tell me more about that.",
		"I understand. How can I help you with that?",
		"Thanks for sharing that with me!",
		"That's a great question. Let me think about that...",
		"I appreciate you asking. What else would you like to know?",
	}
}

// RandSource yields a uniform integer in [0, n).
type RandSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Selector chooses replies. It is safe for concurrent use as long as the
// injected RandSource is.
type Selector struct {
	rules     []Rule
	fallbacks []string
	rng       RandSource
	now       func() time.Time
}

// Option customises a Selector.
type Option func(*Selector)

// WithRules replaces the rule list. Order is priority order.
func WithRules(rules []Rule) Option {
	return func(s *Selector) {
		s.rules = append([]Rule(nil), rules...)
	}
}

// WithFallbacks replaces the fallback list. Blank entries are dropped and an
// empty result keeps the defaults.
func WithFallbacks(fallbacks []string) Option {
	return func(s *Selector) {
		cleaned := make([]string, 0, len(fallbacks))
		for _, f := range fallbacks {
			if strings.TrimSpace(f) != "" {
				cleaned = append(cleaned, f)
			}
		}
		if len(cleaned) > 0 {
			s.fallbacks = cleaned
		}
	}
}

// WithRand injects the random source used for fallback selection.
func WithRand(rng RandSource) Option {
	return func(s *Selector) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithClock injects the clock used by time-dependent rules.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Selector with the built-in rules and fallbacks unless overridden.
func New(opts ...Option) *Selector {
	s := &Selector{
		rules:     DefaultRules(),
		fallbacks: DefaultFallbacks(),
		rng:       globalRand{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the reply for input. Callers reject blank input beforehand.
func (s *Selector) Select(input string) string {
	lowered := strings.ToLower(input)
	for _, rule := range s.rules {
		if rule.Reply != nil && rule.Matches(lowered) {
			return rule.Reply(s.now())
		}
	}
	return s.fallbacks[s.rng.IntN(len(s.fallbacks))]
}

// Fallbacks returns a copy of the fallback list.
func (s *Selector) Fallbacks() []string {
	return append([]string(nil), s.fallbacks...)
}
