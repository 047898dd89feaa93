package respond

import (
	"sync"
	"time"
)

const (
	// DefaultMaxMessages bounds the conversation history kept per guild, the
	// system prompt excluded.
	DefaultMaxMessages = 20

	// DefaultMaxAge resets a conversation after this much inactivity.
	DefaultMaxAge = 30 * time.Minute
)

// Message is one turn of conversation history.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// ContextBuffer holds one guild's bounded conversation history. Safe for
// concurrent use.
type ContextBuffer struct {
	mu           sync.Mutex
	systemPrompt string
	maxMessages  int
	maxAge       time.Duration
	messages     []Message
	participants map[string]struct{}
	lastActivity time.Time

	now func() time.Time
}

// NewContextBuffer creates a buffer seeded with the character's system
// prompt. Non-positive limits select the defaults.
func NewContextBuffer(systemPrompt string, maxMessages int, maxAge time.Duration) *ContextBuffer {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &ContextBuffer{
		systemPrompt: systemPrompt,
		maxMessages:  maxMessages,
		maxAge:       maxAge,
		participants: make(map[string]struct{}),
		now:          time.Now,
	}
}

// AddUser appends a speaker's utterance, attributed by username.
func (b *ContextBuffer) AddUser(username, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touch()
	b.participants[username] = struct{}{}
	b.append(Message{Role: "user", Content: username + ": " + text})
}

// AddAssistant appends the bot's own reply.
func (b *ContextBuffer) AddAssistant(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touch()
	b.append(Message{Role: "assistant", Content: text})
}

// Messages returns a copy of the history with the system prompt first.
func (b *ContextBuffer) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touch()
	out := make([]Message, 0, len(b.messages)+1)
	if b.systemPrompt != "" {
		out = append(out, Message{Role: "system", Content: b.systemPrompt})
	}
	return append(out, b.messages...)
}

// Participants returns the usernames seen since the last reset.
func (b *ContextBuffer) Participants() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.participants))
	for p := range b.participants {
		out = append(out, p)
	}
	return out
}

// Reset drops the history and participants, keeping the system prompt.
func (b *ContextBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
	b.participants = make(map[string]struct{})
}

// touch expires a stale conversation and records activity. Callers hold mu.
func (b *ContextBuffer) touch() {
	now := b.now()
	if !b.lastActivity.IsZero() && now.Sub(b.lastActivity) > b.maxAge {
		b.messages = nil
		b.participants = make(map[string]struct{})
	}
	b.lastActivity = now
}

// append adds a message, evicting the oldest beyond the limit. Callers hold mu.
func (b *ContextBuffer) append(m Message) {
	b.messages = append(b.messages, m)
	if excess := len(b.messages) - b.maxMessages; excess > 0 {
		b.messages = append(b.messages[:0:0], b.messages[excess:]...)
	}
}
