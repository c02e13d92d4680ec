// Package history keeps the bounded, in-memory conversation shown in a chat.
package history

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/papercomputeco/supportdesk/pkg/llm"
)

// DefaultLimit is the number of turns retained by a chat session.
const DefaultLimit = 10

// NoContext is the context block used when there is no prior conversation.
const NoContext = "None"

// History is an append-only list of conversation turns truncated to the most
// recent Limit entries. Eviction always drops the oldest turns first, so the
// retained turns are the chronological suffix of everything appended.
type History struct {
	mu    sync.RWMutex
	limit int
	turns []llm.ConversationTurn
}

// New creates a History retaining at most limit turns.
// A non-positive limit uses DefaultLimit.
func New(limit int) *History {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &History{
		limit: limit,
		turns: make([]llm.ConversationTurn, 0, limit),
	}
}

// Limit returns the retention bound.
func (h *History) Limit() int {
	return h.limit
}

// Append adds turns in order and evicts the oldest entries beyond the limit.
func (h *History) Append(turns ...llm.ConversationTurn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, turns...)
	if over := len(h.turns) - h.limit; over > 0 {
		// Fresh backing array; evicted turns must not stay reachable.
		kept := make([]llm.ConversationTurn, h.limit)
		copy(kept, h.turns[over:])
		h.turns = kept
	}
}

// AddUser appends a user turn.
func (h *History) AddUser(text string) {
	h.Append(llm.ConversationTurn{Role: llm.RoleUser, Text: text})
}

// AddAssistant appends an assistant turn.
func (h *History) AddAssistant(text string) {
	h.Append(llm.ConversationTurn{Role: llm.RoleAssistant, Text: text})
}

// Turns returns a copy of the retained turns, oldest first.
func (h *History) Turns() []llm.ConversationTurn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]llm.ConversationTurn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of retained turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.turns)
}

// Reset drops every turn.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = h.turns[:0]
}

// ContextBlock renders turns as "Role: text" lines in the given order.
// An empty list renders as NoContext.
func ContextBlock(turns []llm.ConversationTurn) string {
	if len(turns) == 0 {
		return NoContext
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, roleLabel(t.Role)+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}

func roleLabel(role llm.Role) string {
	s := string(role)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
