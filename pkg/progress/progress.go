// Package progress records the human-readable workflow labels shown next to
// an answer. The log is presentation only and never drives control flow.
package progress

import (
	"sync"
	"time"
)

// DefaultLimit is the number of labels retained.
const DefaultLimit = 15

// Entry is one progress label.
type Entry struct {
	Label string    `json:"label"`
	At    time.Time `json:"at"`
}

// Log is a bounded, ordered list of progress entries. Once full, adding an
// entry evicts the oldest one.
type Log struct {
	mu      sync.Mutex
	limit   int
	entries []Entry

	// OnAdd, when set, is called with every added entry.
	OnAdd func(Entry)
}

// New creates a Log keeping at most limit entries.
// A non-positive limit uses DefaultLimit.
func New(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{limit: limit}
}

// Add appends a label.
func (l *Log) Add(label string) {
	e := Entry{Label: label, At: time.Now()}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
	onAdd := l.OnAdd
	l.mu.Unlock()

	if onAdd != nil {
		onAdd(e)
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Labels returns the retained labels, oldest first.
func (l *Log) Labels() []string {
	entries := l.Entries()
	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = e.Label
	}
	return labels
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
