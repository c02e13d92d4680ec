package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry maps browser session IDs to sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	defaults Settings
	deps     Deps
}

// NewRegistry creates a Registry. New sessions start with defaults.
func NewRegistry(defaults Settings, deps Deps) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		defaults: defaults,
		deps:     deps,
	}
}

// Get returns the session for id and marks it as used, so a concurrent
// Prune keeps it.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if ok {
		s.touch()
	}
	return s, ok
}

// GetOrCreate returns the session for id, creating one with a fresh ID when
// id is empty or unknown.
func (r *Registry) GetOrCreate(id string) *Session {
	if id != "" {
		if s, ok := r.Get(id); ok {
			return s
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	newID := uuid.NewString()
	s := New(newID, r.defaults, r.deps)
	r.sessions[newID] = s

	if r.deps.Logger != nil {
		r.deps.Logger.Debug("session created", zap.String("session_id", newID))
	}
	return s
}

// Delete removes a session.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetDefaults changes the settings of sessions created from now on.
func (r *Registry) SetDefaults(defaults Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = defaults
}

// Prune drops idle sessions that are not running a submission and returns
// how many were removed.
func (r *Registry) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.lastUpdated().Before(cutoff) && !s.Busy() {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
