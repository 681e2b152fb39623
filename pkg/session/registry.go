package session

import (
	"fmt"
	"sort"
	"sync"
)

// Registry tracks live sessions by ID. It is the only state shared between
// sessions; each session's reference table stays private to it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session. Duplicate IDs are rejected.
func (r *Registry) Add(sess *Session) error {
	if sess == nil || sess.ID() == "" {
		return fmt.Errorf("session with ID required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sess.ID()]; exists {
		return fmt.Errorf("session already exists: %s", sess.ID())
	}
	r.sessions[sess.ID()] = sess
	return nil
}

// Get returns a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove deletes a session from the registry and returns it, if present. The
// caller is responsible for closing it.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return sess, ok
}

// List returns the listing view of every live session, ordered by ID.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes and removes every session. Used during shutdown.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var lastErr error
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
