package server

import "sync"

// Registry tracks connected sessions by handle. Handles are the client
// identity on the wire, so duplicates are rejected at handshake time.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Store registers the session and reports whether the handle was free.
func (r *Registry) Store(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.sessions[sess.Handle]; taken {
		return false
	}
	r.sessions[sess.Handle] = sess
	return true
}

func (r *Registry) Get(handle string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[handle]
	return sess, ok
}

func (r *Registry) Delete(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, handle)
}

func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
