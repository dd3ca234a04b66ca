package mcp

import "sync"

// SessionRegistry maps workflow IDs to the MCP session that last executed or
// scheduled them.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // workflowID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a workflow ID with a session ID, replacing any earlier
// session.
func (r *SessionRegistry) Register(workflowID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[workflowID] = sessionID
}

// SessionFor returns the session watching the given workflow.
func (r *SessionRegistry) SessionFor(workflowID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[workflowID]
	return sid, ok
}

// Remove deletes every workflow mapping held by the given session.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for wid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, wid)
		}
	}
}
