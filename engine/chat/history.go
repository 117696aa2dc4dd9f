// Package chat ties history, retrieval, and completion together for one
// inbound message, and owns the per-session conversation log.
package chat

import "sync"

// Turn is one conversation turn.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Store is the session history abstraction. Implementations must be safe for
// concurrent use across distinct session keys.
type Store interface {
	// History returns a copy of the session's turns in append order.
	History(sessionID string) []Turn
	// Append adds turns to the end of the session's log, creating the
	// session on first use.
	Append(sessionID string, turns ...Turn)
	// Clear drops a session's log.
	Clear(sessionID string)
}

// MemoryStore keeps history in process memory. It is lost on restart; swap
// in a durable Store implementation for deployments that need persistence.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Turn)}
}

func (s *MemoryStore) History(sessionID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.sessions[sessionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

func (s *MemoryStore) Append(sessionID string, turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], turns...)
}

func (s *MemoryStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
