package session

import (
	"context"
	"sync"
)

// Store keeps one Session per user identifier.
type Store interface {
	// Get returns the user's session, or a default one when none exists.
	Get(ctx context.Context, userID string) (Session, error)
	Set(ctx context.Context, userID string, s Session) error
	// Clear resets the user's session to the default.
	Clear(ctx context.Context, userID string) error
}

// Pinger is implemented by stores backed by an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryStore keeps sessions in process memory for the lifetime of the process.
// Entries never expire.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[userID], nil
}

func (m *MemoryStore) Set(_ context.Context, userID string, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = s
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

// Len reports how many users currently hold a non-default session.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
