// Package history stores per-session chat transcripts.
//
// Two implementations exist: a process-local in-memory store used when no
// database is configured, and a PostgreSQL-backed store for durable history.
// The gateway selects between them at startup; the rest of the system only
// sees the Store interface.
package history

import (
	"context"
	"sort"
	"sync"

	"github.com/voxkit/voxgate/pkg/types"
)

// Store is the abstraction over chat history persistence.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append records a message at the end of the session's transcript.
	Append(ctx context.Context, sessionID string, msg types.Message) error

	// Messages returns up to limit most recent messages for the session in
	// chronological order. limit <= 0 means no limit. A session with no
	// history yields an empty slice, not an error.
	Messages(ctx context.Context, sessionID string, limit int) ([]types.Message, error)

	// Clear removes the session's entire transcript.
	Clear(ctx context.Context, sessionID string) error

	// Sessions lists all session IDs that have recorded history.
	Sessions(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close()
}

// MemoryStore is a process-local Store. History does not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]types.Message
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]types.Message)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, sessionID string, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	return nil
}

// Messages implements Store.
func (s *MemoryStore) Messages(_ context.Context, sessionID string, limit int) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Sessions implements Store.
func (s *MemoryStore) Sessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store. It is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}
