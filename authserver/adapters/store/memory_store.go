package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/passport/authserver/ports"
)

// MemoryStore is an in-memory implementation of the ports.Store interface.
// Expired entries are dropped lazily on the next write.
type MemoryStore struct {
	invalidated map[string]time.Time
	now         func() time.Time
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.Store {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		invalidated: make(map[string]time.Time),
		now:         now,
	}
}

// InvalidateToken marks a token as invalidated for expiry and reports whether
// it already was
func (s *MemoryStore) InvalidateToken(_ context.Context, tokenID string, expiry time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, until := range s.invalidated {
		if !now.Before(until) {
			delete(s.invalidated, id)
		}
	}

	current, already := s.invalidated[tokenID]
	if until := now.Add(expiry); !already || until.After(current) {
		s.invalidated[tokenID] = until
	}

	return already, nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	until, ok := s.invalidated[tokenID]
	if !ok {
		return false, nil
	}

	return s.now().Before(until), nil
}
