package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/ports"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of the Store interface.
// Expired entries are dropped lazily on read.
type MemoryStore struct {
	entries map[string]entry
	mu      sync.RWMutex
	nowF    func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.Store {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		nowF:    now,
	}
}

// Set stores a copy of value until ttl elapses
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	buf := make([]byte, len(value))
	copy(buf, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: buf, expiresAt: s.nowF().Add(ttl)}

	return nil
}

// Get retrieves a value by key
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrNotFound
	}

	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		// Only delete if nobody overwrote the entry meanwhile
		if cur, exists := s.entries[key]; exists && !cur.expiresAt.After(e.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, core.ErrNotFound
	}

	return e.value, nil
}

// GetDel retrieves a value and removes it under the same lock
func (s *MemoryStore) GetDel(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	delete(s.entries, key)

	if !e.expiresAt.After(s.nowF()) {
		return nil, core.ErrNotFound
	}
	return e.value, nil
}

// Delete removes keys; missing keys are ignored
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}

	return nil
}
