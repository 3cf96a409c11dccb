package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with TTL support.
//
// Expired entries are dropped lazily on read and swept periodically by
// a background janitor. Suitable for single-node deployments and
// tests; state is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	stopJanitor chan struct{}
	stopOnce    sync.Once
	clock       func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory store and starts its
// expiry janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries:     make(map[string]memoryEntry),
		stopJanitor: make(chan struct{}),
		clock:       time.Now,
	}
	go s.janitor()
	return s
}

// Get retrieves the value for key, honoring expiry.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && s.clock().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Set stores value under key with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.clock().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Delete removes the key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Close stops the janitor. The store remains usable but no longer
// sweeps expired entries.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopJanitor) })
	return nil
}

// Len reports the number of live entries. Intended for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopJanitor:
			return
		case <-ticker.C:
			now := s.clock()
			s.mu.Lock()
			for key, entry := range s.entries {
				if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
