package drivers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// InMemoryStore implements session.Store using an in-memory map with
// per-key expiry. Intended for tests and single-process development.
type InMemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewInMemoryStore creates a new in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// WithClock replaces the time source used to evaluate expiry.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// lookup returns a live item. Expired items are dropped. Caller holds mu.
func (s *InMemoryStore) lookup(key string) (memoryItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !it.expiresAt.IsZero() && !s.now().Before(it.expiresAt) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return it, true
}

func (s *InMemoryStore) item(value string, ttl time.Duration) memoryItem {
	it := memoryItem{value: value}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}
	return it
}

// Get implements session.Store.
func (s *InMemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok {
		return "", false, nil
	}
	return it.value, true, nil
}

// Set implements session.Store.
func (s *InMemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = s.item(value, ttl)
	return nil
}

// SetNX implements session.Store.
func (s *InMemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lookup(key); exists {
		return false, nil
	}
	s.items[key] = s.item(value, ttl)
	return true, nil
}

// Delete implements session.Store.
func (s *InMemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

// DeleteIfValue implements session.Store.
func (s *InMemoryStore) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok || it.value != value {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// Keys implements session.Store. Keys are returned sorted.
func (s *InMemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.items {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := s.lookup(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements session.Store.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]memoryItem)
	return nil
}
