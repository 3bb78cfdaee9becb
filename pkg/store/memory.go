package store

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryList struct {
	values    [][]byte
	expiresAt time.Time
}

// MemoryStore is an in-process EphemeralStore. It backs tests and lets the
// call plane keep recording when Redis is unreachable (data is then lost on
// restart, which matches the store's ephemeral contract).
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]memoryEntry
	lists  map[string]memoryList
	nowFn  func() time.Time
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		lists: make(map[string]memoryList),
		nowFn: time.Now,
	}
}

func (s *MemoryStore) expired(deadline time.Time) bool {
	return !deadline.IsZero() && s.nowFn().After(deadline)
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.nowFn().Add(ttl)
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.items[key] = memoryEntry{value: cp, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.items[key]
	if !ok || s.expired(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) ListKeys(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	match := func(key string) {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for key, entry := range s.items {
		if !s.expired(entry.expiresAt) {
			match(key)
		}
	}
	for key, list := range s.lists {
		if !s.expired(list.expiresAt) {
			match(key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) AppendToList(_ context.Context, key string, value []byte, maxLen int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if s.expired(list.expiresAt) {
		list = memoryList{}
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	list.values = append(list.values, cp)
	if maxLen > 0 && int64(len(list.values)) > maxLen {
		list.values = list.values[int64(len(list.values))-maxLen:]
	}
	if ttl > 0 {
		list.expiresAt = s.deadline(ttl)
	}
	s.lists[key] = list
	return nil
}

func (s *MemoryStore) RangeList(_ context.Context, key string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.lists[key]
	if !ok || s.expired(list.expiresAt) {
		return nil, nil
	}
	return list.values, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
