package store

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps entries in process memory. With no capacity and no TTL
// it grows without bound; otherwise it evicts least recently used entries
// and expires entries older than the TTL.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
	lru     *expirable.LRU[string, string]
}

// NewMemoryStore creates an in-memory store. capacity <= 0 means unbounded,
// ttl <= 0 means entries never expire.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 && ttl <= 0 {
		return &MemoryStore{entries: make(map[string]string)}
	}
	if capacity < 0 {
		capacity = 0
	}
	if ttl < 0 {
		ttl = 0
	}
	// expirable.LRU treats size 0 as unbounded and ttl 0 as no expiry
	return &MemoryStore{lru: expirable.NewLRU[string, string](capacity, nil, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if m.lru != nil {
		v, ok := m.lru.Get(key)
		return v, ok, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	if m.lru != nil {
		m.lru.Add(key, value)
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

// Len reports the number of live entries.
func (m *MemoryStore) Len() int {
	if m.lru != nil {
		return m.lru.Len()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Keys returns a snapshot of the stored keys.
func (m *MemoryStore) Keys() []string {
	if m.lru != nil {
		return m.lru.Keys()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}
