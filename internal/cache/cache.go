package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a cached value with the time it was stored
type Entry[V any] struct {
	Value     V
	Timestamp time.Time
}

// Store is a concurrency-safe memo keyed by content hash. Entries never expire;
// the widget lives for a single page session.
type Store[V any] struct {
	m    sync.Map
	hits atomic.Int64
	size atomic.Int64
	max  int64

	mu sync.Mutex // serializes writers so size never passes max
}

// New creates a store holding at most max entries. Zero means unbounded.
func New[V any](max int) *Store[V] {
	return &Store[V]{max: int64(max)}
}

// Key hashes the given parts into a cache key. Parts are length-prefixed so
// ("ab", "c") and ("a", "bc") differ.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the cached value for key
func (s *Store[V]) Get(key string) (V, bool) {
	if val, ok := s.m.Load(key); ok {
		s.hits.Add(1)
		return val.(Entry[V]).Value, true
	}
	var zero V
	return zero, false
}

// Put stores value under key. Once the store is full, new keys are dropped.
func (s *Store[V]) Put(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, loaded := s.m.Load(key); !loaded && s.max > 0 && s.size.Load() >= s.max {
		return
	}
	if _, loaded := s.m.Swap(key, Entry[V]{Value: value, Timestamp: time.Now()}); !loaded {
		s.size.Add(1)
	}
}

// Len returns the number of cached entries
func (s *Store[V]) Len() int {
	return int(s.size.Load())
}

// Hits returns how many lookups were served from the cache
func (s *Store[V]) Hits() int64 {
	return s.hits.Load()
}
