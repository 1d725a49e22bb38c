package siteguard

import (
	"strings"
	"sync"
	"time"
)

// InMemoryTTLStore implements TTLStore with in-memory storage. Expired
// entries are dropped lazily on read and swept by Cleanup.
type InMemoryTTLStore struct {
	mu   sync.RWMutex
	data map[string]*memEntry
	now  func() time.Time
}

type memEntry struct {
	value   []byte
	count   int
	expires time.Time // zero means no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

func NewInMemoryTTLStore() *InMemoryTTLStore {
	return &InMemoryTTLStore{
		data: make(map[string]*memEntry),
		now:  time.Now,
	}
}

// SetClock replaces the store clock. Tests use this to step TTLs without
// sleeping.
func (s *InMemoryTTLStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *InMemoryTTLStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.data[key]
	if !exists {
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		delete(s.data, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *InMemoryTTLStore) Set(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &memEntry{value: value}
	if ttl > 0 {
		entry.expires = s.now().Add(ttl)
	}
	s.data[key] = entry
	return nil
}

func (s *InMemoryTTLStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *InMemoryTTLStore) Increment(key string, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	entry, exists := s.data[key]
	if !exists || entry.expired(now) {
		entry = &memEntry{count: 1}
		if ttl > 0 {
			entry.expires = now.Add(ttl)
		}
		s.data[key] = entry
		return 1, nil
	}
	entry.count++
	return entry.count, nil
}

func (s *InMemoryTTLStore) Scan(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var keys []string
	for key, entry := range s.data {
		if entry.expired(now) {
			delete(s.data, key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Cleanup sweeps expired entries. Callers run it periodically; reads do not
// depend on it.
func (s *InMemoryTTLStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, entry := range s.data {
		if entry.expired(now) {
			delete(s.data, key)
		}
	}
}

// StartCleanup launches a sweep loop with the given interval. The returned
// stop function terminates it.
func (s *InMemoryTTLStore) StartCleanup(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// HealthCheck performs a health check on the store.
func (s *InMemoryTTLStore) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_ = len(s.data)
	return nil
}
