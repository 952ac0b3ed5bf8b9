// Package dedup provides a bounded, TTL-based set of recently seen keys.
package dedup

import (
	"sync"
	"time"
)

const (
	defaultMaxEntries = 10000
	defaultTTL        = 10 * time.Minute
)

// Set remembers keys for a fixed TTL. Thread-safe via mutex.
type Set struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	maxEntries int
	ttl        time.Duration
	now        func() time.Time // injectable for testing
}

// Option configures the Set.
type Option func(*Set)

// WithMaxEntries sets the maximum number of tracked keys.
func WithMaxEntries(n int) Option {
	return func(s *Set) {
		s.maxEntries = n
	}
}

// WithTTL sets how long a key is remembered.
func WithTTL(ttl time.Duration) Option {
	return func(s *Set) {
		s.ttl = ttl
	}
}

// WithClock sets a custom time function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *Set) {
		s.now = fn
	}
}

// New creates a dedup set with the given options.
func New(opts ...Option) *Set {
	s := &Set{
		entries:    make(map[string]time.Time),
		maxEntries: defaultMaxEntries,
		ttl:        defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// First reports whether key is new, recording it if so. Check-and-add is
// a single atomic operation.
func (s *Set) First(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if t, ok := s.entries[key]; ok && now.Sub(t) < s.ttl {
		return false
	}

	if len(s.entries) >= s.maxEntries {
		s.evictLocked(now)
	}
	// Still full: drop the oldest key so memory stays bounded.
	if len(s.entries) >= s.maxEntries {
		s.dropOldestLocked()
	}

	s.entries[key] = now
	return true
}

// Forget removes key so the next First call accepts it again.
func (s *Set) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of tracked keys.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// EvictExpired removes expired keys. Safe to call periodically.
func (s *Set) EvictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(s.now())
}

// evictLocked removes expired entries. Must be called with mutex held.
func (s *Set) evictLocked(now time.Time) {
	for key, t := range s.entries {
		if now.Sub(t) >= s.ttl {
			delete(s.entries, key)
		}
	}
}

func (s *Set) dropOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, t := range s.entries {
		if oldestKey == "" || t.Before(oldest) {
			oldestKey, oldest = key, t
		}
	}
	delete(s.entries, oldestKey)
}
