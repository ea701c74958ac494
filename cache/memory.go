// Package cache provides the TTL key-value stores backing fetch info records.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("cache is closed")

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore is a concurrency-safe in-process store with per-entry TTL.
// Expired entries read as absent; a cleanup goroutine, when enabled, drops
// them so keys written once and never read again do not accumulate.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]memoryItem
	now    func() time.Time
	closed bool

	cleanupEvery time.Duration
	stop         chan struct{}
	wg           sync.WaitGroup
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithCleanupInterval enables background removal of expired entries
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cleanupEvery > 0 {
		s.wg.Add(1)
		go s.cleanupLoop()
	}

	return s
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrClosed
	}

	item, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	if item.expired(s.now()) {
		delete(s.items, key)
		return nil, false, nil
	}

	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, true, nil
}

// Set replaces the value for key. A non-positive ttl never expires.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.items, key)
	return nil
}

// Purge removes expired entries and returns how many were dropped
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, item := range s.items {
		if item.expired(now) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close stops the cleanup goroutine. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Purge()
		}
	}
}
