package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// Ensure KVStore implements the interface.
var _ driven.KVStore = (*KVStore)(nil)

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e kvEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// KVStore is an in-memory, TTL-capable implementation of driven.KVStore.
// Expired entries are invisible immediately and removed by Sweep.
type KVStore struct {
	mu      sync.Mutex
	clock   driven.Clock
	entries map[string]kvEntry
}

// NewKVStore creates a new in-memory key-value store.
func NewKVStore(clock driven.Clock) *KVStore {
	return &KVStore{
		clock:   clock,
		entries: make(map[string]kvEntry),
	}
}

func (s *KVStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}

// Get returns a live value.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.live(s.clock.Now()) {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(e.value), nil
}

// Set replaces a value.
func (s *KVStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = kvEntry{value: slices.Clone(value), expiresAt: s.expiry(ttl)}
	return nil
}

// Merge atomically transforms a value.
func (s *KVStore) Merge(_ context.Context, key string, fn driven.MergeFunc, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	exists := ok && e.live(s.clock.Now())
	var current []byte
	if exists {
		current = slices.Clone(e.value)
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	s.entries[key] = kvEntry{value: next, expiresAt: s.expiry(ttl)}
	return nil
}

// Expire resets the TTL of a live key.
func (s *KVStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.live(s.clock.Now()) {
		return domain.ErrNotFound
	}
	e.expiresAt = s.expiry(ttl)
	s.entries[key] = e
	return nil
}

// Delete removes a key.
func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *KVStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	removed := 0
	for k, e := range s.entries {
		if !e.live(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (s *KVStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
