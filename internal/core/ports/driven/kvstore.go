package driven

import (
	"context"
	"time"
)

// MergeFunc computes the new value of a key from its current one.
// exists is false when the key is absent or expired.
type MergeFunc func(current []byte, exists bool) ([]byte, error)

// KVStore is a shared, TTL-capable key-value store. Every process instance
// reaches the same data, so progress written by one is pollable from another.
type KVStore interface {
	// Get returns a live value or domain.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces a value and resets its TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Merge atomically reads, transforms and writes a value, resetting its TTL.
	Merge(ctx context.Context, key string, fn MergeFunc, ttl time.Duration) error

	// Expire resets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error
}
