package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
	"github.com/custodia-labs/cashsync/internal/logger"
)

// KVStore implements driven.KVStore on the kv table. Expiry is stored as
// Unix nanoseconds; expired rows are invisible and removed by Sweep.
type KVStore struct {
	store *Store
	clock driven.Clock
}

var _ driven.KVStore = (*KVStore)(nil)

func (s *KVStore) expiry(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return s.clock.Now().Add(ttl).UnixNano()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *KVStore) get(ctx context.Context, q queryer, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRowContext(ctx, `
		SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, key, s.clock.Now().UnixNano()).Scan(&value)
	if err != nil {
		return nil, notFound(err, "reading key", domain.ErrNotFound)
	}
	return value, nil
}

func (s *KVStore) set(ctx context.Context, db execer, key string, value []byte, ttl time.Duration) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, s.expiry(ttl))
	if err != nil {
		return fmt.Errorf("writing key: %w", err)
	}
	return nil
}

// Get returns a live value.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, s.store.db, key)
}

// Set replaces a value.
func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.set(ctx, s.store.db, key, value, ttl)
}

// Merge reads, transforms and writes a value in one immediate transaction,
// so concurrent writers in any process are serialised.
func (s *KVStore) Merge(ctx context.Context, key string, fn driven.MergeFunc, ttl time.Duration) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.get(ctx, tx, key)
		exists := err == nil
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		return s.set(ctx, tx, key, next, ttl)
	})
}

// Expire resets the TTL of a live key.
func (s *KVStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE kv SET expires_at = ? WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, s.expiry(ttl), key, s.clock.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("expiring key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a key.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *KVStore) Sweep() int {
	res, err := s.store.db.Exec(`
		DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, s.clock.Now().UnixNano())
	if err != nil {
		logger.Warn("sqlite: sweeping expired keys: %v", err)
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}
