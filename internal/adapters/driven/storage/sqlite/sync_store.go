package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// syncStateStore implements driven.SyncStateStore. The checkpoint is kept
// as a JSON document next to the columns it is queried by.
type syncStateStore struct {
	store *Store
}

var _ driven.SyncStateStore = (*syncStateStore)(nil)

// Create stores a new state unless the tenant already has one in progress.
func (s *syncStateStore) Create(ctx context.Context, state domain.SyncState) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sync_states WHERE sync_id = ?", state.SyncID).Scan(&n); err != nil {
			return fmt.Errorf("checking sync state: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("sync %s already exists: %w", state.SyncID, domain.ErrConflict)
		}
		return saveSyncState(ctx, tx, state)
	})
}

// Save stores or updates sync state.
func (s *syncStateStore) Save(ctx context.Context, state domain.SyncState) error {
	return saveSyncState(ctx, s.store.db, state)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveSyncState(ctx context.Context, db execer, state domain.SyncState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling sync state: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO sync_states (sync_id, tenant_id, mode, status, state, started_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sync_id) DO UPDATE SET
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`, state.SyncID, state.TenantID, string(state.Mode), string(state.Status), string(stateJSON),
		formatTime(state.StartedAt), formatTime(state.UpdatedAt), formatNullableTime(state.CompletedAt))

	if isUniqueViolation(err) {
		return fmt.Errorf("tenant %s: %w", state.TenantID, domain.ErrSyncInProgress)
	}
	if err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return nil
}

// Get retrieves sync state by ID.
func (s *syncStateStore) Get(ctx context.Context, syncID string) (*domain.SyncState, error) {
	row := s.store.db.QueryRowContext(ctx, "SELECT state FROM sync_states WHERE sync_id = ?", syncID)
	return scanSyncState(row)
}

// Active returns the in-progress state of a tenant.
func (s *syncStateStore) Active(ctx context.Context, tenantID string) (*domain.SyncState, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT state FROM sync_states WHERE tenant_id = ? AND status = ?
	`, tenantID, string(domain.SyncInProgress))
	return scanSyncState(row)
}

// LatestSuccessful returns the most recently completed state matching modes.
func (s *syncStateStore) LatestSuccessful(
	ctx context.Context,
	tenantID string,
	modes ...domain.SyncMode,
) (*domain.SyncState, error) {
	query := "SELECT state FROM sync_states WHERE tenant_id = ? AND status = ?"
	args := []any{tenantID, string(domain.SyncCompleted)}
	if len(modes) > 0 {
		query += " AND mode IN (" + placeholders(len(modes)) + ")"
		for _, m := range modes {
			args = append(args, string(m))
		}
	}
	query += " ORDER BY completed_at DESC LIMIT 1"

	return scanSyncState(s.store.db.QueryRowContext(ctx, query, args...))
}

// ListByStatus returns states with the given status, oldest first.
func (s *syncStateStore) ListByStatus(ctx context.Context, status domain.SyncStatus) ([]domain.SyncState, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT state FROM sync_states WHERE status = ? ORDER BY started_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("querying sync states: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncState //nolint:prealloc // size unknown from query
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync states: %w", err)
	}
	return out, nil
}

// PruneCompleted deletes terminal states finished before cutoff. Each
// tenant's latest successful full or incremental state carries the next
// watermark and is kept.
func (s *syncStateStore) PruneCompleted(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		DELETE FROM sync_states
		WHERE status IN (?, ?)
		AND COALESCE(completed_at, updated_at) < ?
		AND sync_id NOT IN (
			SELECT sync_id FROM (
				SELECT sync_id, ROW_NUMBER() OVER (PARTITION BY tenant_id ORDER BY completed_at DESC) AS rn
				FROM sync_states
				WHERE status = ? AND mode IN (?, ?)
			) WHERE rn = 1
		)
	`, string(domain.SyncCompleted), string(domain.SyncFailed), formatTime(cutoff),
		string(domain.SyncCompleted), string(domain.SyncModeFull), string(domain.SyncModeIncremental))
	if err != nil {
		return 0, fmt.Errorf("pruning sync states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned sync states: %w", err)
	}
	return int(n), nil
}

// Delete removes sync state.
func (s *syncStateStore) Delete(ctx context.Context, syncID string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM sync_states WHERE sync_id = ?", syncID)
	if err != nil {
		return fmt.Errorf("deleting sync state: %w", err)
	}
	return nil
}

// scanSyncState scans a single state document.
func scanSyncState(row rowScanner) (*domain.SyncState, error) {
	var stateJSON string
	if err := row.Scan(&stateJSON); err != nil {
		return nil, notFound(err, "scanning sync state", domain.ErrNotFound)
	}
	var state domain.SyncState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("unmarshalling sync state: %w", err)
	}
	return &state, nil
}
