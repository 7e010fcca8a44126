package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// SyncStateStore persists sync checkpoints.
type SyncStateStore interface {
	// Create stores a new in-progress state. Fails with domain.ErrSyncInProgress
	// when the tenant already has one in progress.
	Create(ctx context.Context, state domain.SyncState) error

	// Save stores or updates a state.
	Save(ctx context.Context, state domain.SyncState) error

	// Get retrieves a state by sync ID. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, syncID string) (*domain.SyncState, error)

	// Active returns the in-progress state of a tenant, or domain.ErrNotFound.
	Active(ctx context.Context, tenantID string) (*domain.SyncState, error)

	// LatestSuccessful returns the most recently completed state of a tenant
	// whose mode is one of modes, or domain.ErrNotFound.
	LatestSuccessful(ctx context.Context, tenantID string, modes ...domain.SyncMode) (*domain.SyncState, error)

	// ListByStatus returns states with the given status.
	ListByStatus(ctx context.Context, status domain.SyncStatus) ([]domain.SyncState, error)

	// PruneCompleted deletes completed states that finished before cutoff,
	// keeping each tenant's latest successful full or incremental state.
	PruneCompleted(ctx context.Context, cutoff time.Time) (int, error)

	// Delete removes a state.
	Delete(ctx context.Context, syncID string) error
}
