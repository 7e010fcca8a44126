package driving

import (
	"context"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// SyncService coordinates ledger synchronisation with the system of record.
type SyncService interface {
	// StartSync launches a background sync and returns its ID immediately.
	// Rejects with domain.ErrSyncInProgress when the tenant already has one.
	StartSync(ctx context.Context, tenantID string, mode domain.SyncMode, opts domain.SyncOptions) (string, error)

	// RunSync runs a sync to completion in the calling goroutine.
	RunSync(ctx context.Context, tenantID string, mode domain.SyncMode, opts domain.SyncOptions) (*domain.SyncResult, error)

	// ResumeSync restarts an interrupted or failed sync from its checkpoint.
	ResumeSync(ctx context.Context, syncID string) (string, error)

	// CancelSync asks a running sync to stop at the next page boundary.
	CancelSync(ctx context.Context, syncID string) error

	// GetProgress returns the live progress of a sync or domain.ErrNotFound.
	GetProgress(ctx context.Context, syncID string) (*domain.SyncProgress, error)

	// GetCheckpoint returns the persisted checkpoint of a sync.
	GetCheckpoint(ctx context.Context, syncID string) (*domain.Checkpoint, error)
}
